// Package throttle is a Redis fixed-window request limiter for the public
// auth endpoints. It complements the attempt-log rate check, which only
// counts failed logins.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRedisUnavailable wraps Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows Limit requests per key per Window.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// New returns a Limiter. Keys are stored under prefix.
func New(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) *Limiter {
	if prefix == "" {
		prefix = "throttle"
	}
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{redis: rdb, prefix: prefix, limit: limit, window: window}
}

// Allow counts one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + ":" + key

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// Fixed window: the first hit starts the clock.
	if count == 1 {
		if err := l.redis.PExpire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	d := Decision{Limit: l.limit, Remaining: l.limit - int(count)}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if count <= int64(l.limit) {
		d.Allowed = true
		return d, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		// A key without expiry would block forever.
		_ = l.redis.PExpire(ctx, k, l.window).Err()
		ttl = l.window
	}
	d.RetryAfter = ttl
	return d, nil
}

// DenyFunc writes the response for a throttled request.
type DenyFunc func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)

// Middleware throttles requests by keyFn. Requests with an empty key and
// requests during a Redis outage pass through.
func Middleware(l *Limiter, keyFn func(*http.Request) string, deny DenyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("throttle unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int((d.RetryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				logger.Info("request throttled", zap.String("key", key), zap.String("path", r.URL.Path))
				deny(w, r, d.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
