package attempts

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLog keeps failed attempts in per-email and per-address sorted sets
// scored by unix milliseconds. Successful attempts are not stored because
// the rate check never counts them. Keys expire one window after the last
// failure, so history beyond the window is not retained.
type RedisLog struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
	now    func() time.Time
}

// NewRedisLog returns a log that keeps failures for window.
func NewRedisLog(rdb redis.UniversalClient, prefix string, window time.Duration) *RedisLog {
	if prefix == "" {
		prefix = "att"
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLog{redis: rdb, prefix: prefix, window: window, now: time.Now}
}

// Both keys carry the {prefix} hash tag so Record's transaction is
// single-slot on Redis Cluster.
func (l *RedisLog) emailKey(email string) string {
	return "{" + l.prefix + "}:email:" + normalizeEmail(email)
}

func (l *RedisLog) sourceKey(source string) string {
	return "{" + l.prefix + "}:ip:" + source
}

// Record stores a failed attempt. Successes are accepted and dropped.
func (l *RedisLog) Record(ctx context.Context, email, source string, success bool) error {
	if success {
		return nil
	}

	now := l.now()
	member := redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()}
	cutoff := strconv.FormatInt(now.Add(-l.window).UnixMilli(), 10)

	keys := []string{l.emailKey(email)}
	if source != "" {
		keys = append(keys, l.sourceKey(source))
	}

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZAdd(ctx, key, member)
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
			pipe.Expire(ctx, key, l.window)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CountFailures counts distinct failures since the given time recorded
// against email or source. An attempt indexed under both is counted once.
func (l *RedisLog) CountFailures(ctx context.Context, email, source string, since time.Time) (int, error) {
	rng := &redis.ZRangeBy{Min: strconv.FormatInt(since.UnixMilli(), 10), Max: "+inf"}

	keys := []string{l.emailKey(email)}
	if source != "" {
		keys = append(keys, l.sourceKey(source))
	}

	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.ZRangeByScore(ctx, key, rng)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	seen := make(map[string]struct{})
	for _, cmd := range cmds {
		for _, id := range cmd.Val() {
			seen[id] = struct{}{}
		}
	}
	return len(seen), nil
}
