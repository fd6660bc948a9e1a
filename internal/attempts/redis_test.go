package attempts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLogTest(t *testing.T) (*RedisLog, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisLog(rdb, "att", DefaultWindow), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRedisCountsUnionOnce(t *testing.T) {
	log, _, done := newRedisLogTest(t)
	defer done()
	ctx := context.Background()

	base := time.Now()
	log.now = func() time.Time { return base }

	// Two failures matching both email and address, one matching only the
	// address, one matching only the email.
	mustRecord(t, log, "admin@example.com", "203.0.113.5", false)
	mustRecord(t, log, "ADMIN@example.com", "203.0.113.5", false)
	mustRecord(t, log, "other@example.com", "203.0.113.5", false)
	mustRecord(t, log, "admin@example.com", "198.51.100.7", false)
	mustRecord(t, log, "admin@example.com", "203.0.113.5", true)

	n, err := log.CountFailures(ctx, "admin@example.com", "203.0.113.5", base.Add(-DefaultWindow))
	if err != nil {
		t.Fatalf("CountFailures: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 distinct failures, got %d", n)
	}

	n, err = log.CountFailures(ctx, "admin@example.com", "", base.Add(-DefaultWindow))
	if err != nil || n != 3 {
		t.Fatalf("expected 3 email failures, got %d err=%v", n, err)
	}
}

func TestRedisCountIgnoresAttemptsBeforeSince(t *testing.T) {
	log, _, done := newRedisLogTest(t)
	defer done()

	base := time.Now()
	log.now = func() time.Time { return base.Add(-16 * time.Minute) }
	mustRecord(t, log, "admin@example.com", "", false)
	log.now = func() time.Time { return base }
	mustRecord(t, log, "admin@example.com", "", false)

	n, err := log.CountFailures(context.Background(), "admin@example.com", "", base.Add(-DefaultWindow))
	if err != nil || n != 1 {
		t.Fatalf("expected only the recent failure, got %d err=%v", n, err)
	}
}

func TestRedisKeysExpireWithWindow(t *testing.T) {
	log, mr, done := newRedisLogTest(t)
	defer done()

	mustRecord(t, log, "admin@example.com", "203.0.113.5", false)
	if ttl := mr.TTL("{att}:email:admin@example.com"); ttl != DefaultWindow {
		t.Fatalf("expected email key TTL %s, got %s", DefaultWindow, ttl)
	}
	if ttl := mr.TTL("{att}:ip:203.0.113.5"); ttl != DefaultWindow {
		t.Fatalf("expected ip key TTL %s, got %s", DefaultWindow, ttl)
	}
	mr.FastForward(DefaultWindow + time.Second)
	if mr.Exists("{att}:email:admin@example.com") {
		t.Fatal("expected email key to expire")
	}
}

func TestRedisUnavailable(t *testing.T) {
	log, mr, done := newRedisLogTest(t)
	defer done()
	mr.Close()

	if err := log.Record(context.Background(), "a@b.c", "", false); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := log.CountFailures(context.Background(), "a@b.c", "", time.Now()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func mustRecord(t *testing.T, log *RedisLog, email, source string, success bool) {
	t.Helper()
	if err := log.Record(context.Background(), email, source, success); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
