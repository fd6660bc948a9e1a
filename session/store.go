package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned for sessions that are missing or expired.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps every Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// DefaultTTL is the absolute session lifetime.
const DefaultTTL = 24 * time.Hour

const (
	promoteStatusNotFound int64 = 0
	promoteStatusOK       int64 = 1
	promoteStatusCorrupt  int64 = 2
)

// KEYS[1] record, KEYS[2] expiry index; ARGV[1] now ms, ARGV[2] session id.
// Offsets follow the layout documented in encoder.go.
const promoteScript = `
local function read_be64(s, i)
  local n = 0
  for k = 0, 7 do
    local b = string.byte(s, i + k)
    if not b then
      return nil
    end
    n = n * 256 + b
  end
  return n
end

local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

if string.byte(data, 1) ~= 1 then
  return {2}
end
local uid_len = string.byte(data, 2)
if not uid_len then
  return {2}
end
local flag_idx = 3 + uid_len
if #data ~= flag_idx + 16 then
  return {2}
end

local expires_at = read_be64(data, flag_idx + 9)
if not expires_at then
  return {2}
end
if expires_at <= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  redis.call("ZREM", KEYS[2], ARGV[2])
  return {0}
end

local flags = string.byte(data, flag_idx)
if flags % 2 == 1 then
  return {1, data}
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return {0}
end

local updated = string.sub(data, 1, flag_idx - 1) .. string.char(flags + 1) .. string.sub(data, flag_idx + 1)
redis.call("SET", KEYS[1], updated, "PX", ttl)
return {1, updated}
`

var promoteLua = redis.NewScript(promoteScript)

// Store keeps session records in Redis. Each record carries a Redis TTL
// equal to its remaining lifetime and is indexed in a sorted set scored by
// expiry so DeleteExpired can clean up without scanning the keyspace.
//
// Every key shares the hash tag {prefix}, so the multi-key script and
// transactions stay in one slot on Redis Cluster.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewStore returns a Store namespaced under prefix. A non-positive ttl
// selects DefaultTTL.
func NewStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{redis: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

// TTL reports the lifetime given to new sessions.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) key(id string) string {
	return "{" + s.prefix + "}:" + id
}

func (s *Store) indexKey() string {
	return "{" + s.prefix + "}:expiry"
}

func (s *Store) failureKey(id string) string {
	return "{" + s.prefix + "}:mfa-fail:" + id
}

// Create stores a new session for userID with a random id and an expiry of
// now plus the store TTL.
func (s *Store) Create(ctx context.Context, userID string, mfaVerified bool) (*Session, error) {
	now := s.now().Truncate(time.Millisecond)
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		MFAVerified: mfaVerified,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(sess.ExpiresAt.UnixMilli()), Member: sess.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sess, nil
}

// Get returns the session with id. Records past their expiry are reported
// as ErrNotFound even if Redis has not evicted them yet.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.ID = id

	if sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// SetMFAVerified atomically marks the session as having passed the second
// factor, keeping its remaining TTL. Promoting an already verified session
// is a no-op that returns the current record.
func (s *Store) SetMFAVerified(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	nowMS := strconv.FormatInt(s.now().UnixMilli(), 10)
	res, err := promoteLua.Run(ctx, s.redis, []string{s.key(id), s.indexKey()}, nowMS, id).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty script reply", ErrCorrupt)
	}

	status, _ := res[0].(int64)
	switch status {
	case promoteStatusNotFound:
		return nil, ErrNotFound
	case promoteStatusCorrupt:
		return nil, ErrCorrupt
	case promoteStatusOK:
	default:
		return nil, fmt.Errorf("%w: unexpected script status %d", ErrCorrupt, status)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("%w: missing record in script reply", ErrCorrupt)
	}
	raw, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected record type %T", ErrCorrupt, res[1])
	}

	sess, err := Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	sess.ID = id
	return sess, nil
}

// RecordMFAFailure counts one rejected code against the session and
// returns the running total. The counter never outlives the session TTL.
func (s *Store) RecordMFAFailure(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, ErrNotFound
	}

	var incr *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.failureKey(id))
		pipe.PExpire(ctx, s.failureKey(id), s.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(incr.Val()), nil
}

// Delete removes the session, its index entry and its failure counter.
// Deleting a missing session succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id), s.failureKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteExpired removes every indexed session whose expiry is at or before
// now and returns how many were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	upper := strconv.FormatInt(s.now().UnixMilli(), 10)
	ids, err := s.redis.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, 2*len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys = append(keys, s.key(id), s.failureKey(id))
		members[i] = id
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return len(ids), nil
}

// Active counts indexed sessions that have not yet expired.
func (s *Store) Active(ctx context.Context) (int64, error) {
	lower := "(" + strconv.FormatInt(s.now().UnixMilli(), 10)
	n, err := s.redis.ZCount(ctx, s.indexKey(), lower, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
