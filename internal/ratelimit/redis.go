package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tenantgate/internal/types"
)

// incrScript increments the counter and starts the window on the first hit.
// It returns the count and the remaining TTL in milliseconds.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore is a Store shared by every instance pointing at the same Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps client. Keys are stored under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "tenantgate:rl:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisClient parses a redis:// URL into a client and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// IncrementAndCheck implements Store.
func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (types.RateLimitResult, error) {
	res, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Slice()
	if err != nil {
		return types.RateLimitResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "rate limit store unavailable", err)
	}
	if len(res) != 2 {
		return types.RateLimitResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "unexpected rate limit script reply", nil)
	}
	count, _ := res[0].(int64)
	ttl, _ := res[1].(int64)

	return result(int(count), limit, s.now().Add(time.Duration(ttl)*time.Millisecond)), nil
}
