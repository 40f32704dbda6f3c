package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reserveScript checks every bucket's sliding window and only records the
// send when all of them have room. Returns 0 when admitted, otherwise the
// milliseconds until the most constrained bucket frees a slot.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]
local wait = 0
for i, key in ipairs(KEYS) do
  local limit = tonumber(ARGV[3 + i])
  redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
  local count = redis.call('ZCARD', key)
  if count >= limit then
    local entries = redis.call('ZRANGE', key, count - limit, count - limit, 'WITHSCORES')
    local w = tonumber(entries[2]) + window - now
    if w > wait then wait = w end
  end
end
if wait > 0 then
  return wait
end
for _, key in ipairs(KEYS) do
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, window)
end
return 0
`)

// RedisStore shares rolling-hour accounting between worker instances.
type RedisStore struct {
	c *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{c: rdb}
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{c: c}
}

func (r *RedisStore) Close() error { return r.c.Close() }

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *RedisStore) Reserve(ctx context.Context, buckets []Bucket, now time.Time, window time.Duration) (bool, time.Duration, error) {
	keys := make([]string, 0, len(buckets))
	args := []any{now.UnixMilli(), window.Milliseconds(), uuid.NewString()}
	for _, b := range buckets {
		if b.Limit <= 0 {
			continue
		}
		keys = append(keys, b.Key)
		args = append(args, strconv.Itoa(b.Limit))
	}
	if len(keys) == 0 {
		return true, 0, nil
	}
	wait, err := reserveScript.Run(ctx, r.c, keys, args...).Int64()
	if err != nil {
		return false, 0, err
	}
	if wait > 0 {
		return false, time.Duration(wait) * time.Millisecond, nil
	}
	return true, 0, nil
}
