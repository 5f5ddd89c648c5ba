package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrExpireScript increments the window counter and arms its expiry on the
// first hit, atomically.
var incrExpireScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisRateLimiter is a fixed-window counter shared by every API replica.
type RedisRateLimiter struct {
	rdb    *redis.Client
	max    int64
	window time.Duration
	prefix string
}

// NewRedisRateLimiter allows limit requests per key within each window.
func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		rdb:    rdb,
		max:    int64(limit),
		window: window,
		prefix: "rl:auth:",
	}
}

// Allow reports whether key is still within its window budget.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := incrExpireScript.Run(ctx, l.rdb, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= l.max, nil
}
