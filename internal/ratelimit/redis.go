package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter sharing its counters through
// Redis, so limits hold across service instances.
type RedisLimiter struct {
	client   *redis.Client
	limit    int
	interval time.Duration
}

// NewRedisLimiter creates a limiter allowing limit requests per interval.
func NewRedisLimiter(client *redis.Client, limit int, interval time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, interval: interval}
}

// Allow increments the caller's window counter, setting the expiry on
// first use.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "ratelimit:" + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.interval).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(l.limit), nil
}
