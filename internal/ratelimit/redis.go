package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares attempt counters between server instances. The window
// starts at the first attempt: the key's TTL is set only when it has none.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter allows maxAttempts attempts per key within each window. Keys are
// stored under prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, maxAttempts int, w time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: maxAttempts, window: w}
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + k
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.key(key)
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("count attempt: %w", err)
	}
	return incr.Val() <= int64(l.max), nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}
