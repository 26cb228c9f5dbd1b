package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares rate limits across server replicas using the GCRA
// implementation in redis_rate.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

var _ Limiter = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter creates a limiter on client. prefix namespaces the keys of
// one limit (e.g. "auth", "general") so limits do not share buckets.
func NewRedisRateLimiter(client *redis.Client, prefix string, cfg RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.Limit{Rate: cfg.RequestsPerMinute, Burst: cfg.BurstSize, Period: time.Minute},
		prefix:  prefix,
	}
}

// Take consumes one request for key. A Redis failure allows the request.
func (l *RedisRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+":"+key, l.limit)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("redis rate limit: %w", err)
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Limit returns the configured requests per minute
func (l *RedisRateLimiter) Limit() int {
	return l.limit.Rate
}

// Stop is a no-op; the Redis client is owned by the router.
func (l *RedisRateLimiter) Stop() {}
