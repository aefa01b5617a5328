package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "vrl:"

// RedisLimiter enforces fixed windows with shared Redis counters, so limits
// hold across every process pointed at the same Redis. Each window is one
// key: INCR to consume, EXPIRE set by whichever caller lands the first
// increment, remaining TTL doubling as the retry-after hint.
type RedisLimiter struct {
	client redis.UniversalClient
	config Config
}

// NewRedisLimiter constructs a Redis-backed limiter with the given thresholds.
func NewRedisLimiter(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{client: client, config: cfg}
}

var _ Limiter = (*RedisLimiter)(nil)

// Allow atomically consumes one unit from the (scope, subject) window.
func (l *RedisLimiter) Allow(ctx context.Context, scope Scope, subject string) (Decision, error) {
	key := redisKeyPrefix + string(scope) + ":" + subject

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter unavailable: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, scope.Window()).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limiter unavailable: %w", err)
		}
	}

	if count > int64(l.config.Limit(scope)) {
		retry, err := l.client.TTL(ctx, key).Result()
		if err != nil || retry <= 0 {
			// TTL can be missing if the key expired between INCR and here;
			// fall back to a full window.
			retry = scope.Window()
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true}, nil
}
