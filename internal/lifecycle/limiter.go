package lifecycle

import (
	"context"
	"time"

	"voicegate/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter caps concurrently active calls using the atomic Lua counter
// in pkg/utils. The TTL bounds leaked slots if a process dies between
// acquire and release.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, key string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, key, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, key)
}
