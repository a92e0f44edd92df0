package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisInflightGuard implements InflightGuard with SET NX and a TTL so a
// crashed holder cannot block a session forever.
type RedisInflightGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisInflightGuard(rdb *redis.Client, ttl time.Duration) *RedisInflightGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisInflightGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisInflightGuard) TryLock(ctx context.Context, scope, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, lockKey(scope, key), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (g *RedisInflightGuard) Unlock(ctx context.Context, scope, key string) error {
	if err := g.rdb.Del(ctx, lockKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func lockKey(scope, key string) string {
	return fmt.Sprintf("checkout:inflight:%s:%s", scope, key)
}

var _ InflightGuard = (*RedisInflightGuard)(nil)
