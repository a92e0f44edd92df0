package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and a guard bound to it
func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisInflightGuard, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisInflightGuard(client, ttl), mr
}

func TestRedisTryLock_SecondCallerRejected(t *testing.T) {
	guard, mr := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	ok, err := guard.TryLock(ctx, "pay", "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("checkout:inflight:pay:sess-1"))

	ok, err = guard.TryLock(ctx, "pay", "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.TryLock(ctx, "pay", "sess-2")
	require.NoError(t, err)
	assert.True(t, ok, "other sessions are independent")
}

func TestRedisUnlock_ReleasesKey(t *testing.T) {
	guard, _ := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	_, err := guard.TryLock(ctx, "pay", "sess-1")
	require.NoError(t, err)
	require.NoError(t, guard.Unlock(ctx, "pay", "sess-1"))

	ok, err := guard.TryLock(ctx, "pay", "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisTryLock_ExpiresAfterTTL(t *testing.T) {
	guard, mr := setupTestRedis(t, 10*time.Second)
	ctx := context.Background()

	_, err := guard.TryLock(ctx, "pay", "sess-1")
	require.NoError(t, err)
	mr.FastForward(11 * time.Second)

	ok, err := guard.TryLock(ctx, "pay", "sess-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisTryLock_ServerDown(t *testing.T) {
	guard, mr := setupTestRedis(t, time.Minute)
	mr.Close()
	_, err := guard.TryLock(context.Background(), "pay", "sess-1")
	assert.Error(t, err)
}

func TestMemoryGuard(t *testing.T) {
	guard := NewMemoryInflightGuard(time.Minute)
	now := time.Unix(1000, 0)
	guard.clock = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := guard.TryLock(ctx, "pay", "s")
	assert.True(t, ok)
	ok, _ = guard.TryLock(ctx, "pay", "s")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = guard.TryLock(ctx, "pay", "s")
	assert.True(t, ok, "expired lock is reclaimable")

	require.NoError(t, guard.Unlock(ctx, "pay", "s"))
	ok, _ = guard.TryLock(ctx, "pay", "s")
	assert.True(t, ok)
}
