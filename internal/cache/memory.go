package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryInflightGuard is the single-replica InflightGuard.
type MemoryInflightGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryInflightGuard(ttl time.Duration) *MemoryInflightGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryInflightGuard{ttl: ttl, held: make(map[string]time.Time), clock: time.Now}
}

func (g *MemoryInflightGuard) TryLock(_ context.Context, scope, key string) (bool, error) {
	k := lockKey(scope, key)
	now := g.clock()
	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.held[k]; ok && now.Before(exp) {
		return false, nil
	}
	g.held[k] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryInflightGuard) Unlock(_ context.Context, scope, key string) error {
	g.mu.Lock()
	delete(g.held, lockKey(scope, key))
	g.mu.Unlock()
	return nil
}

var _ InflightGuard = (*MemoryInflightGuard)(nil)
