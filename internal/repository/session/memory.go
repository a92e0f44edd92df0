package session

import (
	"context"
	"sync"
	"time"

	"storefront-checkout/internal/domain"
)

type memoryRepo struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory keeps records in process memory. They do not survive a restart.
func NewMemory() Repository {
	return &memoryRepo{records: make(map[string]Record)}
}

func (r *memoryRepo) Get(_ context.Context, key string) (*Record, error) {
	r.mu.RLock()
	rec, ok := r.records[key]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *memoryRepo) Save(_ context.Context, rec Record) error {
	rec.UpdatedAt = time.Now().UTC()
	r.mu.Lock()
	r.records[rec.Key] = rec
	r.mu.Unlock()
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.records, key)
	r.mu.Unlock()
	return nil
}
