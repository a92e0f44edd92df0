// Package cache holds short-lived coordination state shared between replicas.
package cache

import "context"

// InflightGuard serializes slow operations per checkout session so that a
// double submit cannot create two orders or two payment sessions.
type InflightGuard interface {
	// TryLock returns false when the scope/key is already held.
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Unlock(ctx context.Context, scope, key string) error
}
