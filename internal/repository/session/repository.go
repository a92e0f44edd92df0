package session

import (
	"context"
	"time"

	"storefront-checkout/internal/domain"
)

// Record is the durable part of a checkout session, keyed by the client's session key.
// IdempotencyKey is minted per checkout and is saved before the order is created,
// so a record may exist with an empty OrderID.
type Record struct {
	Key            string
	IdempotencyKey string
	OrderID        string
	OrderTotal     int64
	ItemCount      int
	Reference      string
	State          domain.CheckoutState
	UpdatedAt      time.Time
}

type Repository interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, key string) error
}
