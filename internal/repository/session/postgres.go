package session

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"storefront-checkout/internal/domain"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Get(ctx context.Context, key string) (*Record, error) {
	const q = `
SELECT session_key, idempotency_key, order_id, order_total, item_count, reference, state, updated_at
FROM checkout_sessions
WHERE session_key = $1
`
	var rec Record
	var state string
	err := r.pool.QueryRow(ctx, q, key).Scan(
		&rec.Key,
		&rec.IdempotencyKey,
		&rec.OrderID,
		&rec.OrderTotal,
		&rec.ItemCount,
		&rec.Reference,
		&state,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	rec.State = domain.CheckoutState(state)
	return &rec, nil
}

func (r *postgresRepo) Save(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO checkout_sessions (session_key, idempotency_key, order_id, order_total, item_count, reference, state, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (session_key) DO UPDATE
SET idempotency_key = EXCLUDED.idempotency_key,
    order_id = EXCLUDED.order_id,
    order_total = EXCLUDED.order_total,
    item_count = EXCLUDED.item_count,
    reference = EXCLUDED.reference,
    state = EXCLUDED.state,
    updated_at = now()
`
	_, err := r.pool.Exec(ctx, q, rec.Key, rec.IdempotencyKey, rec.OrderID, rec.OrderTotal, rec.ItemCount, rec.Reference, string(rec.State))
	return err
}

func (r *postgresRepo) Delete(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM checkout_sessions WHERE session_key = $1`, key)
	return err
}
