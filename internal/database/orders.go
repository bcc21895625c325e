package database

import (
	"context"
	"errors"
	"fmt"

	"order-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// OrderRepo persists orders inside the surrounding unit of work.
type OrderRepo struct {
	u *UnitOfWork
}

// Create inserts a new order with a freshly assigned ID. Fails with
// ErrDuplicateKey when the idempotency key is already taken.
func (r *OrderRepo) Create(ctx context.Context, draft models.OrderDraft, amount decimal.Decimal) (*models.Order, error) {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return nil, err
	}

	o := models.Order{
		ID:             uuid.New(),
		UserID:         draft.UserID,
		ItemID:         draft.ItemID,
		Quantity:       draft.Quantity,
		Amount:         amount,
		IdempotencyKey: draft.IdempotencyKey,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (id, user_id, item_id, quantity, amount, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.ItemID, o.Quantity, o.Amount, o.IdempotencyKey,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("database: insert order: %w", err)
	}
	return &o, nil
}

// GetByIdempotencyKey fetches the order accepted under key, if any.
// Returns sql.ErrNoRows when the key is unseen.
func (r *OrderRepo) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*models.Order, error) {
	return r.get(ctx, `WHERE idempotency_key = $1`, key)
}

// GetByID fetches an order by its ID. Returns sql.ErrNoRows when absent.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *OrderRepo) get(ctx context.Context, where string, arg any) (*models.Order, error) {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return nil, err
	}

	var o models.Order
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, item_id, quantity, amount, idempotency_key, created_at, updated_at
		   FROM orders `+where,
		arg,
	).Scan(&o.ID, &o.UserID, &o.ItemID, &o.Quantity, &o.Amount, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
