package database

import (
	"context"
	"fmt"

	"order-service/internal/models"

	"github.com/google/uuid"
)

// StatusRepo appends order_status audit rows inside the surrounding unit of
// work. Rows are never updated; the current status is the latest row.
type StatusRepo struct {
	u *UnitOfWork
}

// Append records a state advance for the order.
func (r *StatusRepo) Append(ctx context.Context, orderID uuid.UUID, status models.Status) error {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO order_status (id, order_id, status) VALUES ($1, $2, $3)`,
		uuid.New(), orderID, status,
	)
	if err != nil {
		return fmt.Errorf("database: append order status: %w", err)
	}
	return nil
}

// Latest returns the current status of the order within this unit of work.
// Returns sql.ErrNoRows when the order has no status rows.
func (r *StatusRepo) Latest(ctx context.Context, orderID uuid.UUID) (models.Status, error) {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return "", err
	}

	var status models.Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM order_status
		  WHERE order_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT 1`,
		orderID,
	).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}
