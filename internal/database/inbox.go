package database

import (
	"context"
	"encoding/json"
	"fmt"

	"order-service/internal/models"

	"github.com/google/uuid"
)

// InboxRepo persists inbound events inside the surrounding unit of work.
type InboxRepo struct {
	u *UnitOfWork
}

// InsertIfAbsent records an inbound event keyed by the sender's idempotency
// key. A key collision is a no-op success — duplicate deliveries of the same
// external event land on the same row.
func (r *InboxRepo) InsertIfAbsent(ctx context.Context, eventType models.EventType, key uuid.UUID, payload any) error {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("database: encode inbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO inbox (id, event_type, payload, status, idempotency_key)
		 VALUES ($1, $2, $3, 'pending', $4)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		uuid.New(), eventType, body, key,
	)
	if err != nil {
		return fmt.Errorf("database: insert inbox: %w", err)
	}
	return nil
}

// GetByIdempotencyKey fetches the inbox record accepted under key, if any.
// Returns sql.ErrNoRows when the key is unseen.
func (r *InboxRepo) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*models.InboxRecord, error) {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return nil, err
	}

	var rec models.InboxRecord
	err = tx.QueryRowContext(ctx,
		`SELECT id, event_type, payload, status, idempotency_key, created_at, updated_at
		   FROM inbox WHERE idempotency_key = $1`,
		key,
	).Scan(&rec.ID, &rec.EventType, &rec.Payload, &rec.Status, &rec.IdempotencyKey, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Lease selects up to limit pending rows under FOR UPDATE SKIP LOCKED, with
// the same locking semantics as the outbox lease.
func (r *InboxRepo) Lease(ctx context.Context, limit int) ([]models.InboxRecord, error) {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_type, payload, status, idempotency_key, created_at, updated_at
		   FROM inbox
		  WHERE status = 'pending'
		  ORDER BY created_at
		  LIMIT $1
		    FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("database: lease inbox: %w", err)
	}
	defer rows.Close()

	var records []models.InboxRecord
	for rows.Next() {
		var rec models.InboxRecord
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.Payload, &rec.Status, &rec.IdempotencyKey, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: scan inbox row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkProcessed advances a row pending→processed. One-way, like MarkSent.
func (r *InboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE inbox SET status = 'processed', updated_at = now()
		  WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("database: mark inbox processed: %w", err)
	}
	return nil
}
