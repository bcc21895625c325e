package database

import (
	"context"
	"encoding/json"
	"fmt"

	"order-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// OutboxRepo persists outbound events inside the surrounding unit of work.
type OutboxRepo struct {
	u *UnitOfWork
}

// Insert enqueues a pending outbox row. payload is JSON-encoded; pass a
// json.RawMessage to store bytes verbatim.
func (r *OutboxRepo) Insert(ctx context.Context, eventType models.EventType, payload any) error {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("database: encode outbox payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox (id, event_type, payload, status) VALUES ($1, $2, $3, 'pending')`,
		uuid.New(), eventType, body,
	)
	if err != nil {
		return fmt.Errorf("database: insert outbox: %w", err)
	}
	return nil
}

// Lease selects up to limit pending rows of the given event types under
// FOR UPDATE SKIP LOCKED. The rows stay locked until this unit of work
// commits or rolls back; concurrent leasers skip them.
func (r *OutboxRepo) Lease(ctx context.Context, eventTypes []models.EventType, limit int) ([]models.OutboxRecord, error) {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return nil, err
	}

	types := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		types[i] = string(t)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_type, payload, status, created_at, updated_at
		   FROM outbox
		  WHERE status = 'pending' AND event_type = ANY($1)
		  ORDER BY created_at
		  LIMIT $2
		    FOR UPDATE SKIP LOCKED`,
		pq.Array(types), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("database: lease outbox: %w", err)
	}
	defer rows.Close()

	var records []models.OutboxRecord
	for rows.Next() {
		var rec models.OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.Payload, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: scan outbox row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkSent advances a row pending→sent. The transition is one-way: a row
// already sent is left untouched.
func (r *OutboxRepo) MarkSent(ctx context.Context, id uuid.UUID) error {
	tx, err := r.u.txn(ctx)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE outbox SET status = 'sent', updated_at = now()
		  WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("database: mark outbox sent: %w", err)
	}
	return nil
}
