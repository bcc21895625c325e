// Package database is the transactional store over orders, order_status,
// outbox and inbox.
//
// Two access paths:
//   - Store methods serve plain reads (order lookup, current status, backlog
//     counts) with per-call timeouts.
//   - Store.Begin pins a session and returns a UnitOfWork whose repositories
//     run inside explicit transactions; see uow.go.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"order-service/internal/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// readTimeout caps how long a single plain read can hold a connection.
// Unit-of-work statements are not capped here; their lifetime is bounded by
// the caller's context.
const readTimeout = 5 * time.Second

// ErrDuplicateKey reports a unique-constraint collision on insert.
var ErrDuplicateKey = errors.New("database: duplicate key")

// Store wraps the connection pool.
type Store struct {
	Conn *sql.DB
}

// Connect opens and verifies a Postgres connection.
func Connect(dsn string) (*Store, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		return nil, err
	}
	slog.Info("postgres connected")
	return &Store{Conn: conn}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() error {
	return s.Conn.Close()
}

// Begin pins a dedicated session and returns a unit of work over it.
// The caller must Close the unit of work on all exit paths.
func (s *Store) Begin(ctx context.Context) (*UnitOfWork, error) {
	conn, err := s.Conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("database: acquire session: %w", err)
	}
	return newUnitOfWork(conn), nil
}

// GetOrderByID fetches a single order. Returns sql.ErrNoRows when the ID
// does not exist — callers must distinguish this from other errors to return
// the correct HTTP status code.
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var o models.Order
	err := s.Conn.QueryRowContext(ctx,
		`SELECT id, user_id, item_id, quantity, amount, idempotency_key, created_at, updated_at
		   FROM orders WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.UserID, &o.ItemID, &o.Quantity, &o.Amount, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// LatestStatus returns the current status of an order: the order_status row
// with the greatest created_at. Returns sql.ErrNoRows for an unknown order.
func (s *Store) LatestStatus(ctx context.Context, orderID uuid.UUID) (models.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var status models.Status
	err := s.Conn.QueryRowContext(ctx,
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

// PendingOutbox counts outbox rows still waiting for a dispatcher.
func (s *Store) PendingOutbox(ctx context.Context) (int64, error) {
	return s.countPending(ctx, `SELECT count(*) FROM outbox WHERE status = 'pending'`)
}

// PendingInbox counts inbox rows still waiting for the applier.
func (s *Store) PendingInbox(ctx context.Context) (int64, error) {
	return s.countPending(ctx, `SELECT count(*) FROM inbox WHERE status = 'pending'`)
}

func (s *Store) countPending(ctx context.Context, query string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var n int64
	if err := s.Conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
