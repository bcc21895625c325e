package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UnitOfWork is a scoped transactional context over one pinned session.
//
// Repositories lazily begin a transaction on the first statement; Commit ends
// it and the next repository call begins a fresh transaction on the same
// session. That property is what lets the dispatcher and applier loops lease
// a batch under FOR UPDATE SKIP LOCKED and still commit once per row: the
// first commit releases the batch's row locks, and downstream idempotency
// keys absorb any re-send of the remainder.
//
// Close rolls back any open transaction and releases the session; it is safe
// on every exit path, including after Commit.
type UnitOfWork struct {
	conn *sql.Conn
	tx   *sql.Tx

	Orders *OrderRepo
	Status *StatusRepo
	Outbox *OutboxRepo
	Inbox  *InboxRepo
}

func newUnitOfWork(conn *sql.Conn) *UnitOfWork {
	u := &UnitOfWork{conn: conn}
	u.Orders = &OrderRepo{u: u}
	u.Status = &StatusRepo{u: u}
	u.Outbox = &OutboxRepo{u: u}
	u.Inbox = &InboxRepo{u: u}
	return u
}

// txn returns the open transaction, beginning one if none is open.
func (u *UnitOfWork) txn(ctx context.Context) (*sql.Tx, error) {
	if u.conn == nil {
		return nil, errors.New("database: unit of work is closed")
	}
	if u.tx == nil {
		tx, err := u.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("database: begin: %w", err)
		}
		u.tx = tx
	}
	return u.tx, nil
}

// Commit ends the current transaction. A no-op when nothing was written.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Commit()
	u.tx = nil
	if err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}
	return nil
}

// Rollback aborts the current transaction, if one is open.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("database: rollback: %w", err)
	}
	return nil
}

// Close rolls back any open transaction and releases the session.
func (u *UnitOfWork) Close() error {
	rbErr := u.Rollback()
	if u.conn == nil {
		return rbErr
	}
	err := u.conn.Close()
	u.conn = nil
	if rbErr != nil {
		return rbErr
	}
	return err
}
