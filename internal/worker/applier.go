package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"order-service/internal/database"
	"order-service/internal/metrics"
	"order-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// OrderSearch is the projection contract the applier refreshes after a
// status advance.
type OrderSearch interface {
	UpsertOrder(ctx context.Context, order *models.Order, status models.Status) error
}

// Applier drains pending inbox rows into order_status advances. It is the
// only writer of the order state machine: the HTTP and broker entry points
// merely record events, the applier makes them visible as status rows.
type Applier struct {
	store  *database.Store
	search OrderSearch
	poll   time.Duration
}

// NewApplier builds the inbox applier. search may be nil to run without the
// projection.
func NewApplier(store *database.Store, search OrderSearch, poll time.Duration) *Applier {
	return &Applier{store: store, search: search, poll: poll}
}

// transitionFor maps an inbox event type to the order status it advances to.
func transitionFor(t models.EventType) (models.Status, bool) {
	switch t {
	case models.EventOrderPaid:
		return models.StatusPaid, true
	case models.EventOrderCancelled:
		return models.StatusCancelled, true
	case models.EventOrderShipped:
		return models.StatusShipped, true
	}
	return "", false
}

// Run drains once immediately, then on every poll tick, until ctx is
// cancelled.
func (a *Applier) Run(ctx context.Context) error {
	slog.Info("applier started", "component", "inbox-applier", "poll", a.poll)

	for {
		a.drain(ctx)

		select {
		case <-ctx.Done():
			slog.Info("applier shutting down", "component", "inbox-applier")
			return nil
		case <-time.After(a.poll):
		}
	}
}

// drain leases one batch of pending inbox rows and applies them with a
// commit per row. A database failure abandons the rest of the batch; the
// unapplied rows stay pending and are re-leased on a later cycle.
func (a *Applier) drain(ctx context.Context) {
	uow, err := a.store.Begin(ctx)
	if err != nil {
		slog.Error("session acquire failed", "component", "inbox-applier", "error", err)
		return
	}
	defer uow.Close()

	records, err := uow.Inbox.Lease(ctx, leaseBatch)
	if err != nil {
		slog.Error("inbox lease failed", "component", "inbox-applier", "error", err)
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if !a.apply(ctx, uow, rec) {
			return
		}
	}
}

// apply advances one inbox row. Returns false when the batch should be
// abandoned for this cycle.
func (a *Applier) apply(ctx context.Context, uow *database.UnitOfWork, rec models.InboxRecord) bool {
	status, known := transitionFor(rec.EventType)

	var target struct {
		OrderID uuid.UUID `json:"order_id"`
	}
	usable := known
	if usable {
		if err := json.Unmarshal(rec.Payload, &target); err != nil || target.OrderID == uuid.Nil {
			usable = false
		}
	}

	if !usable {
		// Poison row: it can never apply, and leaving it pending would
		// re-lease it on every cycle forever.
		slog.Warn("discarding unusable inbox row",
			"component", "inbox-applier",
			"inbox_id", rec.ID,
			"event_type", rec.EventType,
		)
		if err := uow.Inbox.MarkProcessed(ctx, rec.ID); err != nil {
			slog.Error("mark processed failed", "component", "inbox-applier", "inbox_id", rec.ID, "error", err)
			return false
		}
		if err := uow.Commit(); err != nil {
			slog.Error("commit failed", "component", "inbox-applier", "inbox_id", rec.ID, "error", err)
			return false
		}
		return true
	}

	if err := uow.Status.Append(ctx, target.OrderID, status); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			// The event references an order this database has never seen, so
			// the foreign key can never be satisfied. Discard it like any
			// other poison row — the failed insert aborted the transaction,
			// so roll back and mark the row in a fresh one.
			slog.Warn("discarding inbox row for unknown order",
				"component", "inbox-applier",
				"inbox_id", rec.ID,
				"order_id", target.OrderID,
			)
			if rbErr := uow.Rollback(); rbErr != nil {
				slog.Error("rollback failed", "component", "inbox-applier", "inbox_id", rec.ID, "error", rbErr)
				return false
			}
			if err := uow.Inbox.MarkProcessed(ctx, rec.ID); err != nil {
				slog.Error("mark processed failed", "component", "inbox-applier", "inbox_id", rec.ID, "error", err)
				return false
			}
			if err := uow.Commit(); err != nil {
				slog.Error("commit failed", "component", "inbox-applier", "inbox_id", rec.ID, "error", err)
				return false
			}
			return true
		}
		slog.Error("status append failed",
			"component", "inbox-applier",
			"inbox_id", rec.ID,
			"order_id", target.OrderID,
			"error", err,
		)
		return false
	}
	if err := uow.Inbox.MarkProcessed(ctx, rec.ID); err != nil {
		slog.Error("mark processed failed", "component", "inbox-applier", "inbox_id", rec.ID, "error", err)
		return false
	}
	if err := uow.Commit(); err != nil {
		slog.Error("commit failed", "component", "inbox-applier", "inbox_id", rec.ID, "error", err)
		return false
	}

	metrics.InboxApplied.WithLabelValues(string(rec.EventType)).Inc()
	slog.Info("order status advanced",
		"component", "inbox-applier",
		"order_id", target.OrderID,
		"status", status,
	)

	// Post-commit projection refresh; a failure means a stale search result,
	// repaired by the next advance.
	if a.search != nil {
		order, err := a.store.GetOrderByID(ctx, target.OrderID)
		if err != nil {
			slog.Warn("projection lookup failed", "component", "inbox-applier", "order_id", target.OrderID, "error", err)
			return true
		}
		if err := a.search.UpsertOrder(ctx, order, status); err != nil {
			slog.Warn("search upsert failed", "component", "inbox-applier", "order_id", target.OrderID, "error", err)
		}
	}
	return true
}
