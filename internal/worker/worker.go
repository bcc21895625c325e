// Package worker hosts the long-running loops of the pipeline: the three
// outbox dispatchers (payments, notifications, shipping), the inbox applier,
// the broker-result consumer and the backlog sampler.
//
// Every loop follows the same shape: wake up, open a fresh unit of work,
// lease a batch of pending rows under FOR UPDATE SKIP LOCKED, handle them
// one by one with a commit per row, close the unit of work, sleep. Replicas
// of the same loop are safe against each other — SKIP LOCKED keeps a leased
// row invisible to a concurrent leaser, and every side effect carries an
// idempotency key so a re-send after a crash is absorbed downstream.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"order-service/internal/database"
	"order-service/internal/metrics"
	"order-service/internal/models"
)

// leaseBatch caps how many rows one loop iteration leases. A crash loses at
// most the in-flight row to re-leasing; the rest of the batch was either
// committed row by row or never left pending.
const leaseBatch = 100

// errRejected reports a downstream that answered, but not with success. The
// row stays pending and is retried on a later cycle.
var errRejected = errors.New("worker: downstream rejected the request")

// SendFunc performs the side effect for one leased outbox row.
type SendFunc func(ctx context.Context, rec models.OutboxRecord) error

// Dispatcher drains pending outbox rows of one event-type family into a side
// effect. Three specializations exist — payments, notifications, shipping —
// identical in structure and differing only in which rows they lease and
// which adapter they call.
type Dispatcher struct {
	name  string
	types []models.EventType
	store *database.Store
	send  SendFunc
	poll  time.Duration
}

// NewDispatcher builds a dispatcher over the given event types. name labels
// logs and metrics; poll is the idle sleep between drains.
func NewDispatcher(name string, types []models.EventType, store *database.Store, send SendFunc, poll time.Duration) *Dispatcher {
	return &Dispatcher{name: name, types: types, store: store, send: send, poll: poll}
}

// PaymentSender is the payments-adapter contract.
type PaymentSender interface {
	CreatePayment(ctx context.Context, payload models.PaymentRequestedPayload) (bool, error)
}

// NewPaymentsDispatcher drains payment.requested rows into the payments API.
func NewPaymentsDispatcher(store *database.Store, payments PaymentSender, poll time.Duration) *Dispatcher {
	send := func(ctx context.Context, rec models.OutboxRecord) error {
		var payload models.PaymentRequestedPayload
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return fmt.Errorf("worker: decode payment.requested payload: %w", err)
		}
		ok, err := payments.CreatePayment(ctx, payload)
		if err != nil {
			return err
		}
		if !ok {
			return errRejected
		}
		return nil
	}
	return NewDispatcher("outbox-payments", []models.EventType{models.EventPaymentRequested}, store, send, poll)
}

// NotificationSender is the notifications-adapter contract.
type NotificationSender interface {
	Send(ctx context.Context, payload models.NotificationPayload) (bool, error)
}

// NewNotificationsDispatcher drains the user-facing notification rows —
// order.created, order.paid, order.cancelled, order.shipped — into the
// notifications API.
func NewNotificationsDispatcher(store *database.Store, notifications NotificationSender, poll time.Duration) *Dispatcher {
	send := func(ctx context.Context, rec models.OutboxRecord) error {
		var payload models.NotificationPayload
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return fmt.Errorf("worker: decode notification payload: %w", err)
		}
		ok, err := notifications.Send(ctx, payload)
		if err != nil {
			return err
		}
		if !ok {
			return errRejected
		}
		return nil
	}
	return NewDispatcher("outbox-notifications", models.NotificationEventTypes, store, send, poll)
}

// ShippingPublisher is the broker-producer contract.
type ShippingPublisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// NewShippingDispatcher drains shipping.requested rows onto the broker
// topic, keyed by order ID so one order's messages share a partition.
func NewShippingDispatcher(store *database.Store, producer ShippingPublisher, poll time.Duration) *Dispatcher {
	send := func(ctx context.Context, rec models.OutboxRecord) error {
		var payload models.ShippingRequestedPayload
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return fmt.Errorf("worker: decode shipping.requested payload: %w", err)
		}
		return producer.Publish(ctx, payload.OrderID.String(), payload)
	}
	return NewDispatcher("outbox-shipping", []models.EventType{models.EventShippingRequested}, store, send, poll)
}

// Run drains once immediately, then on every poll tick, until ctx is
// cancelled. Infrastructure failures are logged and retried on the next
// cycle; they never kill the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started", "component", d.name, "poll", d.poll)

	for {
		d.drain(ctx)

		select {
		case <-ctx.Done():
			slog.Info("dispatcher shutting down", "component", d.name)
			return nil
		case <-time.After(d.poll):
		}
	}
}

// drain leases one batch and works through it with a commit per row. A send
// failure abandons only that row — it stays pending and is re-leased on a
// later cycle, by this dispatcher or a replica. A database failure abandons
// the rest of the batch; Close rolls the open transaction back so nothing is
// left half-marked.
func (d *Dispatcher) drain(ctx context.Context) {
	started := time.Now()

	uow, err := d.store.Begin(ctx)
	if err != nil {
		slog.Error("session acquire failed", "component", d.name, "error", err)
		return
	}
	defer uow.Close()

	records, err := uow.Outbox.Lease(ctx, d.types, leaseBatch)
	if err != nil {
		slog.Error("outbox lease failed", "component", d.name, "error", err)
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if err := d.send(ctx, rec); err != nil {
			slog.Error("dispatch failed",
				"component", d.name,
				"outbox_id", rec.ID,
				"event_type", rec.EventType,
				"error", err,
			)
			continue
		}
		if err := uow.Outbox.MarkSent(ctx, rec.ID); err != nil {
			slog.Error("mark sent failed", "component", d.name, "outbox_id", rec.ID, "error", err)
			return
		}
		if err := uow.Commit(); err != nil {
			slog.Error("commit failed", "component", d.name, "outbox_id", rec.ID, "error", err)
			return
		}
		metrics.OutboxDispatched.WithLabelValues(string(rec.EventType)).Inc()
	}

	if len(records) > 0 {
		metrics.DispatchDuration.WithLabelValues(d.name).Observe(time.Since(started).Seconds())
	}
}
