// Package service implements the transactional use cases of the order
// pipeline: create-order, the asynchronous payment callback, the shipping
// result, and the order read path.
//
// Every use case that mutates state runs inside a single unit of work, so an
// order change and the outbox rows it motivates commit together or not at
// all. Inbound events are deduplicated through the inbox idempotency key
// before any effect is applied.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"order-service/internal/database"
	"order-service/internal/metrics"
	"order-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Dependency interfaces
//
// Each interface captures exactly the methods this package needs.
// Callers (main, tests) inject the real implementations or fakes.
// ---------------------------------------------------------------------------

// Catalog is the stock lookup contract.
type Catalog interface {
	GetItemStock(ctx context.Context, itemID uuid.UUID) (*models.Item, error)
}

// OrderCache is the read-cache contract for the immutable order core.
type OrderCache interface {
	SetOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// OrderSearch is the search projection contract.
type OrderSearch interface {
	UpsertOrder(ctx context.Context, order *models.Order, status models.Status) error
}

// Service owns the use cases over the transactional store.
type Service struct {
	store   *database.Store
	catalog Catalog
	cache   OrderCache
	search  OrderSearch
}

// New wires the use cases. catalog is required by CreateOrder; cache and
// search are best-effort projections and may be nil — the broker-consumer
// process runs without either.
func New(store *database.Store, catalog Catalog, cache OrderCache, search OrderSearch) *Service {
	return &Service{store: store, catalog: catalog, cache: cache, search: search}
}

// ---------------------------------------------------------------------------
// Create order
// ---------------------------------------------------------------------------

// CreateOrder runs the create-order transaction:
//
//  1. A repeat of an already-accepted idempotency key returns
//     OrderAlreadyExistsError carrying the original order — no new writes.
//  2. The catalog is asked for the item; a missing item is ErrItemNotFound,
//     insufficient stock is ErrNotEnoughStock.
//  3. The order, its first status row (new) and two outbox rows
//     (payment.requested, order.created) are inserted in one commit.
//
// Any failure rolls back the whole transaction: no order ever exists without
// its outbox rows.
func (s *Service) CreateOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Close()

	prior, err := uow.Orders.GetByIdempotencyKey(ctx, draft.IdempotencyKey)
	if err == nil {
		return nil, s.alreadyExists(ctx, uow, prior)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	item, err := s.catalog.GetItemStock(ctx, draft.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	if item.AvailableQty < draft.Quantity {
		return nil, ErrNotEnoughStock
	}

	amount := item.Price.Mul(decimal.NewFromInt(int64(draft.Quantity)))

	order, err := uow.Orders.Create(ctx, draft, amount)
	if errors.Is(err, database.ErrDuplicateKey) {
		// Lost a race against a concurrent request with the same key. The
		// winner has committed by the time the unique index rejects us, so a
		// fresh transaction sees its order.
		if rbErr := uow.Rollback(); rbErr != nil {
			return nil, rbErr
		}
		prior, err := uow.Orders.GetByIdempotencyKey(ctx, draft.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		return nil, s.alreadyExists(ctx, uow, prior)
	}
	if err != nil {
		return nil, err
	}

	if err := uow.Status.Append(ctx, order.ID, models.StatusNew); err != nil {
		return nil, err
	}
	if err := uow.Outbox.Insert(ctx, models.EventPaymentRequested, models.PaymentRequestedPayload{
		OrderID:        order.ID,
		Amount:         order.Amount.StringFixed(2),
		IdempotencyKey: order.IdempotencyKey,
	}); err != nil {
		return nil, err
	}
	if err := uow.Outbox.Insert(ctx, models.EventOrderCreated, models.NotificationPayload{
		Message:        "Order created",
		IdempotencyKey: uuid.New(),
	}); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	metrics.OrdersCreated.Inc()
	slog.Info("order created",
		"component", "service",
		"order_id", order.ID,
		"user_id", order.UserID,
		"amount", order.Amount,
	)

	s.projectOrder(ctx, order, models.StatusNew)
	return order, nil
}

// alreadyExists builds the duplicate-create error, attaching the prior
// order's current status so the caller can answer with the original data.
func (s *Service) alreadyExists(ctx context.Context, uow *database.UnitOfWork, prior *models.Order) error {
	status, err := uow.Status.Latest(ctx, prior.ID)
	if err != nil {
		return err
	}
	return &OrderAlreadyExistsError{Order: prior, Status: status}
}

// ---------------------------------------------------------------------------
// Payment callback
// ---------------------------------------------------------------------------

// HandlePaymentCallback records the payment service's asynchronous outcome.
//
// A callback whose idempotency key was already accepted is a duplicate
// delivery and succeeds without effect; a pending status carries no outcome
// yet. Otherwise one commit inserts the inbox row (order.paid or
// order.cancelled) together with the follow-up outbox rows: the user
// notification and, on success, the shipping.requested event for the broker.
func (s *Service) HandlePaymentCallback(ctx context.Context, payment models.PaymentCallback) error {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close()

	_, err = uow.Inbox.GetByIdempotencyKey(ctx, payment.IdempotencyKey)
	if err == nil {
		slog.Info("payment callback replayed",
			"component", "service",
			"order_id", payment.OrderID,
			"idempotency_key", payment.IdempotencyKey,
		)
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	switch payment.Status {
	case models.PaymentPending:
		// The payment is still in flight; there is no outcome to record.
		return nil

	case models.PaymentSucceeded:
		if err := uow.Inbox.InsertIfAbsent(ctx, models.EventOrderPaid, payment.IdempotencyKey, payment); err != nil {
			return err
		}
		if err := uow.Outbox.Insert(ctx, models.EventOrderPaid, models.NotificationPayload{
			Message:        "Order is paid",
			IdempotencyKey: uuid.New(),
		}); err != nil {
			return err
		}
		order, err := uow.Orders.GetByID(ctx, payment.OrderID)
		if errors.Is(err, sql.ErrNoRows) {
			// Rolls back the inbox row too: the payments service retries the
			// callback and nothing is half-applied.
			return fmt.Errorf("service: payment callback for unknown order %s", payment.OrderID)
		}
		if err != nil {
			return err
		}
		if err := uow.Outbox.Insert(ctx, models.EventShippingRequested, models.ShippingRequestedPayload{
			EventType:      models.EventOrderPaid,
			OrderID:        order.ID,
			ItemID:         order.ItemID,
			Quantity:       strconv.Itoa(order.Quantity),
			IdempotencyKey: uuid.New(),
		}); err != nil {
			return err
		}

	case models.PaymentFailed:
		if err := uow.Inbox.InsertIfAbsent(ctx, models.EventOrderCancelled, payment.IdempotencyKey, payment); err != nil {
			return err
		}
		if err := uow.Outbox.Insert(ctx, models.EventOrderCancelled, models.NotificationPayload{
			Message:        "Order is cancelled",
			IdempotencyKey: uuid.New(),
		}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("service: unknown payment status %q", payment.Status)
	}

	if err := uow.Commit(); err != nil {
		return err
	}

	slog.Info("payment callback recorded",
		"component", "service",
		"order_id", payment.OrderID,
		"payment_status", payment.Status,
	)
	return nil
}

// ---------------------------------------------------------------------------
// Shipping result
// ---------------------------------------------------------------------------

// ShippingKey derives the inbox idempotency key for a broker shipping
// message: a UUIDv5 over the shipment ID when present, over the order ID
// otherwise. The derivation is stable, so a redelivered message always maps
// to the same inbox row. Reports false when the message carries neither.
func ShippingKey(msg models.ShippingResult) (uuid.UUID, bool) {
	switch {
	case msg.ShipmentID != "":
		return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("shipping-"+msg.ShipmentID)), true
	case msg.OrderID != "":
		return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("shipping-"+msg.OrderID)), true
	}
	return uuid.Nil, false
}

// HandleShippingResult consumes one broker shipping message. An
// order.shipped event advances the order toward shipped; every other event
// type is a shipping failure and cancels the order. The raw message is
// stored as the inbox payload; a message that cannot be keyed is dropped
// with a log line so the consumer can still commit its offset.
func (s *Service) HandleShippingResult(ctx context.Context, raw []byte) error {
	var msg models.ShippingResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("dropping undecodable shipping result", "component", "service", "error", err)
		return nil
	}
	key, ok := ShippingKey(msg)
	if !ok {
		slog.Warn("dropping shipping result without shipment_id or order_id",
			"component", "service",
			"event_type", msg.EventType,
		)
		return nil
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer uow.Close()

	_, err = uow.Inbox.GetByIdempotencyKey(ctx, key)
	if err == nil {
		slog.Info("shipping result replayed", "component", "service", "idempotency_key", key)
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	eventType := models.EventOrderCancelled
	message := fmt.Sprintf("Order %s has been cancelled", msg.OrderID)
	if msg.EventType == string(models.EventOrderShipped) {
		eventType = models.EventOrderShipped
		message = fmt.Sprintf("Order %s has been shipped", msg.OrderID)
	}

	if err := uow.Inbox.InsertIfAbsent(ctx, eventType, key, json.RawMessage(raw)); err != nil {
		return err
	}
	if err := uow.Outbox.Insert(ctx, eventType, models.NotificationPayload{
		Message:        message,
		IdempotencyKey: uuid.New(),
	}); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return err
	}

	slog.Info("shipping result recorded",
		"component", "service",
		"order_id", msg.OrderID,
		"event_type", eventType,
	)
	return nil
}

// ---------------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------------

// OrderView is the read-path result: the order core plus its current status.
// Cached reports whether the core was served from Redis.
type OrderView struct {
	Order  *models.Order
	Status models.Status
	Cached bool
}

// GetOrder serves a single order: Redis first, Postgres on a miss with a
// cache back-fill. The current status always comes from order_status — it
// is never cached, so state advances need no invalidation.
func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*OrderView, error) {
	var order *models.Order
	cached := false

	if s.cache != nil {
		if hit, err := s.cache.GetOrder(ctx, id); err == nil {
			order = hit
			cached = true
		}
		// Any cache error — miss or Redis down — falls through to Postgres.
	}
	if order == nil {
		var err error
		order, err = s.store.GetOrderByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetOrder(ctx, order); err != nil {
				slog.Warn("cache back-fill failed", "component", "service", "order_id", id, "error", err)
			}
		}
	}

	status, err := s.store.LatestStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return &OrderView{Order: order, Status: status, Cached: cached}, nil
}

// projectOrder refreshes the read projections after a commit. Failures are
// logged, never propagated: a stale projection is repaired by the next write,
// a lost order is not.
func (s *Service) projectOrder(ctx context.Context, order *models.Order, status models.Status) {
	if s.cache != nil {
		if err := s.cache.SetOrder(ctx, order); err != nil {
			slog.Warn("cache write failed", "component", "service", "order_id", order.ID, "error", err)
		}
	}
	if s.search != nil {
		if err := s.search.UpsertOrder(ctx, order, status); err != nil {
			slog.Warn("search upsert failed", "component", "service", "order_id", order.ID, "error", err)
		}
	}
}
