package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"order-service/internal/cache"
	"order-service/internal/database"
	"order-service/internal/models"
	"order-service/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore connects to the Postgres instance named by TEST_DATABASE_URL,
// ensures the schema and truncates all tables. Tests are skipped when the
// variable is unset, so the unit suite stays runnable without Docker.
func testStore(t *testing.T) *database.Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres-backed test")
	}

	store, err := database.Connect(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = store.Conn.ExecContext(ctx, `TRUNCATE orders, order_status, outbox, inbox CASCADE`)
	require.NoError(t, err)
	return store
}

type fakeCatalog struct {
	items map[uuid.UUID]*models.Item
}

// GetItemStock mirrors the real adapter: an unknown item is (nil, nil).
func (f *fakeCatalog) GetItemStock(_ context.Context, itemID uuid.UUID) (*models.Item, error) {
	return f.items[itemID], nil
}

func seedCatalog(price string, qty int) (*fakeCatalog, uuid.UUID) {
	itemID := uuid.New()
	return &fakeCatalog{items: map[uuid.UUID]*models.Item{itemID: {
		ID:           itemID,
		Name:         "Widget",
		Price:        decimal.RequireFromString(price),
		AvailableQty: qty,
	}}}, itemID
}

func countRows(t *testing.T, store *database.Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, store.Conn.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func outboxPayloads(t *testing.T, store *database.Store, eventType models.EventType) []json.RawMessage {
	t.Helper()
	rows, err := store.Conn.QueryContext(context.Background(),
		`SELECT payload FROM outbox WHERE event_type = $1 ORDER BY created_at`, string(eventType))
	require.NoError(t, err)
	defer rows.Close()

	var payloads []json.RawMessage
	for rows.Next() {
		var p json.RawMessage
		require.NoError(t, rows.Scan(&p))
		payloads = append(payloads, p)
	}
	require.NoError(t, rows.Err())
	return payloads
}

func inboxRow(t *testing.T, store *database.Store, key uuid.UUID) (models.EventType, json.RawMessage) {
	t.Helper()
	var (
		eventType models.EventType
		payload   json.RawMessage
	)
	err := store.Conn.QueryRowContext(context.Background(),
		`SELECT event_type, payload FROM inbox WHERE idempotency_key = $1`, key,
	).Scan(&eventType, &payload)
	require.NoError(t, err)
	return eventType, payload
}

// ---------------------------------------------------------------------------
// Create order
// ---------------------------------------------------------------------------

func TestCreateOrderHappyPath(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	catalog, itemID := seedCatalog("10.00", 5)
	svc := service.New(store, catalog, nil, nil)

	draft := models.OrderDraft{
		UserID:         "user-1",
		ItemID:         itemID,
		Quantity:       2,
		IdempotencyKey: uuid.New(),
	}
	order, err := svc.CreateOrder(ctx, draft)
	require.NoError(t, err)

	assert.True(t, order.Amount.Equal(decimal.RequireFromString("20.00")),
		"amount is price times quantity, got %s", order.Amount)

	status, err := store.LatestStatus(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, status)

	// One commit produced the order, its status row and both outbox rows.
	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM orders`))
	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM order_status`))
	assert.Equal(t, 2, countRows(t, store, `SELECT count(*) FROM outbox WHERE status = 'pending'`))

	payments := outboxPayloads(t, store, models.EventPaymentRequested)
	require.Len(t, payments, 1)
	var pay models.PaymentRequestedPayload
	require.NoError(t, json.Unmarshal(payments[0], &pay))
	assert.Equal(t, order.ID, pay.OrderID)
	assert.Equal(t, "20.00", pay.Amount)
	assert.Equal(t, draft.IdempotencyKey, pay.IdempotencyKey,
		"the payment request reuses the order's own idempotency key")

	created := outboxPayloads(t, store, models.EventOrderCreated)
	require.Len(t, created, 1)
	var note models.NotificationPayload
	require.NoError(t, json.Unmarshal(created[0], &note))
	assert.Equal(t, "Order created", note.Message)
	assert.NotEqual(t, uuid.Nil, note.IdempotencyKey)
}

func TestCreateOrderIdempotentRepeat(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	catalog, itemID := seedCatalog("10.00", 5)
	svc := service.New(store, catalog, nil, nil)

	draft := models.OrderDraft{UserID: "user-1", ItemID: itemID, Quantity: 2, IdempotencyKey: uuid.New()}
	first, err := svc.CreateOrder(ctx, draft)
	require.NoError(t, err)

	_, err = svc.CreateOrder(ctx, draft)
	var exists *service.OrderAlreadyExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, first.ID, exists.Order.ID)
	assert.Equal(t, models.StatusNew, exists.Status)

	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM orders`), "no second order")
	assert.Equal(t, 2, countRows(t, store, `SELECT count(*) FROM outbox`), "no second pair of outbox rows")
}

func TestCreateOrderConcurrentSameKey(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	catalog, itemID := seedCatalog("10.00", 5)
	svc := service.New(store, catalog, nil, nil)
	draft := models.OrderDraft{UserID: "user-1", ItemID: itemID, Quantity: 2, IdempotencyKey: uuid.New()}

	type outcome struct {
		order *models.Order
		err   error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			order, err := svc.CreateOrder(ctx, draft)
			results <- outcome{order, err}
		}()
	}

	var created, duplicate int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			created++
			continue
		}
		var exists *service.OrderAlreadyExistsError
		require.ErrorAs(t, r.err, &exists, "the loser must see the winner's order, not a raw error")
		assert.Equal(t, models.StatusNew, exists.Status)
		duplicate++
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, duplicate)

	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM orders`))
	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM outbox WHERE event_type = 'payment.requested'`))
}

func TestCreateOrderItemChecks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	catalog, itemID := seedCatalog("10.00", 1)
	svc := service.New(store, catalog, nil, nil)

	_, err := svc.CreateOrder(ctx, models.OrderDraft{
		UserID: "user-1", ItemID: uuid.New(), Quantity: 1, IdempotencyKey: uuid.New(),
	})
	assert.ErrorIs(t, err, service.ErrItemNotFound)

	_, err = svc.CreateOrder(ctx, models.OrderDraft{
		UserID: "user-1", ItemID: itemID, Quantity: 2, IdempotencyKey: uuid.New(),
	})
	assert.ErrorIs(t, err, service.ErrNotEnoughStock)

	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM orders`))
	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM outbox`))
}

// ---------------------------------------------------------------------------
// Payment callback
// ---------------------------------------------------------------------------

func TestPaymentCallbackSucceeded(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	catalog, itemID := seedCatalog("10.00", 5)
	svc := service.New(store, catalog, nil, nil)
	order, err := svc.CreateOrder(ctx, models.OrderDraft{
		UserID: "user-1", ItemID: itemID, Quantity: 2, IdempotencyKey: uuid.New(),
	})
	require.NoError(t, err)

	callback := models.PaymentCallback{
		ID:             uuid.New(),
		UserID:         "user-1",
		OrderID:        order.ID,
		Amount:         order.Amount,
		Status:         models.PaymentSucceeded,
		IdempotencyKey: uuid.New(),
	}
	require.NoError(t, svc.HandlePaymentCallback(ctx, callback))

	eventType, _ := inboxRow(t, store, callback.IdempotencyKey)
	assert.Equal(t, models.EventOrderPaid, eventType)

	notes := outboxPayloads(t, store, models.EventOrderPaid)
	require.Len(t, notes, 1)
	var note models.NotificationPayload
	require.NoError(t, json.Unmarshal(notes[0], &note))
	assert.Equal(t, "Order is paid", note.Message)

	shipping := outboxPayloads(t, store, models.EventShippingRequested)
	require.Len(t, shipping, 1)
	var ship models.ShippingRequestedPayload
	require.NoError(t, json.Unmarshal(shipping[0], &ship))
	assert.Equal(t, models.EventOrderPaid, ship.EventType)
	assert.Equal(t, order.ID, ship.OrderID)
	assert.Equal(t, order.ItemID, ship.ItemID)
	assert.Equal(t, "2", ship.Quantity, "quantity travels as a string on the wire")
	assert.NotEqual(t, uuid.Nil, ship.IdempotencyKey)

	// A duplicate delivery succeeds without any further writes.
	require.NoError(t, svc.HandlePaymentCallback(ctx, callback))
	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM inbox`))
	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM outbox WHERE event_type = 'shipping.requested'`))
}

func TestPaymentCallbackFailed(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	catalog, itemID := seedCatalog("10.00", 5)
	svc := service.New(store, catalog, nil, nil)
	order, err := svc.CreateOrder(ctx, models.OrderDraft{
		UserID: "user-1", ItemID: itemID, Quantity: 2, IdempotencyKey: uuid.New(),
	})
	require.NoError(t, err)

	callback := models.PaymentCallback{
		OrderID:        order.ID,
		Amount:         order.Amount,
		Status:         models.PaymentFailed,
		IdempotencyKey: uuid.New(),
	}
	require.NoError(t, svc.HandlePaymentCallback(ctx, callback))

	eventType, _ := inboxRow(t, store, callback.IdempotencyKey)
	assert.Equal(t, models.EventOrderCancelled, eventType)

	notes := outboxPayloads(t, store, models.EventOrderCancelled)
	require.Len(t, notes, 1)
	var note models.NotificationPayload
	require.NoError(t, json.Unmarshal(notes[0], &note))
	assert.Equal(t, "Order is cancelled", note.Message)

	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM outbox WHERE event_type = 'shipping.requested'`),
		"a failed payment must not request shipping")
}

func TestPaymentCallbackPending(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	svc := service.New(store, nil, nil, nil)
	require.NoError(t, svc.HandlePaymentCallback(ctx, models.PaymentCallback{
		OrderID:        uuid.New(),
		Status:         models.PaymentPending,
		IdempotencyKey: uuid.New(),
	}))

	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM inbox`), "pending carries no outcome yet")
	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM outbox`))
}

func TestPaymentCallbackUnknownOrderRollsBack(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	svc := service.New(store, nil, nil, nil)
	err := svc.HandlePaymentCallback(ctx, models.PaymentCallback{
		OrderID:        uuid.New(),
		Status:         models.PaymentSucceeded,
		IdempotencyKey: uuid.New(),
	})
	require.Error(t, err)

	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM inbox`),
		"the inbox row rolls back with the rest, so a later retry can succeed")
	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM outbox`))
}

// ---------------------------------------------------------------------------
// Shipping result
// ---------------------------------------------------------------------------

func TestShippingKey(t *testing.T) {
	withShipment := models.ShippingResult{OrderID: "order-1", ShipmentID: "ship-123"}
	key, ok := service.ShippingKey(withShipment)
	require.True(t, ok)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceDNS, []byte("shipping-ship-123")), key,
		"the shipment ID wins when both are present")
	assert.Equal(t, uuid.Version(5), key.Version())

	again, _ := service.ShippingKey(withShipment)
	assert.Equal(t, key, again, "the derivation is stable across deliveries")

	orderOnly := models.ShippingResult{OrderID: "order-1"}
	key, ok = service.ShippingKey(orderOnly)
	require.True(t, ok)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceDNS, []byte("shipping-order-1")), key)

	_, ok = service.ShippingKey(models.ShippingResult{EventType: "order.shipped"})
	assert.False(t, ok, "a message with neither ID cannot be keyed")
}

func TestHandleShippingResultShipped(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	svc := service.New(store, nil, nil, nil)
	orderID := uuid.New()
	raw := []byte(fmt.Sprintf(`{"event_type":"order.shipped","order_id":%q,"shipment_id":"ship-123","status":"done"}`, orderID))

	require.NoError(t, svc.HandleShippingResult(ctx, raw))

	key, _ := service.ShippingKey(models.ShippingResult{ShipmentID: "ship-123"})
	eventType, payload := inboxRow(t, store, key)
	assert.Equal(t, models.EventOrderShipped, eventType)
	assert.JSONEq(t, string(raw), string(payload), "the raw broker message is stored verbatim")

	notes := outboxPayloads(t, store, models.EventOrderShipped)
	require.Len(t, notes, 1)
	var note models.NotificationPayload
	require.NoError(t, json.Unmarshal(notes[0], &note))
	assert.Equal(t, fmt.Sprintf("Order %s has been shipped", orderID), note.Message)

	// A broker redelivery of the same message is absorbed by the stable key.
	require.NoError(t, svc.HandleShippingResult(ctx, raw))
	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM inbox`))
	assert.Equal(t, 1, countRows(t, store, `SELECT count(*) FROM outbox`))
}

func TestHandleShippingResultFailure(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	svc := service.New(store, nil, nil, nil)
	orderID := uuid.New()
	raw := []byte(fmt.Sprintf(`{"event_type":"shipping.failed","order_id":%q}`, orderID))

	require.NoError(t, svc.HandleShippingResult(ctx, raw))

	key, _ := service.ShippingKey(models.ShippingResult{OrderID: orderID.String()})
	eventType, _ := inboxRow(t, store, key)
	assert.Equal(t, models.EventOrderCancelled, eventType,
		"anything but order.shipped cancels the order")

	notes := outboxPayloads(t, store, models.EventOrderCancelled)
	require.Len(t, notes, 1)
	var note models.NotificationPayload
	require.NoError(t, json.Unmarshal(notes[0], &note))
	assert.Equal(t, fmt.Sprintf("Order %s has been cancelled", orderID), note.Message)
}

func TestHandleShippingResultDropsUnusable(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	svc := service.New(store, nil, nil, nil)

	require.NoError(t, svc.HandleShippingResult(ctx, []byte(`{"event_type":`)),
		"an undecodable message is dropped, not retried forever")
	require.NoError(t, svc.HandleShippingResult(ctx, []byte(`{"event_type":"order.shipped"}`)),
		"a message without shipment_id or order_id is dropped")

	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM inbox`))
	assert.Zero(t, countRows(t, store, `SELECT count(*) FROM outbox`))
}

// ---------------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------------

func TestGetOrderCacheFlow(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	cacheClient, err := cache.New(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { cacheClient.Close() })

	catalog, itemID := seedCatalog("10.00", 5)
	svc := service.New(store, catalog, cacheClient, nil)

	order, err := svc.CreateOrder(ctx, models.OrderDraft{
		UserID: "user-1", ItemID: itemID, Quantity: 2, IdempotencyKey: uuid.New(),
	})
	require.NoError(t, err)

	// The create path projected the order into the cache.
	view, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, view.Cached)
	assert.Equal(t, order.ID, view.Order.ID)
	assert.Equal(t, models.StatusNew, view.Status)

	// Evict, read again: Postgres answers and back-fills the cache.
	mr.FlushAll()
	view, err = svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, view.Cached)

	view, err = svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, view.Cached, "the miss back-filled the cache")
}

func TestGetOrderStatusIsNeverCached(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	cacheClient, err := cache.New(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { cacheClient.Close() })

	catalog, itemID := seedCatalog("10.00", 5)
	svc := service.New(store, catalog, cacheClient, nil)

	order, err := svc.CreateOrder(ctx, models.OrderDraft{
		UserID: "user-1", ItemID: itemID, Quantity: 2, IdempotencyKey: uuid.New(),
	})
	require.NoError(t, err)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	defer uow.Close()
	require.NoError(t, uow.Status.Append(ctx, order.ID, models.StatusPaid))
	require.NoError(t, uow.Commit())

	view, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, view.Cached, "the immutable core still comes from the cache")
	assert.Equal(t, models.StatusPaid, view.Status, "the status is read fresh on every request")
}

func TestGetOrderNotFound(t *testing.T) {
	store := testStore(t)

	svc := service.New(store, nil, nil, nil)
	_, err := svc.GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, service.ErrOrderNotFound)
}
