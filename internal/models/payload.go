package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRequestedPayload is the outbox payload for payment.requested.
// The idempotency key is the order's own key, so the payments service
// deduplicates re-dispatches of the same order.
type PaymentRequestedPayload struct {
	OrderID        uuid.UUID `json:"order_id"`
	Amount         string    `json:"amount"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
}

// NotificationPayload is the outbox payload for the user-facing notification
// event types (order.created, order.paid, order.cancelled, order.shipped).
type NotificationPayload struct {
	Message        string    `json:"message"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
}

// ShippingRequestedPayload is the outbox payload for shipping.requested and,
// verbatim, the message published to the broker topic. Quantity travels as a
// string on the wire.
type ShippingRequestedPayload struct {
	EventType      EventType `json:"event_type"`
	OrderID        uuid.UUID `json:"order_id"`
	ItemID         uuid.UUID `json:"item_id"`
	Quantity       string    `json:"quantity"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
}

// ShippingResult is the decoded head of an inbound broker shipping message.
// Only the fields needed for routing are declared; the raw message is stored
// as the inbox payload.
type ShippingResult struct {
	EventType  string `json:"event_type"`
	OrderID    string `json:"order_id"`
	ShipmentID string `json:"shipment_id"`
}

// PaymentStatus is the outcome reported by the payments service.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Valid reports whether s is one of the known payment statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSucceeded, PaymentFailed:
		return true
	}
	return false
}

// PaymentCallback is the payment service's asynchronous outcome report,
// received on the callback endpoint and stored as the inbox payload.
type PaymentCallback struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"user_id"`
	OrderID        uuid.UUID       `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PaymentStatus   `json:"status"`
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Item is the catalog service's view of a product.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	AvailableQty int             `json:"available_qty"`
	CreatedAt    time.Time       `json:"created_at"`
}
