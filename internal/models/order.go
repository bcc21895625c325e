// Package models holds the persisted entities and the event payload shapes
// that travel through the outbox, the inbox and the external interfaces.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
//
//	        ┌───► paid ────► shipped
//	new ────┤
//	        └───► cancelled (terminal)
type Status string

const (
	StatusNew       Status = "new"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known order statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPaid, StatusShipped, StatusCancelled:
		return true
	}
	return false
}

// Order is the aggregate root. Immutable after creation; state advances are
// recorded as StatusRecord rows, never as updates to this row.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"user_id"`
	ItemID         uuid.UUID       `json:"item_id"`
	Quantity       int             `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OrderDraft is the validated input of the create-order transaction.
type OrderDraft struct {
	UserID         string    `json:"user_id"`
	ItemID         uuid.UUID `json:"item_id"`
	Quantity       int       `json:"quantity"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
}

// StatusRecord is one append-only audit row in order_status. The current
// status of an order is the record with the greatest created_at.
type StatusRecord struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
