package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the payload shape of outbox and inbox records.
type EventType string

const (
	EventOrderCreated      EventType = "order.created"
	EventOrderPaid         EventType = "order.paid"
	EventOrderCancelled    EventType = "order.cancelled"
	EventOrderShipped      EventType = "order.shipped"
	EventPaymentRequested  EventType = "payment.requested"
	EventShippingRequested EventType = "shipping.requested"
)

// NotificationEventTypes are the event types whose outbox payloads are
// user-facing notification envelopes. The notifications dispatcher leases
// exactly this set.
var NotificationEventTypes = []EventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderCancelled,
	EventOrderShipped,
}

// OutboxStatus moves pending→sent exactly once.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
)

// InboxStatus moves pending→processed exactly once.
type InboxStatus string

const (
	InboxPending   InboxStatus = "pending"
	InboxProcessed InboxStatus = "processed"
)

// OutboxRecord is a durable outbound event, written in the same transaction
// as the state change that motivates it. Payload is opaque JSON at the store
// boundary; the dispatcher decodes it by event type.
type OutboxRecord struct {
	ID        uuid.UUID       `json:"id"`
	EventType EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Status    OutboxStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// InboxRecord is a durable inbound event keyed by the sender's idempotency
// key; the unique key is what makes duplicate deliveries no-ops.
type InboxRecord struct {
	ID             uuid.UUID       `json:"id"`
	EventType      EventType       `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         InboxStatus     `json:"status"`
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
