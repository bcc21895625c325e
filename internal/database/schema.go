package database

import (
	"context"
	"fmt"
)

// EnsureSchema creates the four core tables and their indexes if they do not
// exist. Production deployments run real migrations; this exists for tests
// and local bootstrap.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Conn.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("database: ensure schema: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
    id              uuid PRIMARY KEY,
    user_id         varchar(255) NOT NULL,
    item_id         uuid NOT NULL,
    quantity        integer NOT NULL,
    amount          numeric(19,2) NOT NULL CONSTRAINT positive_amount CHECK (amount >= 0),
    idempotency_key uuid NOT NULL UNIQUE,
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_orders_user_id ON orders (user_id);
CREATE INDEX IF NOT EXISTS ix_orders_item_id ON orders (item_id);

CREATE TABLE IF NOT EXISTS order_status (
    id         uuid PRIMARY KEY,
    order_id   uuid NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
    status     text NOT NULL
               CONSTRAINT valid_order_status
               CHECK (status IN ('new', 'paid', 'shipped', 'cancelled')),
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_order_status_order_id ON order_status (order_id);
CREATE INDEX IF NOT EXISTS ix_order_status_order_id_status ON order_status (order_id, status);

CREATE TABLE IF NOT EXISTS outbox (
    id         uuid PRIMARY KEY,
    event_type text NOT NULL
               CONSTRAINT valid_outbox_event_type
               CHECK (event_type IN ('order.created', 'order.paid', 'order.cancelled',
                                     'order.shipped', 'payment.requested', 'shipping.requested')),
    payload    jsonb NOT NULL,
    status     text NOT NULL DEFAULT 'pending'
               CONSTRAINT valid_outbox_status
               CHECK (status IN ('pending', 'sent')),
    created_at timestamptz NOT NULL DEFAULT now(),
    updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_outbox_status ON outbox (status);
CREATE INDEX IF NOT EXISTS ix_outbox_event_type_status ON outbox (event_type, status);

CREATE TABLE IF NOT EXISTS inbox (
    id              uuid PRIMARY KEY,
    event_type      text NOT NULL
                    CONSTRAINT valid_inbox_event_type
                    CHECK (event_type IN ('order.created', 'order.paid', 'order.cancelled',
                                          'order.shipped', 'payment.requested', 'shipping.requested')),
    payload         jsonb NOT NULL,
    status          text NOT NULL DEFAULT 'pending'
                    CONSTRAINT valid_inbox_status
                    CHECK (status IN ('pending', 'processed')),
    idempotency_key uuid NOT NULL UNIQUE,
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ix_inbox_status ON inbox (status);
`
