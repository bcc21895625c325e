package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageSource is the broker-side contract: fetch without committing, then
// commit once the message's effects are durable.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// ShippingHandler is the use case invoked per shipping-result message.
type ShippingHandler interface {
	HandleShippingResult(ctx context.Context, raw []byte) error
}

// Consumer reads shipping results off the broker and records them through
// the inbox. The offset is committed strictly after the database transaction
// commits: a crash between the two re-delivers the message on restart, and
// the inbox idempotency key turns the replay into a no-op.
type Consumer struct {
	source  MessageSource
	handler ShippingHandler
}

func NewConsumer(source MessageSource, handler ShippingHandler) *Consumer {
	return &Consumer{source: source, handler: handler}
}

// Run consumes until ctx is cancelled. A processing failure is returned
// rather than swallowed — the offset stays uncommitted, the process restarts
// and the message is re-delivered.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("consumer started", "component", "consumer")

	for {
		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				slog.Info("consumer shutting down", "component", "consumer")
				return nil
			}
			return fmt.Errorf("worker: fetch message: %w", err)
		}

		if err := c.handler.HandleShippingResult(ctx, msg.Value); err != nil {
			return fmt.Errorf("worker: shipping result at offset %d: %w", msg.Offset, err)
		}

		if err := c.source.Commit(ctx, msg); err != nil {
			return fmt.Errorf("worker: commit offset %d: %w", msg.Offset, err)
		}

		slog.Debug("offset committed",
			"component", "consumer",
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}
