// Package broker wraps Kafka for the shipping exchange.
//
// The shipping dispatcher publishes shipping.requested messages to the shared
// topic; the consumer reads shipping results from the same topic as part of
// the order-service consumer group.
//
// Delivery guarantees:
//   - Producer waits for a leader ack on every publish — a failed publish
//     propagates to the dispatcher and the outbox row stays pending.
//   - Consumer commits offsets manually, only after the message's database
//     transaction has committed. A crash between the two re-delivers the
//     message; the inbox idempotency key absorbs the duplicate.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Producer owns the Kafka writer for the dispatcher side (publish only).
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a writer for the given topic. bootstrap may list
// several brokers separated by commas.
func NewProducer(bootstrap, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(bootstrap, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish JSON-encodes value and sends it under key, waiting for the ack.
// Keying by order ID keeps all messages of one order on one partition.
func (p *Producer) Publish(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("broker: encode message: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}
	return nil
}

// Close flushes and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer owns the Kafka reader for the shipping-result side.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins the consumer group on the given topic. A fresh group
// starts from the earliest offset so results published before the first
// consumer run are not lost.
func NewConsumer(bootstrap, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     strings.Split(bootstrap, ","),
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.FirstOffset,
		}),
	}
}

// Fetch blocks for the next message without committing its offset.
func (c *Consumer) Fetch(ctx context.Context) (kafka.Message, error) {
	return c.reader.FetchMessage(ctx)
}

// Commit marks msg consumed. Call only after the message's effects are
// durable.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close leaves the consumer group and releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
