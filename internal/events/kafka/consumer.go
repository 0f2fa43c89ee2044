package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"fintrack/internal/events"
)

// Consumer reads ledger events from a topic as a member of a consumer group.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}),
	}
}

// Consume delivers events to handler until ctx ends. An offset is committed
// only after its message was handled or found undecodable; a handler error
// stops consumption so the message is redelivered on the next run.
func (c *Consumer) Consume(ctx context.Context, handler func(events.Event) error) error {
	slog.InfoContext(ctx, "Started consuming ledger events", "topic", c.reader.Config().Topic)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		ev, err := events.FromJSON(msg.Value)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal message",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset)
		} else if err := handler(ev); err != nil {
			return fmt.Errorf("handle %s %s: %w", ev.Type, ev.Key(), err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
