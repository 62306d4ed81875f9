// Package kafka delivers fill confirmations from the order infrastructure's
// Kafka topic into the event sink. Commit offsets only after the sink has
// acknowledged, so a crash replays rather than drops events; the sink's dedup
// window absorbs the replays.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/sink"
)

// Config selects the broker, topic, and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads fill events and forwards them to the sink.
type Consumer struct {
	reader *kafka.Reader
	sink   *sink.Sink
	logger *slog.Logger
}

// NewConsumer creates a consumer for the fills topic.
func NewConsumer(cfg Config, s *sink.Sink, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
			MaxWait:  500 * time.Millisecond,
		}),
		sink:   s,
		logger: logger.With(slog.String("component", "fill_consumer")),
	}
}

// Run consumes until ctx is cancelled. Malformed messages are logged and
// committed; they will never parse on redelivery either.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("fill consumer started", slog.String("topic", c.reader.Config().Topic))
	defer c.logger.Info("fill consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var evt domain.FillEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			c.logger.Warn("bad fill message",
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		} else {
			if evt.Timestamp.IsZero() {
				evt.Timestamp = time.Now().UTC()
			}
			ack := c.sink.Acknowledge(ctx, evt)
			c.logger.Debug("fill event acked",
				slog.String("order_ref", evt.OrderRef),
				slog.Bool("matched", ack.Matched),
				slog.Bool("duplicate", ack.Duplicate),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}
