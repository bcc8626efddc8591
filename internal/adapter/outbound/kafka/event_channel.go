// Package kafka carries domain events over Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pledgeflow/payments/internal/infra/config"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "payments.events"

const headerEventType = "event-type"

// EventChannel publishes events keyed by aggregate id, so every event of one
// payment lands on the same partition in order.
type EventChannel struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	groupID string
	logger  *zap.Logger

	reader *kafka.Reader
}

// NewEventChannel creates a Kafka event channel.
func NewEventChannel(cfg config.KafkaConfig, logger *zap.Logger) (*EventChannel, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventChannel{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		groupID: cfg.GroupID,
		logger:  logger.Named("kafka_events"),
	}, nil
}

func (c *EventChannel) Name() string {
	return "kafka:" + c.topic
}

func (c *EventChannel) Publish(ctx context.Context, event *model.DomainEvent) error {
	msg, err := toMessage(event)
	if err != nil {
		return err
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Subscribe consumes the topic as a member of the configured consumer group.
// Offsets are committed after the handler returns, failed or not: retrying
// a poisoned message would stall the partition.
func (c *EventChannel) Subscribe(ctx context.Context, handler outbound.EventHandlerFunc) error {
	if c.groupID == "" {
		return errors.New("kafka: consumer group id required to subscribe")
	}
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		GroupID:  c.groupID,
		Topic:    c.topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		event, err := fromMessage(m)
		if err != nil {
			c.logger.Warn("dropping malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
		} else if err := handler(ctx, event); err != nil {
			c.logger.Error("event handler failed",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to commit offset", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// Close flushes the writer and leaves the consumer group.
func (c *EventChannel) Close() error {
	var errs []error
	if err := c.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.reader != nil {
		if err := c.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func toMessage(event *model.DomainEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.Type)},
		},
	}, nil
}

func fromMessage(m kafka.Message) (*model.DomainEvent, error) {
	var event model.DomainEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &event, nil
}

// Compile-time checks
var (
	_ outbound.EventChannelPort    = (*EventChannel)(nil)
	_ outbound.EventSubscriberPort = (*EventChannel)(nil)
)
