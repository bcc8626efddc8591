// Package pubsub carries domain events over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"go.uber.org/zap"
)

// EventChannel publishes events with the aggregate id as ordering key and
// consumes them from a subscription. Handler failures nack the message so
// Pub/Sub redelivers it.
type EventChannel struct {
	client       *pubsub.Client
	topic        *pubsub.Topic
	subscription string
	logger       *zap.Logger
}

// NewClient creates a Pub/Sub client using Application Default Credentials.
func NewClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, errors.New("pubsub: project id required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return client, nil
}

// NewEventChannel creates a Pub/Sub event channel. The channel owns client
// and closes it on Close.
func NewEventChannel(client *pubsub.Client, topic, subscription string, logger *zap.Logger) *EventChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := client.Topic(topic)
	t.EnableMessageOrdering = true
	return &EventChannel{
		client:       client,
		topic:        t,
		subscription: subscription,
		logger:       logger.Named("pubsub_events"),
	}
}

func (c *EventChannel) Name() string {
	return "pubsub:" + c.topic.ID()
}

func (c *EventChannel) Publish(ctx context.Context, event *model.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	res := c.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: event.AggregateID,
		Attributes:  map[string]string{"event_type": event.Type},
	})
	if _, err := res.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		c.topic.ResumePublish(event.AggregateID)
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

func (c *EventChannel) Subscribe(ctx context.Context, handler outbound.EventHandlerFunc) error {
	if c.subscription == "" {
		return errors.New("pubsub: subscription required to subscribe")
	}

	err := c.client.Subscription(c.subscription).Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		var event model.DomainEvent
		if err := json.Unmarshal(m.Data, &event); err != nil {
			c.logger.Warn("dropping malformed event", zap.String("message_id", m.ID), zap.Error(err))
			m.Ack()
			return
		}
		if err := handler(ctx, &event); err != nil {
			c.logger.Error("event handler failed",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Error(err))
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (c *EventChannel) Close() error {
	c.topic.Stop()
	return c.client.Close()
}

// Compile-time checks
var (
	_ outbound.EventChannelPort    = (*EventChannel)(nil)
	_ outbound.EventSubscriberPort = (*EventChannel)(nil)
)
