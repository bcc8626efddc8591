package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultEventChannel is the Pub/Sub channel domain events are published on.
const DefaultEventChannel = "events"

// EventChannel publishes and consumes domain events over Redis Pub/Sub.
// Pub/Sub has no persistence: subscribers only see events published while
// they are connected, so redelivery comes from the outbox, not the broker.
type EventChannel struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger
}

// NewEventChannel creates a Redis Pub/Sub event channel.
func NewEventChannel(client redis.UniversalClient, channel string, logger *zap.Logger) *EventChannel {
	if channel == "" {
		channel = DefaultEventChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventChannel{
		client:  client,
		channel: channel,
		logger:  logger.Named("redis_events"),
	}
}

func (c *EventChannel) Name() string {
	return "redis:" + c.channel
}

func (c *EventChannel) Publish(ctx context.Context, event *model.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (c *EventChannel) Subscribe(ctx context.Context, handler outbound.EventHandlerFunc) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redis subscription to %s closed", c.channel)
			}
			var event model.DomainEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			if err := handler(ctx, &event); err != nil {
				c.logger.Error("event handler failed",
					zap.String("event_id", event.ID),
					zap.String("type", event.Type),
					zap.Error(err))
			}
		}
	}
}

// Close is a no-op: the Redis client is owned by the application.
func (c *EventChannel) Close() error {
	return nil
}

// Compile-time checks
var (
	_ outbound.EventChannelPort    = (*EventChannel)(nil)
	_ outbound.EventSubscriberPort = (*EventChannel)(nil)
)
