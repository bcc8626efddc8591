package outbound

import (
	"context"

	"github.com/pledgeflow/payments/internal/model"
)

// EventChannelPort publishes domain events to downstream consumers.
type EventChannelPort interface {
	// Name identifies the channel; it is also the circuit breaker name.
	Name() string

	// Publish sends one event.
	Publish(ctx context.Context, event *model.DomainEvent) error
}

// EventHandlerFunc handles one delivered event.
type EventHandlerFunc func(ctx context.Context, event *model.DomainEvent) error

// EventSubscriberPort consumes domain events from the channel.
type EventSubscriberPort interface {
	// Subscribe delivers events to handler until ctx is done or the
	// subscription fails.
	Subscribe(ctx context.Context, handler EventHandlerFunc) error

	// Close releases the subscription.
	Close() error
}

// EventPublisherPort publishes events directly, bypassing the outbox. Used
// for diagnostic events that describe no state change.
type EventPublisherPort interface {
	Publish(ctx context.Context, event *model.DomainEvent) error
}
