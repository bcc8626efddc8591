package outbox

import (
	"context"

	"github.com/pledgeflow/payments/internal/infra/breaker"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"go.uber.org/zap"
)

// DirectPublisher sends events straight to the channel through its circuit
// breaker. It is for events that record no state change and may be lost;
// state changes go through the outbox.
type DirectPublisher struct {
	channel  outbound.EventChannelPort
	breakers *breaker.Registry
	logger   *zap.Logger
}

// NewDirectPublisher creates a new direct publisher.
func NewDirectPublisher(channel outbound.EventChannelPort, breakers *breaker.Registry, logger *zap.Logger) *DirectPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectPublisher{
		channel:  channel,
		breakers: breakers,
		logger:   logger.Named("direct-publisher"),
	}
}

// Publish sends event. Delivery failures and an open breaker are logged and
// swallowed.
func (p *DirectPublisher) Publish(ctx context.Context, event *model.DomainEvent) error {
	b := p.breakers.Get(p.channel.Name())
	err := b.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			return p.channel.Publish(ctx, event)
		},
		func(_ context.Context, err error) error {
			p.logger.Warn("event dropped, channel breaker open",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
				zap.String("channel", p.channel.Name()),
			)
			return nil
		},
	)
	if err != nil {
		p.logger.Warn("event dropped",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
	return nil
}

var _ outbound.EventPublisherPort = (*DirectPublisher)(nil)
