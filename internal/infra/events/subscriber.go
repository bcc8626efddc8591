package events

import (
	"context"
	"errors"
	"sync"

	"github.com/pledgeflow/payments/internal/infra/idempotency"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/pledgeflow/payments/internal/utils/metrics"
	"go.uber.org/zap"
)

type handled struct {
	Type string `json:"type"`
}

// Subscriber consumes the event channel and dispatches each event at most
// once per event id, using the idempotency service to drop redeliveries.
type Subscriber struct {
	source     outbound.EventSubscriberPort
	dispatcher *Dispatcher
	dedup      *idempotency.Service
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscriber creates a new subscriber. dedup may be nil, in which case
// every delivery is dispatched.
func NewSubscriber(source outbound.EventSubscriberPort, dispatcher *Dispatcher, dedup *idempotency.Service, m *metrics.Metrics, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		source:     source,
		dispatcher: dispatcher,
		dedup:      dedup,
		metrics:    m,
		logger:     logger.Named("event-subscriber"),
	}
}

// Start consumes in the background until Stop.
func (s *Subscriber) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.done = make(chan struct{})

	s.logger.Info("starting event subscriber", zap.Strings("event_types", s.dispatcher.EventTypes()))

	go func(done chan struct{}) {
		defer close(done)
		if err := s.source.Subscribe(ctx, s.Handle); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("event subscription ended", zap.Error(err))
		}
	}(s.done)
}

// Stop cancels the subscription and waits for the consumer to return. The
// source stays open: the outbox publisher may share it.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	s.logger.Info("event subscriber stopped")
}

// Handle processes one delivered event.
func (s *Subscriber) Handle(ctx context.Context, event *model.DomainEvent) error {
	if !s.dispatcher.Handles(event.Type) {
		s.metrics.RecordEventConsumed(event.Type, "ignored")
		return nil
	}

	if s.dedup == nil {
		return s.dispatch(ctx, event)
	}

	_, wasNew, err := idempotency.CheckAndProcess(ctx, s.dedup, idempotency.EventKey(event.ID), func(ctx context.Context) (handled, error) {
		return handled{Type: event.Type}, s.dispatcher.Dispatch(ctx, event)
	})
	switch {
	case errors.Is(err, idempotency.ErrStoreUnavailable):
		s.logger.Warn("dedup store unavailable, dispatching anyway", zap.String("event_id", event.ID), zap.Error(err))
		return s.dispatch(ctx, event)
	case errors.Is(err, idempotency.ErrConflict):
		s.metrics.RecordEventConsumed(event.Type, "duplicate")
		s.logger.Debug("event already being handled", zap.String("event_id", event.ID))
		return nil
	case err != nil:
		s.metrics.RecordEventConsumed(event.Type, "failed")
		return err
	case !wasNew:
		s.metrics.RecordEventConsumed(event.Type, "duplicate")
		s.logger.Debug("duplicate event dropped", zap.String("event_id", event.ID), zap.String("event_type", event.Type))
		return nil
	}

	s.metrics.RecordEventConsumed(event.Type, "handled")
	return nil
}

func (s *Subscriber) dispatch(ctx context.Context, event *model.DomainEvent) error {
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.metrics.RecordEventConsumed(event.Type, "failed")
		return err
	}
	s.metrics.RecordEventConsumed(event.Type, "handled")
	return nil
}
