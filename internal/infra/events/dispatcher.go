// Package events consumes domain events from the event channel and routes
// them to registered handlers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pledgeflow/payments/internal/model"
	"go.uber.org/zap"
)

// Handler processes one event. Handlers must tolerate redelivery.
type Handler func(ctx context.Context, event *model.DomainEvent) error

// Dispatcher routes events to handlers by type. Handlers are registered at
// startup, before the dispatcher is handed to a Subscriber.
type Dispatcher struct {
	handlers map[string][]Handler
	logger   *zap.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger.Named("dispatcher"),
	}
}

// Register adds h for eventType.
func (d *Dispatcher) Register(eventType string, h Handler) {
	d.handlers[eventType] = append(d.handlers[eventType], h)
	d.logger.Debug("registered event handler", zap.String("event_type", eventType))
}

// Handles reports whether any handler is registered for eventType.
func (d *Dispatcher) Handles(eventType string) bool {
	return len(d.handlers[eventType]) > 0
}

// EventTypes lists the registered event types.
func (d *Dispatcher) EventTypes() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch calls every handler for the event in registration order. A
// failing handler does not stop the others; their errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, event *model.DomainEvent) error {
	handlers := d.handlers[event.Type]
	if len(handlers) == 0 {
		return nil
	}

	var errs []error
	for i, h := range handlers {
		if err := h(ctx, event); err != nil {
			d.logger.Error("event handler failed",
				zap.String("event_type", event.Type),
				zap.String("event_id", event.ID),
				zap.Int("handler", i),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
