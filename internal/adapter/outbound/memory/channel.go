package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
)

// DefaultHistorySize bounds how many published events Published remembers.
const DefaultHistorySize = 1024

// EventChannel is an in-process event channel. Every subscriber receives
// every event published after it subscribed. Events are round-tripped
// through JSON so subscribers see the same shape as on a real broker.
type EventChannel struct {
	name string

	mu          sync.RWMutex
	subscribers map[int]chan []byte
	nextID      int
	published   []*model.DomainEvent
	history     int
	closed      bool
}

// NewEventChannel creates an in-process event channel that remembers the
// last DefaultHistorySize published events.
func NewEventChannel(name string) *EventChannel {
	return NewEventChannelWithHistory(name, DefaultHistorySize)
}

// NewEventChannelWithHistory creates an in-process event channel that
// remembers at most history published events.
func NewEventChannelWithHistory(name string, history int) *EventChannel {
	if name == "" {
		name = "memory"
	}
	if history <= 0 {
		history = DefaultHistorySize
	}
	return &EventChannel{
		name:        name,
		subscribers: make(map[int]chan []byte),
		history:     history,
	}
}

func (c *EventChannel) Name() string {
	return c.name
}

func (c *EventChannel) Publish(ctx context.Context, event *model.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("publish event: channel %s closed", c.name)
	}
	c.published = append(c.published, event)
	if over := len(c.published) - c.history; over > 0 {
		// Copy down so the dropped events are not pinned by the backing array.
		n := copy(c.published, c.published[over:])
		clear(c.published[n:])
		c.published = c.published[:n]
	}
	subs := make([]chan []byte, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe delivers events to handler until ctx is done. Handler errors
// are returned to nobody: an in-process channel has no redelivery.
func (c *EventChannel) Subscribe(ctx context.Context, handler outbound.EventHandlerFunc) error {
	ch := make(chan []byte, 256)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-ch:
			var event model.DomainEvent
			if err := json.Unmarshal(data, &event); err != nil {
				continue
			}
			_ = handler(ctx, &event)
		}
	}
}

// Published returns the most recently published events, oldest first.
func (c *EventChannel) Published() []*model.DomainEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.DomainEvent, len(c.published))
	copy(out, c.published)
	return out
}

// Close rejects further publishes.
func (c *EventChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Compile-time checks
var (
	_ outbound.EventChannelPort    = (*EventChannel)(nil)
	_ outbound.EventSubscriberPort = (*EventChannel)(nil)
)
