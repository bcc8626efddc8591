package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pledgeflow/payments/internal/adapter/outbound/memory"
	"github.com/pledgeflow/payments/internal/infra/idempotency"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDedup() *idempotency.Service {
	cfg := idempotency.DefaultWebhookConfig()
	cfg.Scope = "event"
	return idempotency.NewService(memory.NewIdempotencyStore(100), cfg, nil, nil)
}

func TestSubscriber_DropsRedeliveries(t *testing.T) {
	d := NewDispatcher(nil)
	var calls atomic.Int32
	d.Register(model.EventPledgeCreated, func(context.Context, *model.DomainEvent) error {
		calls.Add(1)
		return nil
	})
	s := NewSubscriber(memory.NewEventChannel("test"), d, newDedup(), nil, nil)
	ctx := context.Background()

	event := &model.DomainEvent{ID: "e-1", Type: model.EventPledgeCreated}
	require.NoError(t, s.Handle(ctx, event))
	require.NoError(t, s.Handle(ctx, event))
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, s.Handle(ctx, &model.DomainEvent{ID: "e-2", Type: model.EventPledgeCreated}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubscriber_FailedEventCanBeRetried(t *testing.T) {
	d := NewDispatcher(nil)
	var calls atomic.Int32
	d.Register("x", func(context.Context, *model.DomainEvent) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})
	s := NewSubscriber(memory.NewEventChannel("test"), d, newDedup(), nil, nil)
	ctx := context.Background()
	event := &model.DomainEvent{ID: "e-1", Type: "x"}

	assert.Error(t, s.Handle(ctx, event))
	assert.NoError(t, s.Handle(ctx, event))
	assert.NoError(t, s.Handle(ctx, event))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSubscriber_IgnoresUnhandledTypes(t *testing.T) {
	s := NewSubscriber(memory.NewEventChannel("test"), NewDispatcher(nil), newDedup(), nil, nil)
	assert.NoError(t, s.Handle(context.Background(), &model.DomainEvent{ID: "e-1", Type: model.EventPaymentCreated}))
}

func TestSubscriber_StartConsumesChannel(t *testing.T) {
	channel := memory.NewEventChannel("test")
	d := NewDispatcher(nil)
	var calls atomic.Int32
	d.Register("x", func(context.Context, *model.DomainEvent) error {
		calls.Add(1)
		return nil
	})

	s := NewSubscriber(channel, d, newDedup(), nil, nil)
	s.Start(context.Background())

	// Publish until the subscription is registered; redeliveries are deduped.
	event := model.NewDomainEvent("x", "pledge", "p1", nil)
	assert.Eventually(t, func() bool {
		_ = channel.Publish(context.Background(), event)
		return calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Equal(t, int32(1), calls.Load())
}
