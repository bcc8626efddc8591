package events

import (
	"context"
	"errors"
	"testing"

	"github.com/pledgeflow/payments/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestDispatcher_RoutesByType(t *testing.T) {
	d := NewDispatcher(nil)
	var got []string

	d.Register("a", func(_ context.Context, e *model.DomainEvent) error {
		got = append(got, "a1:"+e.ID)
		return nil
	})
	d.Register("a", func(_ context.Context, e *model.DomainEvent) error {
		got = append(got, "a2:"+e.ID)
		return nil
	})
	d.Register("b", func(context.Context, *model.DomainEvent) error {
		got = append(got, "b")
		return nil
	})

	assert.NoError(t, d.Dispatch(context.Background(), &model.DomainEvent{ID: "1", Type: "a"}))
	assert.Equal(t, []string{"a1:1", "a2:1"}, got)
	assert.True(t, d.Handles("b"))
	assert.False(t, d.Handles("c"))
	assert.Equal(t, []string{"a", "b"}, d.EventTypes())
	assert.NoError(t, d.Dispatch(context.Background(), &model.DomainEvent{ID: "2", Type: "c"}))
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	d := NewDispatcher(nil)
	boom := errors.New("boom")
	var secondRan bool

	d.Register("a", func(context.Context, *model.DomainEvent) error { return boom })
	d.Register("a", func(context.Context, *model.DomainEvent) error {
		secondRan = true
		return nil
	})

	err := d.Dispatch(context.Background(), &model.DomainEvent{ID: "1", Type: "a"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, secondRan)
}
