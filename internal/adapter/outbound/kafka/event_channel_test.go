package kafka

import (
	"testing"
	"time"

	"github.com/pledgeflow/payments/internal/infra/config"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	event := model.NewDomainEvent(model.EventPaymentAuthorized, model.AggregatePayment, "pay-1", map[string]any{"state": "AUTHORIZED"})
	event.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	msg, err := toMessage(event)
	require.NoError(t, err)
	assert.Equal(t, "pay-1", string(msg.Key), "keyed by aggregate for per-payment ordering")
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, model.EventPaymentAuthorized, string(msg.Headers[0].Value))

	got, err := fromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.Type, got.Type)
	assert.Equal(t, "AUTHORIZED", got.Payload["state"])
	assert.True(t, event.Timestamp.Equal(got.Timestamp))
}

func TestNewEventChannel(t *testing.T) {
	_, err := NewEventChannel(config.KafkaConfig{}, nil)
	assert.Error(t, err)

	c, err := NewEventChannel(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "kafka:"+DefaultTopic, c.Name())
	assert.NoError(t, c.Close())
}
