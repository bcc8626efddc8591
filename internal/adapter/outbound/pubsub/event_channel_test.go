package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client
}

func TestEventChannel_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "events")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "payments", pubsub.SubscriptionConfig{
		Topic:                 topic,
		EnableMessageOrdering: true,
	})
	require.NoError(t, err)

	c := NewEventChannel(client, "events", "payments", nil)
	assert.Equal(t, "pubsub:events", c.Name())

	event := model.NewDomainEvent(model.EventPaymentCreated, model.AggregatePayment, "pay-1", map[string]any{"pledgeId": "p1"})
	require.NoError(t, c.Publish(ctx, event))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		got []*model.DomainEvent
	)
	err = c.Subscribe(subCtx, func(_ context.Context, e *model.DomainEvent) error {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		cancel()
		return nil
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, event.ID, got[0].ID)
	assert.Equal(t, "p1", got[0].Payload["pledgeId"])

	assert.NoError(t, c.Close())
}

func TestEventChannel_SubscribeRequiresSubscription(t *testing.T) {
	client := newTestClient(t)
	c := NewEventChannel(client, "events", "", nil)
	assert.Error(t, c.Subscribe(context.Background(), nil))
}
