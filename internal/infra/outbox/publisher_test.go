package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/adapter/outbound/memory"
	"github.com/pledgeflow/payments/internal/adapter/outbound/postgres"
	"github.com/pledgeflow/payments/internal/infra/breaker"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/pledgeflow/payments/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.Retry = breaker.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return cfg
}

func testBreakers() *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		ResetTimeout:     time.Minute,
	}, nil, nil)
}

func insertEvents(t *testing.T, repo outbound.OutboxDatabasePort, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < n; i++ {
		ev := &model.OutboxEvent{
			AggregateType: model.AggregatePayment,
			AggregateID:   uuid.NewString(),
			EventType:     model.EventPaymentCreated,
			Payload:       map[string]any{"seq": i},
			CreatedAt:     base.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, repo.Create(context.Background(), ev))
		ids = append(ids, ev.ID)
	}
	return ids
}

func eventIDs(events []*model.DomainEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

type flakyChannel struct {
	*memory.EventChannel
	mu    sync.Mutex
	fails int
	calls int
}

func (c *flakyChannel) Publish(ctx context.Context, event *model.DomainEvent) error {
	c.mu.Lock()
	c.calls++
	fail := c.fails != 0
	if c.fails > 0 {
		c.fails--
	}
	c.mu.Unlock()
	if fail {
		return errors.New("broker unreachable")
	}
	return c.EventChannel.Publish(ctx, event)
}

type crashingOutbox struct {
	outbound.OutboxDatabasePort
}

func (crashingOutbox) MarkPublished(context.Context, []uuid.UUID) error {
	return errors.New("process killed")
}

func TestPublishPending_DeliversInOrder(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := memory.NewEventChannel("test")
	ids := insertEvents(t, repo, 3)

	p := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: testBreakers()}, testConfig(), nil)

	n, err := p.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	published := channel.Published()
	require.Len(t, published, 3)
	for i, id := range ids {
		assert.Equal(t, id.String(), published[i].ID)
		assert.Equal(t, model.EventPaymentCreated, published[i].Type)
	}

	pending, err := repo.FindUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPublishPending_RespectsBatchSize(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := memory.NewEventChannel("test")
	insertEvents(t, repo, 5)

	cfg := testConfig()
	cfg.BatchSize = 2
	p := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: testBreakers()}, cfg, nil)

	n, err := p.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := repo.CountUnpublished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestPublishPending_CrashBeforeMarkRedelivers(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := memory.NewEventChannel("test")
	ids := insertEvents(t, repo, 3)
	ctx := context.Background()

	crashed := NewPublisher(Deps{Outbox: crashingOutbox{repo}, Channel: channel, Breakers: testBreakers()}, testConfig(), nil)
	_, err := crashed.PublishPending(ctx)
	require.Error(t, err)

	count, err := repo.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count, "nothing is marked after a crash")

	restarted := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: testBreakers()}, testConfig(), nil)
	n, err := restarted.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	delivered := eventIDs(channel.Published())
	for _, id := range ids {
		assert.Contains(t, delivered, id.String())
	}
	assert.Len(t, delivered, 6, "at-least-once: rows are delivered again after the crash")

	count, err = repo.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPublishPending_FailedRowsStayPending(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := &flakyChannel{EventChannel: memory.NewEventChannel("test"), fails: 1}
	ids := insertEvents(t, repo, 3)
	ctx := context.Background()

	p := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: testBreakers()}, testConfig(), nil)

	n, err := p.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := repo.FindUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[0], pending[0].ID)

	n, err = p.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublishPending_RetriesTransientFailure(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := &flakyChannel{EventChannel: memory.NewEventChannel("test"), fails: 1}
	insertEvents(t, repo, 1)

	cfg := testConfig()
	cfg.Retry.MaxRetries = 2
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, SuccessThreshold: 1}, nil, nil)
	p := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: breakers}, cfg, nil)

	n, err := p.PublishPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, channel.calls)
}

func TestPublishPending_BreakerOpenStopsBatch(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := &flakyChannel{EventChannel: memory.NewEventChannel("test"), fails: -1}
	insertEvents(t, repo, 5)
	breakers := testBreakers()
	ctx := context.Background()

	p := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: breakers}, testConfig(), nil)

	n, err := p.PublishPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, channel.calls, "calls stop once the breaker opens")
	assert.Equal(t, breaker.StateOpen, breakers.Get("test").State())

	count, err := repo.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestStartStop_PublishesInBackground(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := memory.NewEventChannel("test")

	p := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: testBreakers()}, testConfig(), nil)
	p.Start(context.Background())
	p.Start(context.Background())

	insertEvents(t, repo, 2)

	assert.Eventually(t, func() bool {
		return len(channel.Published()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
}

type fakeWakeup struct {
	ch chan struct{}
}

func (w *fakeWakeup) Wakeups() <-chan struct{} { return w.ch }
func (w *fakeWakeup) Close() error            { return nil }

func TestStart_WakeupTriggersPoll(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	channel := memory.NewEventChannel("test")
	wake := &fakeWakeup{ch: make(chan struct{}, 1)}

	cfg := testConfig()
	cfg.PollInterval = time.Hour
	p := NewPublisher(Deps{Outbox: repo, Channel: channel, Breakers: testBreakers(), Wakeup: wake}, cfg, nil)
	p.Start(context.Background())
	defer p.Stop()

	insertEvents(t, repo, 1)
	wake.ch <- struct{}{}

	assert.Eventually(t, func() bool {
		return len(channel.Published()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type recordingArchive struct {
	archived []*model.OutboxEvent
	err      error
}

func (a *recordingArchive) Archive(_ context.Context, events []*model.OutboxEvent) error {
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, events...)
	return nil
}

func publishedOldEvents(t *testing.T, repo outbound.OutboxDatabasePort, n int) {
	t.Helper()
	ctx := context.Background()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		ev := &model.OutboxEvent{
			AggregateType: model.AggregatePayment,
			AggregateID:   "agg",
			EventType:     model.EventPaymentCreated,
			CreatedAt:     time.Now().Add(-48 * time.Hour),
		}
		require.NoError(t, repo.Create(ctx, ev))
		ids = append(ids, ev.ID)
	}
	require.NoError(t, repo.MarkPublished(ctx, ids))
}

func TestCleanup_DeletesOldPublishedOncePerInterval(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	state := memory.NewIdempotencyStore(10)
	ctx := context.Background()

	publishedOldEvents(t, repo, 2)
	insertEvents(t, repo, 1)

	p := NewPublisher(Deps{Outbox: repo, Channel: memory.NewEventChannel("test"), Breakers: testBreakers(), State: state}, testConfig(), nil)
	require.NoError(t, p.Cleanup(ctx))

	old, err := repo.FindPublishedBefore(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, old)

	count, err := repo.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "unpublished rows are never cleaned")

	// Another instance sharing the state store skips until the interval passes.
	publishedOldEvents(t, repo, 1)
	other := NewPublisher(Deps{Outbox: repo, Channel: memory.NewEventChannel("test"), Breakers: testBreakers(), State: state}, testConfig(), nil)
	require.NoError(t, other.Cleanup(ctx))

	old, err = repo.FindPublishedBefore(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, old, 1)

	other.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, other.Cleanup(ctx))
	old, err = repo.FindPublishedBefore(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, old)
}

type countingStore struct {
	*memory.IdempotencyStore
	mu   sync.Mutex
	gets int
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.IdempotencyStore.Get(ctx, key)
}

func (s *countingStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func TestCleanup_RemembersSharedTimestamp(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	state := &countingStore{IdempotencyStore: memory.NewIdempotencyStore(10)}
	ctx := context.Background()

	first := NewPublisher(Deps{Outbox: repo, Channel: memory.NewEventChannel("test"), Breakers: testBreakers(), State: state}, testConfig(), nil)
	require.NoError(t, first.Cleanup(ctx))

	other := NewPublisher(Deps{Outbox: repo, Channel: memory.NewEventChannel("test"), Breakers: testBreakers(), State: state}, testConfig(), nil)
	require.NoError(t, other.Cleanup(ctx))
	gets := state.Gets()

	for i := 0; i < 5; i++ {
		require.NoError(t, other.Cleanup(ctx))
	}
	assert.Equal(t, gets, state.Gets(), "skipped cleanups must not re-read the shared timestamp")

	other.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, other.Cleanup(ctx))
	assert.Greater(t, state.Gets(), gets)
}

func TestCleanup_ArchivesBeforeDelete(t *testing.T) {
	repo := postgres.NewOutboxAdapter(testutil.NewTestDB(t))
	ctx := context.Background()
	publishedOldEvents(t, repo, 3)

	failing := &recordingArchive{err: errors.New("bucket missing")}
	p := NewPublisher(Deps{Outbox: repo, Channel: memory.NewEventChannel("test"), Breakers: testBreakers(), Archive: failing}, testConfig(), nil)
	require.Error(t, p.Cleanup(ctx))

	old, err := repo.FindPublishedBefore(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, old, 3, "rows survive a failed archive")

	archive := &recordingArchive{}
	p = NewPublisher(Deps{Outbox: repo, Channel: memory.NewEventChannel("test"), Breakers: testBreakers(), Archive: archive}, testConfig(), nil)
	require.NoError(t, p.Cleanup(ctx))
	assert.Len(t, archive.archived, 3)

	old, err = repo.FindPublishedBefore(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestDirectPublisher(t *testing.T) {
	ctx := context.Background()
	event := model.NewDomainEvent(model.EventWebhookDuplicate, model.AggregateWebhook, "wh-1", nil)

	ok := memory.NewEventChannel("test")
	require.NoError(t, NewDirectPublisher(ok, testBreakers(), nil).Publish(ctx, event))
	assert.Len(t, ok.Published(), 1)

	down := &flakyChannel{EventChannel: memory.NewEventChannel("test"), fails: -1}
	breakers := testBreakers()
	pub := NewDirectPublisher(down, breakers, nil)
	for i := 0; i < 4; i++ {
		assert.NoError(t, pub.Publish(ctx, event), "failures fall back silently")
	}
	assert.Equal(t, 2, down.calls, "open breaker short-circuits")
}
