// Package outbox delivers committed outbox rows to the event channel.
package outbox

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/infra/breaker"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/pledgeflow/payments/internal/utils/metrics"
	"go.uber.org/zap"
)

// lastCleanupKey records when cleanup last ran, shared by all instances.
const lastCleanupKey = "outbox:last_cleanup"

// Config contains publisher settings.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	CleanupInterval time.Duration
	Retention       time.Duration
	PublishTimeout  time.Duration
	Retry           breaker.RetryConfig
}

// DefaultConfig returns the default publisher configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		BatchSize:       50,
		CleanupInterval: time.Hour,
		Retention:       24 * time.Hour,
		PublishTimeout:  5 * time.Second,
		Retry:           breaker.DefaultRetryConfig(),
	}
}

// Deps groups the collaborators of the publisher. Wakeup, Archive and
// State are optional.
type Deps struct {
	Outbox   outbound.OutboxDatabasePort
	Channel  outbound.EventChannelPort
	Breakers *breaker.Registry
	Wakeup   outbound.OutboxWakeupPort
	Archive  outbound.OutboxArchivePort
	State    outbound.IdempotencyStorePort
	Metrics  *metrics.Metrics
}

// Publisher polls the outbox and publishes unpublished rows in creation
// order. A row is marked published only after the channel accepted it, so
// a crash between the two causes a redelivery, never a loss.
type Publisher struct {
	outbox   outbound.OutboxDatabasePort
	channel  outbound.EventChannelPort
	breakers *breaker.Registry
	wakeup   outbound.OutboxWakeupPort
	archive  outbound.OutboxArchivePort
	state    outbound.IdempotencyStorePort
	metrics  *metrics.Metrics
	config   Config
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	running     bool
	lastCleanup time.Time
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewPublisher creates a new outbox publisher.
func NewPublisher(deps Deps, config Config, logger *zap.Logger) *Publisher {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = def.PublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Publisher{
		outbox:   deps.Outbox,
		channel:  deps.Channel,
		breakers: deps.Breakers,
		wakeup:   deps.Wakeup,
		archive:  deps.Archive,
		state:    deps.State,
		metrics:  deps.Metrics,
		config:   config,
		logger:   logger.Named("outbox-publisher"),
		now:      time.Now,
	}
}

// Start launches the polling loop. It is a no-op when already running.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("starting outbox publisher",
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Int("batch_size", p.config.BatchSize),
		zap.String("channel", p.channel.Name()),
		zap.Bool("listen_notify", p.wakeup != nil),
	)

	p.wg.Add(1)
	go p.loop(context.WithoutCancel(ctx), p.stopCh)
}

// Stop ends the loop after the in-flight batch completes.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("outbox publisher stopped")
}

func (p *Publisher) loop(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	var wakeups <-chan struct{}
	if p.wakeup != nil {
		wakeups = p.wakeup.Wakeups()
	}

	for {
		p.tick(ctx)

		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-wakeups:
		}
	}
}

func (p *Publisher) tick(ctx context.Context) {
	if _, err := p.PublishPending(ctx); err != nil {
		p.logger.Error("outbox publish failed", zap.Error(err))
	}
	if err := p.Cleanup(ctx); err != nil {
		p.logger.Error("outbox cleanup failed", zap.Error(err))
	}
}

// PublishPending publishes one batch of unpublished rows and returns how
// many were delivered. Rows that fail stay unpublished for the next poll.
// The batch stops early when the channel's breaker is open.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	events, err := p.outbox.FindUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		p.refreshBacklog(ctx)
		return 0, nil
	}

	b := p.breakers.Get(p.channel.Name())
	published := make([]uuid.UUID, 0, len(events))
	var failed int

	for _, ev := range events {
		err := p.publishOne(ctx, b, ev)
		if err == nil {
			published = append(published, ev.ID)
			p.logger.Debug("event published", zap.String("event_id", ev.ID.String()), zap.String("type", ev.EventType))
			continue
		}

		failed++
		if breaker.IsOpen(err) {
			p.logger.Warn("event channel breaker open, deferring batch",
				zap.String("channel", p.channel.Name()),
			)
			break
		}
		p.logger.Error("failed to publish event",
			zap.String("event_id", ev.ID.String()),
			zap.String("type", ev.EventType),
			zap.Error(err),
		)
	}

	if len(published) > 0 {
		if err := p.outbox.MarkPublished(ctx, published); err != nil {
			// Delivered rows will be sent again; consumers dedup by event id.
			return 0, err
		}
		p.logger.Info("published outbox events", zap.Int("count", len(published)))
	}

	p.metrics.RecordOutboxPublished(len(published), failed)
	p.refreshBacklog(ctx)
	return len(published), nil
}

func (p *Publisher) publishOne(ctx context.Context, b *breaker.Breaker, ev *model.OutboxEvent) error {
	event := ev.ToDomainEvent()
	return breaker.Retry(ctx, p.config.Retry, func(ctx context.Context) error {
		return b.Execute(ctx, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
			defer cancel()
			return p.channel.Publish(ctx, event)
		})
	})
}

func (p *Publisher) refreshBacklog(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	n, err := p.outbox.CountUnpublished(ctx)
	if err != nil {
		p.logger.Debug("failed to count outbox backlog", zap.Error(err))
		return
	}
	p.metrics.SetOutboxBacklog(n)
}

// Cleanup removes published rows older than the retention, at most once per
// cleanup interval across all instances sharing the state store. Rows are
// archived first when an archive is configured; a failed archive skips the
// delete.
func (p *Publisher) Cleanup(ctx context.Context) error {
	now := p.now()
	if !p.cleanupDue(ctx, now) {
		return nil
	}

	cutoff := now.Add(-p.config.Retention)

	if p.archive != nil {
		limit := 10 * p.config.BatchSize
		old, err := p.outbox.FindPublishedBefore(ctx, cutoff, limit)
		if err != nil {
			return err
		}
		if len(old) > 0 {
			if err := p.archive.Archive(ctx, old); err != nil {
				return err
			}
		}
		if len(old) == limit {
			// Only archived rows may go; the rest waits for the next run.
			cutoff = old[len(old)-1].CreatedAt
		}
	}

	deleted, err := p.outbox.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	p.markCleanup(ctx, now)

	if deleted > 0 {
		p.metrics.RecordOutboxCleaned(deleted)
		p.logger.Info("cleaned up old outbox events", zap.Int64("deleted", deleted))
	}
	return nil
}

func (p *Publisher) cleanupDue(ctx context.Context, now time.Time) bool {
	p.mu.Lock()
	last := p.lastCleanup
	p.mu.Unlock()
	if !last.IsZero() && now.Sub(last) < p.config.CleanupInterval {
		return false
	}

	if p.state == nil {
		return true
	}
	raw, err := p.state.Get(ctx, lastCleanupKey)
	if err != nil {
		p.logger.Debug("failed to read last cleanup", zap.Error(err))
		return true
	}
	if raw == nil {
		return true
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return true
	}
	shared := time.UnixMilli(ms)
	if now.Sub(shared) >= p.config.CleanupInterval {
		return true
	}

	// Another instance cleaned up recently; skip the store until its interval ends.
	p.mu.Lock()
	if shared.After(p.lastCleanup) {
		p.lastCleanup = shared
	}
	p.mu.Unlock()
	return false
}

func (p *Publisher) markCleanup(ctx context.Context, now time.Time) {
	p.mu.Lock()
	p.lastCleanup = now
	p.mu.Unlock()

	if p.state == nil {
		return
	}
	val := []byte(strconv.FormatInt(now.UnixMilli(), 10))
	if err := p.state.Set(ctx, lastCleanupKey, val, 2*p.config.CleanupInterval); err != nil {
		p.logger.Debug("failed to record last cleanup", zap.Error(err))
	}
}
