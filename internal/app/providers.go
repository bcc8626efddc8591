package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/wire"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pledgeflow/payments/internal/domain/payment"

	// Inbound adapters
	paymenthttp "github.com/pledgeflow/payments/internal/adapter/inbound/http/payment"

	// Ports
	"github.com/pledgeflow/payments/internal/port/outbound"

	// Outbound adapters
	kafkaadapter "github.com/pledgeflow/payments/internal/adapter/outbound/kafka"
	"github.com/pledgeflow/payments/internal/adapter/outbound/memory"
	"github.com/pledgeflow/payments/internal/adapter/outbound/postgres"
	pubsubadapter "github.com/pledgeflow/payments/internal/adapter/outbound/pubsub"
	redisadapter "github.com/pledgeflow/payments/internal/adapter/outbound/redis"
	s3adapter "github.com/pledgeflow/payments/internal/adapter/outbound/s3"
	stripeadapter "github.com/pledgeflow/payments/internal/adapter/outbound/stripe"

	// Infrastructure
	"github.com/pledgeflow/payments/internal/infra/breaker"
	"github.com/pledgeflow/payments/internal/infra/config"
	"github.com/pledgeflow/payments/internal/infra/events"
	"github.com/pledgeflow/payments/internal/infra/idempotency"
	"github.com/pledgeflow/payments/internal/infra/outbox"
	"github.com/pledgeflow/payments/internal/shared/cache"
	"github.com/pledgeflow/payments/internal/shared/database"
	"github.com/pledgeflow/payments/internal/shared/logger"

	// Utils
	"github.com/pledgeflow/payments/internal/utils/metrics"
)

// Driver names shared by the idempotency store and the event channel.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverKafka  = "kafka"
	DriverPubSub = "pubsub"
)

// EventChannel is a channel the outbox publishes to and the subscriber
// consumes from.
type EventChannel interface {
	outbound.EventChannelPort
	outbound.EventSubscriberPort
}

// IdempotencyServices groups the services keyed by client request, provider
// webhook and consumed event id.
type IdempotencyServices struct {
	Requests *idempotency.Service
	Webhooks *idempotency.Service
	Events   *idempotency.Service
}

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideDatabase,
	ProvideRedisClient,
	ProvideBreakerRegistry,
)

// ProvideLogger creates the process logger.
func ProvideLogger(cfg *config.Config) *zap.Logger {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// ProvideMetrics creates a metrics instance.
func ProvideMetrics() *metrics.Metrics {
	return metrics.New("pledgeflow")
}

// ProvideDatabase opens the database and migrates the ledger tables.
func ProvideDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			log.Warn("close database", zap.Error(err))
		}
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return db, cleanup, nil
}

// ProvideRedisClient connects to Redis when a driver needs it, and returns
// nil otherwise.
func ProvideRedisClient(cfg *config.Config, log *zap.Logger) (goredis.UniversalClient, func(), error) {
	if !usesRedis(cfg) {
		return nil, func() {}, nil
	}
	client, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		if err := cache.Close(client); err != nil {
			log.Warn("close redis", zap.Error(err))
		}
	}, nil
}

func usesRedis(cfg *config.Config) bool {
	return driver(cfg.Idempotency.Driver, DriverRedis) == DriverRedis ||
		driver(cfg.EventChannel.Driver, DriverRedis) == DriverRedis
}

func driver(name, fallback string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fallback
	}
	return name
}

// ProvideBreakerRegistry creates the breaker registry and exports state
// changes as metrics.
func ProvideBreakerRegistry(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, log, func(name string, _, to breaker.State) {
		m.SetBreakerState(name, string(to))
	})
}

// ===== Outbound Adapter Providers =====

// AdapterSet provides ledger, idempotency and event channel adapters.
var AdapterSet = wire.NewSet(
	postgres.NewPaymentAdapter,
	postgres.NewWebhookEventAdapter,
	postgres.NewOutboxAdapter,
	postgres.NewTransactionAdapter,
	wire.Bind(new(outbound.TransactionPort), new(*postgres.TransactionAdapter)),
	ProvideIdempotencyStore,
	ProvideIdempotencyServices,
	ProvideEventChannel,
	wire.Bind(new(outbound.EventChannelPort), new(EventChannel)),
	ProvideDirectPublisher,
	ProvideWebhookNormalizer,
	ProvideOutboxWakeup,
	ProvideOutboxArchive,
)

// ProvideIdempotencyStore selects the idempotency store driver.
func ProvideIdempotencyStore(cfg *config.Config, redis goredis.UniversalClient) (outbound.IdempotencyStorePort, error) {
	switch d := driver(cfg.Idempotency.Driver, DriverRedis); d {
	case DriverRedis:
		return redisadapter.NewIdempotencyStore(redis), nil
	case DriverMemory:
		return memory.NewIdempotencyStore(memory.DefaultStoreSize), nil
	default:
		return nil, fmt.Errorf("unknown idempotency driver %q", d)
	}
}

// ProvideIdempotencyServices creates the request, webhook and event
// idempotency services over one store.
func ProvideIdempotencyServices(cfg *config.Config, store outbound.IdempotencyStorePort, log *zap.Logger, m *metrics.Metrics) *IdempotencyServices {
	requests := idempotency.DefaultRequestConfig()
	webhooks := idempotency.DefaultWebhookConfig()
	for _, c := range []*idempotency.Config{&requests, &webhooks} {
		if cfg.Idempotency.LockTTL > 0 {
			c.LockTTL = cfg.Idempotency.LockTTL
		}
		if cfg.Idempotency.LockWait > 0 {
			c.LockWait = cfg.Idempotency.LockWait
		}
	}
	if cfg.Idempotency.RequestTTL > 0 {
		requests.TTL = cfg.Idempotency.RequestTTL
	}
	if cfg.Idempotency.WebhookTTL > 0 {
		webhooks.TTL = cfg.Idempotency.WebhookTTL
	}
	consumed := webhooks
	consumed.Scope = "event"

	return &IdempotencyServices{
		Requests: idempotency.NewService(store, requests, log, m),
		Webhooks: idempotency.NewService(store, webhooks, log, m),
		Events:   idempotency.NewService(store, consumed, log, m),
	}
}

// ProvideEventChannel selects the event channel driver.
func ProvideEventChannel(cfg *config.Config, redis goredis.UniversalClient, log *zap.Logger) (EventChannel, func(), error) {
	var (
		ch  EventChannel
		err error
	)
	ec := cfg.EventChannel
	switch d := driver(ec.Driver, DriverRedis); d {
	case DriverRedis:
		ch = redisadapter.NewEventChannel(redis, ec.Redis.Channel, log)
	case DriverKafka:
		ch, err = kafkaadapter.NewEventChannel(ec.Kafka, log)
	case DriverPubSub:
		client, cerr := pubsubadapter.NewClient(context.Background(), ec.PubSub.ProjectID)
		if cerr != nil {
			return nil, nil, cerr
		}
		ch = pubsubadapter.NewEventChannel(client, ec.PubSub.Topic, ec.PubSub.Subscription, log)
	case DriverMemory:
		ch = memory.NewEventChannel("")
	default:
		err = fmt.Errorf("unknown event channel driver %q", d)
	}
	if err != nil {
		return nil, nil, err
	}

	return ch, func() {
		if err := ch.Close(); err != nil {
			log.Warn("close event channel", zap.String("channel", ch.Name()), zap.Error(err))
		}
	}, nil
}

// ProvideDirectPublisher publishes diagnostic events straight to the channel.
func ProvideDirectPublisher(channel outbound.EventChannelPort, breakers *breaker.Registry, log *zap.Logger) outbound.EventPublisherPort {
	return outbox.NewDirectPublisher(channel, breakers, log)
}

// ProvideWebhookNormalizer returns the Stripe normalizer, or nil when no
// webhook secret is configured.
func ProvideWebhookNormalizer(cfg *config.Config) outbound.WebhookNormalizerPort {
	if cfg.Stripe.WebhookSecret == "" {
		return nil
	}
	return stripeadapter.NewNormalizer(cfg.Stripe.WebhookSecret)
}

// ProvideOutboxWakeup opens a LISTEN connection when enabled.
func ProvideOutboxWakeup(cfg *config.Config, log *zap.Logger) (outbound.OutboxWakeupPort, func(), error) {
	if !cfg.Outbox.ListenNotify {
		return nil, func() {}, nil
	}
	n, err := postgres.NewOutboxNotifier(cfg.Database.DSN(), log)
	if err != nil {
		return nil, nil, err
	}
	return n, func() { _ = n.Close() }, nil
}

// ProvideOutboxArchive returns the S3 archive when a bucket is configured.
func ProvideOutboxArchive(cfg *config.Config) (outbound.OutboxArchivePort, error) {
	if cfg.Outbox.ArchiveBucket == "" {
		return nil, nil
	}
	client, err := s3adapter.NewClient(context.Background(), &cfg.Storage)
	if err != nil {
		return nil, err
	}
	return s3adapter.NewOutboxArchive(client, cfg.Outbox.ArchiveBucket, cfg.Outbox.ArchivePrefix), nil
}

// ===== Domain Providers =====

// DomainSet provides the payment domain and its background workers.
var DomainSet = wire.NewSet(
	ProvidePaymentDomain,
	ProvideOutboxPublisher,
	ProvideDispatcher,
	ProvideSubscriber,
)

// ProvidePaymentDomain creates the payment orchestrator.
func ProvidePaymentDomain(
	payments outbound.PaymentDatabasePort,
	webhooks outbound.WebhookEventDatabasePort,
	outboxDB outbound.OutboxDatabasePort,
	tx outbound.TransactionPort,
	idem *IdempotencyServices,
	publisher outbound.EventPublisherPort,
	m *metrics.Metrics,
	log *zap.Logger,
) payment.PaymentDomain {
	return payment.NewPaymentDomain(payment.Deps{
		Payments:     payments,
		Webhooks:     webhooks,
		Outbox:       outboxDB,
		Transactions: tx,
		Requests:     idem.Requests,
		WebhookIdem:  idem.Webhooks,
		Publisher:    publisher,
		Metrics:      m,
	}, log)
}

// ProvideOutboxPublisher creates the outbox publisher.
func ProvideOutboxPublisher(
	cfg *config.Config,
	outboxDB outbound.OutboxDatabasePort,
	channel outbound.EventChannelPort,
	breakers *breaker.Registry,
	wakeup outbound.OutboxWakeupPort,
	archive outbound.OutboxArchivePort,
	store outbound.IdempotencyStorePort,
	m *metrics.Metrics,
	log *zap.Logger,
) *outbox.Publisher {
	oc := outbox.DefaultConfig()
	if cfg.Outbox.PollInterval > 0 {
		oc.PollInterval = cfg.Outbox.PollInterval
	}
	if cfg.Outbox.BatchSize > 0 {
		oc.BatchSize = cfg.Outbox.BatchSize
	}
	if cfg.Outbox.CleanupInterval > 0 {
		oc.CleanupInterval = cfg.Outbox.CleanupInterval
	}
	if cfg.Outbox.Retention > 0 {
		oc.Retention = cfg.Outbox.Retention
	}
	if cfg.Outbox.PublishTimeout > 0 {
		oc.PublishTimeout = cfg.Outbox.PublishTimeout
	}
	oc.Retry = breaker.RetryConfig{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
	}

	return outbox.NewPublisher(outbox.Deps{
		Outbox:   outboxDB,
		Channel:  channel,
		Breakers: breakers,
		Wakeup:   wakeup,
		Archive:  archive,
		State:    store,
		Metrics:  m,
	}, oc, log)
}

// ProvideDispatcher builds the event dispatch table.
func ProvideDispatcher(payments payment.PaymentDomain, log *zap.Logger) *events.Dispatcher {
	d := events.NewDispatcher(log)
	events.RegisterPledgeHandlers(d, payments, log)
	return d
}

// ProvideSubscriber creates the event subscriber.
func ProvideSubscriber(channel EventChannel, d *events.Dispatcher, idem *IdempotencyServices, m *metrics.Metrics, log *zap.Logger) *events.Subscriber {
	return events.NewSubscriber(channel, d, idem.Events, m, log)
}

// ===== HTTP Providers =====

// HTTPSet provides HTTP handlers and the router.
var HTTPSet = wire.NewSet(
	paymenthttp.NewPaymentHandler,
	paymenthttp.NewWebhookHandler,
	paymenthttp.NewAdminHandler,
	wire.Bind(new(paymenthttp.BreakerRegistry), new(*breaker.Registry)),
	ProvideRouter,
)

// AppSet is the full provider graph.
var AppSet = wire.NewSet(
	InfraSet,
	AdapterSet,
	DomainSet,
	HTTPSet,
)
