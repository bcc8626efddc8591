// Package idempotency caches operation results by caller-supplied key and
// serializes concurrent first attempts for the same key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/pledgeflow/payments/internal/utils/metrics"
	"go.uber.org/zap"
)

// ErrConflict is returned when another caller holds the lock for a key and
// has not yet stored a result. The caller should retry later.
var ErrConflict = errors.New("request is being processed by another instance")

// ErrStoreUnavailable wraps failures of the backing store. When it is
// returned from CheckAndProcess the operation did not run.
var ErrStoreUnavailable = errors.New("idempotency store unavailable")

const (
	resultPrefix = "idempotency:"
	lockPrefix   = "lock:"
)

// Config contains idempotency service settings.
type Config struct {
	// Scope labels metrics and logs, e.g. "request" or "webhook".
	Scope string
	// TTL is how long results are remembered.
	TTL time.Duration
	// LockTTL bounds how long a crashed holder can block a key.
	LockTTL time.Duration
	// LockWait is how long a caller that lost the lock race waits before
	// looking for the winner's result.
	LockWait time.Duration
}

// DefaultRequestConfig returns settings for client requests.
func DefaultRequestConfig() Config {
	return Config{
		Scope:    "request",
		TTL:      24 * time.Hour,
		LockTTL:  30 * time.Second,
		LockWait: 100 * time.Millisecond,
	}
}

// DefaultWebhookConfig returns settings for provider webhooks, which may be
// retried for days.
func DefaultWebhookConfig() Config {
	cfg := DefaultRequestConfig()
	cfg.Scope = "webhook"
	cfg.TTL = 7 * 24 * time.Hour
	return cfg
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	IsNew      bool
	Result     json.RawMessage
	RecordedAt time.Time
}

type record struct {
	Result     json.RawMessage `json:"result"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Service provides result caching and mutual exclusion by key.
type Service struct {
	store   outbound.IdempotencyStorePort
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a new idempotency service.
func NewService(store outbound.IdempotencyStorePort, config Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultRequestConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.LockTTL <= 0 {
		config.LockTTL = def.LockTTL
	}
	if config.LockWait <= 0 {
		config.LockWait = def.LockWait
	}
	if config.Scope == "" {
		config.Scope = def.Scope
	}
	return &Service{
		store:   store,
		config:  config,
		logger:  logger.Named("idempotency").With(zap.String("scope", config.Scope)),
		metrics: m,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Check reports whether key has a stored result.
func (s *Service) Check(ctx context.Context, key string) (*CheckResult, error) {
	raw, err := s.store.Get(ctx, resultPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("check idempotency key: %w: %w", ErrStoreUnavailable, err)
	}
	if raw == nil {
		return &CheckResult{IsNew: true}, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &CheckResult{IsNew: false, Result: rec.Result, RecordedAt: rec.RecordedAt}, nil
}

// Set stores result under key for the configured TTL.
func (s *Service) Set(ctx context.Context, key string, result any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency result: %w", err)
	}
	raw, err := json.Marshal(record{Result: encoded, RecordedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.store.Set(ctx, resultPrefix+key, raw, s.config.TTL); err != nil {
		return fmt.Errorf("store idempotency result: %w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Lock tries once to take the processing lock for key. The returned token
// identifies the holder and must be passed to Unlock.
func (s *Service) Lock(ctx context.Context, key string) (token string, acquired bool, err error) {
	token, acquired, err = s.store.AcquireLock(ctx, lockPrefix+key, s.config.LockTTL)
	if err != nil {
		return "", false, fmt.Errorf("acquire idempotency lock: %w: %w", ErrStoreUnavailable, err)
	}
	return token, acquired, nil
}

// Unlock releases the processing lock for key if token still holds it.
func (s *Service) Unlock(ctx context.Context, key, token string) error {
	if err := s.store.ReleaseLock(ctx, lockPrefix+key, token); err != nil {
		return fmt.Errorf("release idempotency lock: %w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// CheckAndProcess runs op at most once per key within the TTL and returns
// its result. wasNew is false when the result came from an earlier call.
// Errors from op are not cached, so a failed attempt can be retried with the
// same key. ErrConflict is returned when a concurrent caller holds the lock
// and has not produced a result within the lock wait.
func CheckAndProcess[T any](ctx context.Context, s *Service, key string, op func(ctx context.Context) (T, error)) (result T, wasNew bool, err error) {
	var zero T

	if cached, ok, err := lookup[T](ctx, s, key); err != nil || ok {
		if ok {
			s.metrics.RecordIdempotency(s.config.Scope, "hit")
		}
		return cached, false, err
	}

	token, acquired, err := s.Lock(ctx, key)
	if err != nil {
		return zero, false, err
	}

	if !acquired {
		timer := time.NewTimer(s.config.LockWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, false, ctx.Err()
		case <-timer.C:
		}

		cached, ok, err := lookup[T](ctx, s, key)
		if err != nil {
			return zero, false, err
		}
		if ok {
			s.metrics.RecordIdempotency(s.config.Scope, "hit")
			return cached, false, nil
		}
		s.metrics.RecordIdempotency(s.config.Scope, "conflict")
		s.logger.Debug("idempotency key locked by another caller", zap.String("key", key))
		return zero, false, ErrConflict
	}

	defer func() {
		if uerr := s.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil {
			s.logger.Warn("failed to release idempotency lock", zap.String("key", key), zap.Error(uerr))
		}
	}()

	// A previous holder may have finished between our first check and the lock.
	if cached, ok, err := lookup[T](ctx, s, key); err != nil || ok {
		if ok {
			s.metrics.RecordIdempotency(s.config.Scope, "hit")
		}
		return cached, false, err
	}

	s.metrics.RecordIdempotency(s.config.Scope, "miss")

	result, err = op(ctx)
	if err != nil {
		return zero, false, err
	}

	if err := s.Set(ctx, key, result); err != nil {
		// The operation committed; later callers fall back to the ledger.
		s.logger.Warn("failed to cache idempotent result", zap.String("key", key), zap.Error(err))
	}

	return result, true, nil
}

func lookup[T any](ctx context.Context, s *Service, key string) (T, bool, error) {
	var zero T

	res, err := s.Check(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if res.IsNew {
		return zero, false, nil
	}

	var v T
	if err := json.Unmarshal(res.Result, &v); err != nil {
		return zero, false, fmt.Errorf("decode cached result: %w", err)
	}
	return v, true, nil
}

// PaymentKey derives the idempotency key for an operation on a pledge's
// payment, e.g. payment:<pledgeId>:initiate.
func PaymentKey(pledgeID, operation string) string {
	return fmt.Sprintf("payment:%s:%s", pledgeID, operation)
}

// WebhookKey derives the idempotency key for a provider webhook.
func WebhookKey(webhookID string) string {
	return "webhook:" + webhookID
}

// EventKey derives the idempotency key for a consumed domain event.
func EventKey(eventID string) string {
	return "event:" + eventID
}
