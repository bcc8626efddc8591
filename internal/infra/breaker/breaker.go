// Package breaker guards outbound calls with per-dependency circuit breakers
// and a backoff retry helper.
//
// Breaker state lives in process memory: every instance in a fleet tracks the
// health of its dependencies independently and starts CLOSED after a restart.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrOpen is matched by every error returned while a breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// OpenError is returned instead of invoking the wrapped function while the
// breaker is OPEN, or while HALF_OPEN already has its probes in flight.
type OpenError struct {
	Name    string
	Metrics Metrics
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s", e.Name, e.Metrics.State)
}

// Is makes errors.Is(err, ErrOpen) hold for *OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// IsOpen reports whether err was produced by an open breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrOpen)
}

// Config contains breaker thresholds.
type Config struct {
	// FailureThreshold is the number of failures within ResetTimeout that opens the breaker.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	// SuccessThreshold is the number of consecutive HALF_OPEN successes that closes it.
	SuccessThreshold uint32 `mapstructure:"success_threshold"`
	// Timeout is how long the breaker stays OPEN before the next call probes.
	Timeout time.Duration `mapstructure:"timeout"`
	// ResetTimeout is the CLOSED window after which failure counts are cleared.
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	return c
}

// Metrics is a snapshot of a breaker.
type Metrics struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	Failures        uint32     `json:"failures"`
	Successes       uint32     `json:"successes"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	TotalRequests   uint64     `json:"total_requests"`
	TotalFailures   uint64     `json:"total_failures"`
	TotalSuccesses  uint64     `json:"total_successes"`
	TotalRejected   uint64     `json:"total_rejected"`
}

// StateChangeFunc is notified on every state change.
type StateChangeFunc func(name string, from, to State)

// Breaker wraps a gobreaker instance with cumulative counters and a typed
// open error.
type Breaker struct {
	name   string
	config Config
	cb     *gobreaker.CircuitBreaker[any]
	logger *zap.Logger

	mu              sync.Mutex
	lastFailureTime time.Time
	totalRequests   uint64
	totalFailures   uint64
	totalSuccesses  uint64
	totalRejected   uint64
}

// New creates a breaker for the named dependency.
func New(name string, config Config, logger *zap.Logger, onChange StateChangeFunc) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()

	b := &Breaker{
		name:   name,
		config: config,
		logger: logger.Named("breaker").With(zap.String("dependency", name)),
	}

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: config.SuccessThreshold,
		Interval:    config.ResetTimeout,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= config.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				zap.String("from", string(fromGobreaker(from))),
				zap.String("to", string(fromGobreaker(to))))
			if onChange != nil {
				onChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})

	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the effective configuration.
func (b *Breaker) Config() Config {
	return b.config
}

// State returns the current state. An expired OPEN breaker reports HALF_OPEN.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Execute runs fn under breaker protection. While the breaker is OPEN, fn is
// not invoked and an *OpenError is returned.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithFallback runs fn and, if the breaker rejected the call, returns
// the result of fallback instead of the open error. Errors from fn itself
// are propagated.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, fn func(ctx context.Context) error, fallback func(ctx context.Context, err error) error) error {
	err := b.Execute(ctx, fn)
	if err != nil && IsOpen(err) {
		return fallback(ctx, err)
	}
	return err
}

// Do runs fn under the breaker and returns its value.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	b.mu.Lock()
	b.totalRequests++
	b.mu.Unlock()

	v, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.mu.Lock()
		b.totalRejected++
		b.mu.Unlock()
		return zero, &OpenError{Name: b.name, Metrics: b.Metrics()}
	}

	b.mu.Lock()
	if err != nil {
		b.totalFailures++
		b.lastFailureTime = time.Now()
	} else {
		b.totalSuccesses++
	}
	b.mu.Unlock()

	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// Metrics returns a snapshot of the breaker.
func (b *Breaker) Metrics() Metrics {
	counts := b.cb.Counts()

	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		Name:           b.name,
		State:          fromGobreaker(b.cb.State()),
		Failures:       counts.TotalFailures,
		Successes:      counts.ConsecutiveSuccesses,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
		TotalRejected:  b.totalRejected,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		m.LastFailureTime = &t
	}
	return m
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
