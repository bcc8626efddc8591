package breaker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var errForcedTrip = errors.New("forced trip")

// Registry hands out one breaker per dependency name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
	logger   *zap.Logger
	onChange StateChangeFunc
}

// NewRegistry creates a registry whose breakers use defaults unless
// GetWithConfig supplies overrides.
func NewRegistry(defaults Config, logger *zap.Logger, onChange StateChangeFunc) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults.withDefaults(),
		logger:   logger,
		onChange: onChange,
	}
}

// Get returns the breaker for name, creating it with the registry defaults.
func (r *Registry) Get(name string) *Breaker {
	return r.GetWithConfig(name, r.defaults)
}

// GetWithConfig returns the breaker for name, creating it with config on
// first use. An existing breaker keeps its original configuration.
func (r *Registry) GetWithConfig(name string, config Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, config, r.logger, r.onChange)
	r.breakers[name] = b
	return b
}

// AllMetrics returns a snapshot of every registered breaker, sorted by name.
func (r *Registry) AllMetrics() []Metrics {
	r.mu.RLock()
	out := make([]Metrics, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Metrics())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset replaces the named breaker with a fresh CLOSED one. It reports
// whether the breaker existed.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		return false
	}
	r.breakers[name] = New(name, b.Config(), r.logger, r.onChange)
	r.logger.Info("circuit breaker reset", zap.String("dependency", name))
	return true
}

// ResetAll replaces every breaker with a fresh CLOSED one.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, b := range r.breakers {
		r.breakers[name] = New(name, b.Config(), r.logger, r.onChange)
	}
	r.logger.Info("all circuit breakers reset", zap.Int("count", len(r.breakers)))
}

// Trip forces the named breaker OPEN, creating it if needed. Used by
// operators to shed load from a dependency known to be unhealthy.
func (r *Registry) Trip(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	config := r.defaults
	if b, ok := r.breakers[name]; ok {
		config = b.Config()
	}

	b := New(name, config, r.logger, r.onChange)
	for i := uint32(0); i < config.FailureThreshold; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return errForcedTrip })
	}
	r.breakers[name] = b
	r.logger.Warn("circuit breaker tripped manually", zap.String("dependency", name))
}
