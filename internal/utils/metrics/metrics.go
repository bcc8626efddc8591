package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. Record methods are safe to call on
// a nil *Metrics so that components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Payment metrics
	PaymentsCreatedTotal *prometheus.CounterVec
	TransitionsTotal     *prometheus.CounterVec
	WebhooksTotal        *prometheus.CounterVec

	// Outbox metrics
	OutboxPublishedTotal prometheus.Counter
	OutboxFailedTotal    prometheus.Counter
	OutboxCleanedTotal   prometheus.Counter
	OutboxBacklog        prometheus.Gauge

	// Breaker metrics
	BreakerState *prometheus.GaugeVec

	// Idempotency metrics
	IdempotencyTotal *prometheus.CounterVec

	// Subscriber metrics
	EventsConsumedTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered with the default registerer.
func New(namespace string) *Metrics {
	return NewWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a new Metrics instance registered with reg.
func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "pledgeflow"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Payment metrics
		PaymentsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "created_total",
				Help:      "Total number of initiate calls by outcome",
			},
			[]string{"result"}, // created, replayed
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "transitions_total",
				Help:      "Total number of state transition decisions",
			},
			[]string{"from", "to", "allowed"},
		),
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "webhooks_total",
				Help:      "Total number of processed webhooks by result",
			},
			[]string{"result"}, // applied, denied, duplicate
		),

		// Outbox metrics
		OutboxPublishedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "published_total",
				Help:      "Total number of outbox events published",
			},
		),
		OutboxFailedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "failed_total",
				Help:      "Total number of failed outbox publish attempts",
			},
		),
		OutboxCleanedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "cleaned_total",
				Help:      "Total number of published outbox events removed",
			},
		),
		OutboxBacklog: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "backlog",
				Help:      "Number of unpublished outbox events",
			},
		),

		// Breaker metrics
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"dependency"},
		),

		// Idempotency metrics
		IdempotencyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "idempotency",
				Name:      "checks_total",
				Help:      "Total number of idempotency checks by result",
			},
			[]string{"scope", "result"}, // result: hit, miss, conflict
		),

		// Subscriber metrics
		EventsConsumedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "consumed_total",
				Help:      "Total number of consumed events by type and result",
			},
			[]string{"type", "result"}, // result: handled, duplicate, ignored, failed
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPaymentInitiated records an initiate call.
func (m *Metrics) RecordPaymentInitiated(replayed bool) {
	if m == nil {
		return
	}
	result := "created"
	if replayed {
		result = "replayed"
	}
	m.PaymentsCreatedTotal.WithLabelValues(result).Inc()
}

// RecordTransition records a transition decision.
func (m *Metrics) RecordTransition(from, to string, allowed bool) {
	if m == nil {
		return
	}
	a := "false"
	if allowed {
		a = "true"
	}
	m.TransitionsTotal.WithLabelValues(from, to, a).Inc()
}

// RecordWebhook records a webhook outcome.
func (m *Metrics) RecordWebhook(result string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(result).Inc()
}

// RecordOutboxPublished records delivered and failed outbox events.
func (m *Metrics) RecordOutboxPublished(published, failed int) {
	if m == nil {
		return
	}
	m.OutboxPublishedTotal.Add(float64(published))
	m.OutboxFailedTotal.Add(float64(failed))
}

// RecordOutboxCleaned records removed outbox events.
func (m *Metrics) RecordOutboxCleaned(n int64) {
	if m == nil {
		return
	}
	m.OutboxCleanedTotal.Add(float64(n))
}

// SetOutboxBacklog sets the unpublished outbox size.
func (m *Metrics) SetOutboxBacklog(n int64) {
	if m == nil {
		return
	}
	m.OutboxBacklog.Set(float64(n))
}

// SetBreakerState sets the breaker state gauge for a dependency.
func (m *Metrics) SetBreakerState(dependency, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	m.BreakerState.WithLabelValues(dependency).Set(v)
}

// RecordIdempotency records an idempotency check outcome.
func (m *Metrics) RecordIdempotency(scope, result string) {
	if m == nil {
		return
	}
	m.IdempotencyTotal.WithLabelValues(scope, result).Inc()
}

// RecordEventConsumed records a consumed event.
func (m *Metrics) RecordEventConsumed(eventType, result string) {
	if m == nil {
		return
	}
	m.EventsConsumedTotal.WithLabelValues(eventType, result).Inc()
}
