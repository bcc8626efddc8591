package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics() *Metrics {
	return NewWithRegisterer("test", prometheus.NewRegistry())
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics()

	m.RecordHTTPRequest("POST", "/api/v1/payments", "201", 20*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/v1/payments", "201", 30*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/payments", "201")))
}

func TestRecordPaymentInitiated(t *testing.T) {
	m := newTestMetrics()

	m.RecordPaymentInitiated(false)
	m.RecordPaymentInitiated(true)
	m.RecordPaymentInitiated(true)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsCreatedTotal.WithLabelValues("created")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PaymentsCreatedTotal.WithLabelValues("replayed")))
}

func TestRecordTransition(t *testing.T) {
	m := newTestMetrics()

	m.RecordTransition("PENDING", "AUTHORIZED", true)
	m.RecordTransition("CAPTURED", "AUTHORIZED", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("PENDING", "AUTHORIZED", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("CAPTURED", "AUTHORIZED", "false")))
}

func TestOutboxMetrics(t *testing.T) {
	m := newTestMetrics()

	m.RecordOutboxPublished(3, 1)
	m.RecordOutboxCleaned(7)
	m.SetOutboxBacklog(12)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.OutboxPublishedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboxFailedTotal))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.OutboxCleanedTotal))
	assert.Equal(t, float64(12), testutil.ToFloat64(m.OutboxBacklog))
}

func TestSetBreakerState(t *testing.T) {
	m := newTestMetrics()

	m.SetBreakerState("events", "OPEN")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.BreakerState.WithLabelValues("events")))

	m.SetBreakerState("events", "HALF_OPEN")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BreakerState.WithLabelValues("events")))

	m.SetBreakerState("events", "CLOSED")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.BreakerState.WithLabelValues("events")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
		m.RecordPaymentInitiated(false)
		m.RecordTransition("PENDING", "FAILED", true)
		m.RecordWebhook("applied")
		m.RecordOutboxPublished(1, 0)
		m.RecordOutboxCleaned(1)
		m.SetOutboxBacklog(1)
		m.SetBreakerState("events", "OPEN")
		m.RecordIdempotency("request", "hit")
		m.RecordEventConsumed("pledge.created", "handled")
	})
}
