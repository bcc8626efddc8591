package breaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetReturnsSameInstance(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil)

	a := r.Get("stripe")
	b := r.Get("stripe")
	assert.Same(t, a, b)
	assert.NotSame(t, a, r.Get("events"))
}

func TestRegistry_GetWithConfigKeepsFirstConfig(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil)

	custom := testConfig()
	custom.FailureThreshold = 10
	b := r.GetWithConfig("stripe", custom)
	assert.Equal(t, uint32(10), b.Config().FailureThreshold)

	again := r.GetWithConfig("stripe", testConfig())
	assert.Equal(t, uint32(10), again.Config().FailureThreshold)
}

func TestRegistry_TripAndReset(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil)

	r.Trip("events")
	assert.Equal(t, StateOpen, r.Get("events").State())

	err := r.Get("events").Execute(context.Background(), succeed)
	assert.True(t, IsOpen(err))

	require.True(t, r.Reset("events"))
	assert.Equal(t, StateClosed, r.Get("events").State())
	assert.False(t, r.Reset("unknown"))
}

func TestRegistry_ResetAllAndMetrics(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil)
	r.Trip("b")
	r.Trip("a")

	metrics := r.AllMetrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, "a", metrics[0].Name)
	assert.Equal(t, StateOpen, metrics[0].State)

	r.ResetAll()
	for _, m := range r.AllMetrics() {
		assert.Equal(t, StateClosed, m.State)
		assert.Equal(t, uint64(0), m.TotalRequests)
	}
}
