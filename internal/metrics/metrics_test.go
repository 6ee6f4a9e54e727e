package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RemoteCall("link", OutcomeOK)
	m.RemoteCall("link", OutcomeOK)
	m.RemoteCall("link", OutcomeBenign)
	m.Invalidated("pinned")
	m.StaleDropped("resolver")
	m.ProgressEvent(OutcomeStale)
	m.Reconnect()
	m.ConnectionState(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("link", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("link", OutcomeBenign)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalidations.WithLabelValues("pinned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleDrops.WithLabelValues("resolver")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.progressEvents.WithLabelValues(OutcomeStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState))

	n, err := testutil.GatherAndCount(reg, "graphcore_remote_calls_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RemoteCall("x", OutcomeError)
		m.Invalidated("list")
		m.StaleDropped("store")
		m.ProgressEvent(OutcomeApplied)
		m.Reconnect()
		m.ConnectionState(3)
	})
}
