// Package metrics exposes prometheus instruments for the graph state layer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelOperation = "operation"
	labelOutcome   = "outcome"
	labelTopic     = "topic"
	labelComponent = "component"
)

// Outcomes of a remote call or a progress event.
const (
	OutcomeOK      = "ok"
	OutcomeBenign  = "benign"
	OutcomeError   = "error"
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
	OutcomeInvalid = "invalid"
)

type Metrics struct {
	remoteCalls     *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
	staleDrops      *prometheus.CounterVec
	progressEvents  *prometheus.CounterVec
	reconnects      prometheus.Counter
	connectionState prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphcore_remote_calls_total",
			Help: "Remote graph API calls by operation and outcome",
		}, []string{labelOperation, labelOutcome}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphcore_cache_invalidations_total",
			Help: "Shared store invalidations by topic",
		}, []string{labelTopic}),
		staleDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphcore_stale_results_dropped_total",
			Help: "Read results discarded because a newer selection or revision superseded them",
		}, []string{labelComponent}),
		progressEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphcore_progress_events_total",
			Help: "Progress events by reconciliation outcome",
		}, []string{labelOutcome}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphcore_progress_reconnects_total",
			Help: "Progress channel reconnect attempts",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphcore_progress_connection_state",
			Help: "Progress channel state: 0 connecting, 1 connected, 2 disconnected, 3 error",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.remoteCalls,
			m.invalidations,
			m.staleDrops,
			m.progressEvents,
			m.reconnects,
			m.connectionState,
		)
	}
	return m
}

func (m *Metrics) RemoteCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Invalidated(topic string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(topic).Inc()
}

func (m *Metrics) StaleDropped(component string) {
	if m == nil {
		return
	}
	m.staleDrops.WithLabelValues(component).Inc()
}

func (m *Metrics) ProgressEvent(outcome string) {
	if m == nil {
		return
	}
	m.progressEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ConnectionState records the subscriber state as its ordinal.
func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}
