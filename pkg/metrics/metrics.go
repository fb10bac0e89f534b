// Package metrics provides Prometheus instrumentation for the RPC
// engine. A nil *Metrics is a valid recorder that collects nothing, so
// callers pay zero overhead when metrics are disabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's collectors, registered on a private registry
// so tests and embedders never collide with the global default.
type Metrics struct {
	registry *prometheus.Registry

	callsTotal        *prometheus.CounterVec
	callErrorsTotal   *prometheus.CounterVec
	activeConnections prometheus.Gauge
	pendingSessions   prometheus.Gauge
	callDuration      prometheus.Histogram
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sexpc_calls_total",
			Help: "RPC calls by direction.",
		}, []string{"direction"}),
		callErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sexpc_call_errors_total",
			Help: "RPC call failures by kind (application or protocol).",
		}, []string{"kind"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sexpc_active_connections",
			Help: "Currently live peer connections.",
		}),
		pendingSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sexpc_pending_sessions",
			Help: "Outbound calls awaiting a reply.",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sexpc_call_duration_seconds",
			Help:    "Outbound call round-trip time.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	m.registry.MustRegister(
		m.callsTotal,
		m.callErrorsTotal,
		m.activeConnections,
		m.pendingSessions,
		m.callDuration,
	)
	return m
}

// RecordCall counts one call in the given direction.
func (m *Metrics) RecordCall(direction string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(direction).Inc()
}

// RecordCallError counts one failed call of the given kind.
func (m *Metrics) RecordCallError(kind string) {
	if m == nil {
		return
	}
	m.callErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveCallDuration records one outbound round-trip.
func (m *Metrics) ObserveCallDuration(seconds float64) {
	if m == nil {
		return
	}
	m.callDuration.Observe(seconds)
}

// SetPendingSessions records the current pending-session count.
func (m *Metrics) SetPendingSessions(n int) {
	if m == nil {
		return
	}
	m.pendingSessions.Set(float64(n))
}

// SetActiveConnections records the current live-connection count.
func (m *Metrics) SetActiveConnections(n int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(n))
}

// Registry exposes the private registry, for the HTTP server and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
