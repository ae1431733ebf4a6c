// Package metrics registers the node's prometheus collectors: active
// channels, active connections by role, handshake outcomes, bytes relayed,
// and eviction count, per SPEC_FULL.md §2/§6's ambient metrics component.
//
// Grounded in snapetech-plexTuner's use of github.com/prometheus/client_golang
// — the one example-pack repo that wires up Prometheus collectors for a
// long-running streaming service, generalized here from tuner/session
// counters to PCP channel/connection counters. The core only produces and
// updates these collectors; mounting them behind an HTTP /metrics endpoint
// is the (out-of-scope, per spec.md §1) admin surface's job — this package
// exposes a prometheus.Gatherer for that surface to use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the PCP node updates during normal
// operation.
type Metrics struct {
	registry *prometheus.Registry

	ActiveChannels    prometheus.Gauge
	ActiveConnections *prometheus.GaugeVec
	HandshakeOutcomes *prometheus.CounterVec
	BytesRelayed      *prometheus.CounterVec
	Evictions         prometheus.Counter
}

// New constructs a Metrics with a private registry (never the global
// default registerer, so multiple nodes in one test binary don't collide)
// and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ActiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "peercast",
			Name:      "active_channels",
			Help:      "Number of channels currently registered in the repository.",
		}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peercast",
			Name:      "active_connections",
			Help:      "Number of currently active connections, by role.",
		}, []string{"role"}),
		HandshakeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peercast",
			Name:      "handshake_outcomes_total",
			Help:      "Count of handshake attempts, by outcome.",
		}, []string{"outcome"}),
		BytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peercast",
			Name:      "bytes_relayed_total",
			Help:      "Bytes relayed to subscribers, by packet kind.",
		}, []string{"kind"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peercast",
			Name:      "channel_evictions_total",
			Help:      "Count of channels removed by the repository eviction sweep.",
		}),
	}
	reg.MustRegister(m.ActiveChannels, m.ActiveConnections, m.HandshakeOutcomes, m.BytesRelayed, m.Evictions)
	return m
}

// Gatherer exposes the private registry for an admin/HTTP surface to mount
// (e.g. promhttp.HandlerFor(m.Gatherer(), ...)), per SPEC_FULL.md §6.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// ConnectionOpened increments the active-connection gauge for role.
func (m *Metrics) ConnectionOpened(role string) { m.ActiveConnections.WithLabelValues(role).Inc() }

// ConnectionClosed decrements the active-connection gauge for role.
func (m *Metrics) ConnectionClosed(role string) { m.ActiveConnections.WithLabelValues(role).Dec() }

// Handshake records one handshake outcome ("success", "timeout",
// "next_host", "channel_not_found", "error").
func (m *Metrics) Handshake(outcome string) { m.HandshakeOutcomes.WithLabelValues(outcome).Inc() }

// RelayedBytes records n bytes relayed of the given packet kind ("head" or
// "data").
func (m *Metrics) RelayedBytes(kind string, n int) {
	m.BytesRelayed.WithLabelValues(kind).Add(float64(n))
}
