package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes connection and routing counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	activeConns     prometheus.Gauge
	connsTotal      prometheus.Counter
	supersededTotal prometheus.Counter
	messages        *prometheus.CounterVec
	routeLatency    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Identities with a live connection.",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Connections accepted since start.",
		}),
		supersededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_superseded_total",
			Help: "Connections closed because the same identity connected again.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Inbound envelopes grouped by routing outcome.",
		}, []string{"outcome"}),
		routeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_route_latency_seconds",
			Help:    "Time spent routing one inbound envelope.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	reg.MustRegister(
		m.activeConns,
		m.connsTotal,
		m.supersededTotal,
		m.messages,
		m.routeLatency,
	)
	return m
}

func (m *Metrics) connOpened(superseded bool) {
	if m == nil {
		return
	}
	m.connsTotal.Inc()
	if superseded {
		m.supersededTotal.Inc()
		return
	}
	m.activeConns.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *Metrics) observeRoute(outcome Outcome, dur time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome.String()).Inc()
	m.routeLatency.Observe(dur.Seconds())
}
