package ipc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects connection statistics. A nil *Metrics records nothing.
type Metrics struct {
	Clients           prometheus.Gauge
	ConnectAttempts   prometheus.Counter
	HeartbeatFailures prometheus.Counter
	Evictions         prometheus.Counter
	Calls             *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pipc",
			Name:      "clients",
			Help:      "Number of accepted clients currently connected.",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipc",
			Name:      "connect_attempts_total",
			Help:      "Number of dial attempts made by clients.",
		}),
		HeartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipc",
			Name:      "heartbeat_failures_total",
			Help:      "Number of clients closed after a failed heartbeat.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pipc",
			Name:      "evictions_total",
			Help:      "Number of clients evicted for missing heartbeats.",
		}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipc",
			Name:      "calls_total",
			Help:      "Number of inbound calls by method and kind.",
		}, []string{"method", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.Clients, m.ConnectAttempts, m.HeartbeatFailures, m.Evictions, m.Calls)
	}
	return m
}

func (m *Metrics) clientOpened() {
	if m != nil {
		m.Clients.Inc()
	}
}

func (m *Metrics) clientClosed() {
	if m != nil {
		m.Clients.Dec()
	}
}

func (m *Metrics) connectAttempt() {
	if m != nil {
		m.ConnectAttempts.Inc()
	}
}

func (m *Metrics) heartbeatFailure() {
	if m != nil {
		m.HeartbeatFailures.Inc()
	}
}

func (m *Metrics) eviction() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) call(desc MethodDescriptor) {
	if m != nil {
		m.Calls.WithLabelValues(desc.Name, desc.Kind.String()).Inc()
	}
}
