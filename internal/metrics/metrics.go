package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Connect attempt modes and failure reasons used as label values.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"

	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonClosed    = "closed"
)

// Metrics are the sync layer's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	PeersConnected   prometheus.Gauge
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	ConnectAttempts  *prometheus.CounterVec
	ConnectFailures  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kniffel_peers_connected",
			Help: "Number of peer connections currently open.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kniffel_sync_messages_sent_total",
			Help: "Sync messages sent to peers.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kniffel_sync_messages_received_total",
			Help: "Sync messages received from peers.",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kniffel_connect_attempts_total",
			Help: "Outbound peer connect attempts.",
		}, []string{"mode"}),
		ConnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kniffel_connect_failures_total",
			Help: "Outbound peer connect attempts that failed.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.PeersConnected, m.MessagesSent, m.MessagesReceived, m.ConnectAttempts, m.ConnectFailures)
	return m
}

func (m *Metrics) SetConnected(n int) {
	if m == nil {
		return
	}
	m.PeersConnected.Set(float64(n))
}

func (m *Metrics) Sent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) ConnectAttempt(mode string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(mode).Inc()
}

func (m *Metrics) ConnectFailure(reason string) {
	if m == nil {
		return
	}
	m.ConnectFailures.WithLabelValues(reason).Inc()
}
