package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetConnected(3)
	m.Sent()
	m.Sent()
	m.Received()
	m.ConnectAttempt(ModeManual)
	m.ConnectAttempt(ModeAuto)
	m.ConnectAttempt(ModeAuto)
	m.ConnectFailure(ReasonTimeout)

	if got := testutil.ToFloat64(m.PeersConnected); got != 3 {
		t.Errorf("peers connected = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MessagesSent); got != 2 {
		t.Errorf("messages sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.MessagesReceived); got != 1 {
		t.Errorf("messages received = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectAttempts.WithLabelValues(ModeAuto)); got != 2 {
		t.Errorf("auto attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConnectFailures.WithLabelValues(ReasonTimeout)); got != 1 {
		t.Errorf("timeout failures = %v, want 1", got)
	}
	n, err := testutil.GatherAndCount(reg, "kniffel_connect_attempts_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("connect attempt series = %d, want 2", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.SetConnected(1)
	m.Sent()
	m.Received()
	m.ConnectAttempt(ModeManual)
	m.ConnectFailure(ReasonClosed)
}
