package hportal

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected registered metric families after NewMetrics")
	}

	m.observeSubmit("host", 1)
	m.observeConnectAttempt(true)
	m.observeConnectAttempt(false)
	m.observeCompletion(StatusSuccess)
	m.Refresh(Stats{NConn: 2, StableConn: 1, QueueDepth: 3, CmdsProcessed: 10})
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.observeSubmit("host", 1)
	m.observeConnectAttempt(true)
	m.observeCompletion(StatusError)
	m.Refresh(Stats{})
}
