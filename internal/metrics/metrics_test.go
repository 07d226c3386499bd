package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.ObserveRequest("POST", "/webhook/deploy/:name", "200", 15*time.Millisecond)
	m.ObserveExecution("api", "succeeded", 2*time.Second)
	m.ObserveExecution("api", "succeeded", 3*time.Second)
	m.IncRejection("isolation_rejected")
	m.IncReload(nil)
	m.IncReload(errors.New("bad file"))
	m.SetAgentUp("edge-1", true)

	if got := testutil.ToFloat64(m.executions.WithLabelValues("api", "succeeded")); got != 2 {
		t.Errorf("executions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rejections.WithLabelValues("isolation_rejected")); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reloads.WithLabelValues("failure")); got != 1 {
		t.Errorf("reload failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.agentsUp.WithLabelValues("edge-1")); got != 1 {
		t.Errorf("agent_up = %v, want 1", got)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(reg)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}

	first.IncRejection("busy")
	if got := testutil.ToFloat64(second.rejections.WithLabelValues("busy")); got != 1 {
		t.Errorf("second instance should share collectors, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", "/health", "200", time.Millisecond)
	m.ObserveExecution("api", "failed", time.Second)
	m.IncRejection("x")
	m.IncReload(nil)
	m.SetAgentUp("a", false)
}
