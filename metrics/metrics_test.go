package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncRequest("ok")
	m.ObserveDuration(time.Second)
	m.IncRetries()
	m.IncRotation()
	m.IncRender("ok")
	m.IncError("timeout")
	m.AddItems("jumia", 3)
	m.ObserveTask("jumia", "ok", time.Second)
	m.IncCache("hit")
	m.AddGroups(2)
}

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.IncRequest("blocked")
	m.IncRequest("blocked")
	m.AddItems("jiji", 5)
	m.ObserveTask("jiji", "timeout", 60*time.Second)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("blocked")); got != 2 {
		t.Fatalf("blocked requests=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ItemsTotal.WithLabelValues("jiji")); got != 5 {
		t.Fatalf("items=%v, want 5", got)
	}
	if got := testutil.ToFloat64(m.TasksTotal.WithLabelValues("jiji", "timeout")); got != 1 {
		t.Fatalf("timeout tasks=%v, want 1", got)
	}
}
