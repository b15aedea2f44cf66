package triage

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/arbiter/internal/enrich"
)

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	svc, _ := newService(t, enrich.Disabled{}, Options{Hooks: m.Hooks()})
	if _, err := svc.Run(context.Background(), []string{"inc-001", "inc-004", "missing"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("propose", "standard", "false")); got != 1 {
		t.Errorf("propose/standard = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("refuse", "critical", "true")); got != 1 {
		t.Errorf("refuse/critical = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("load")); got != 1 {
		t.Errorf("load failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FindingsTotal.WithLabelValues("iec", "fail")); got != 1 {
		t.Errorf("iec fail findings = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("complete")); got != 1 {
		t.Errorf("complete runs = %v, want 1", got)
	}
}

func TestMetrics_EnrichHooks(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	h := m.EnrichHooks()
	h.OnCall("timeout", 20)
	h.OnCall("success", 1.5)
	h.OnCall("timeout", 20)

	if got := testutil.ToFloat64(m.EnrichCallsTotal.WithLabelValues("timeout")); got != 2 {
		t.Errorf("timeout calls = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.EnrichCallDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}
