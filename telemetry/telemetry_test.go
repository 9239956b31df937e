package telemetry

import (
	"context"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry("promptdial-test", false)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestCounterAccumulates(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Add(ctx, "flow_mismatch_total", 1)
	r.Add(ctx, "flow_mismatch_total", 1)
	r.Add(ctx, "flow_mismatch_total", 3)

	if got := r.CounterValue("flow_mismatch_total"); got != 5 {
		t.Errorf("counter = %f, want 5", got)
	}
	if got := r.CounterValue("never_written"); got != 0 {
		t.Errorf("unwritten counter = %f, want 0", got)
	}
}

func TestCounterConcurrentUpdates(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Add(ctx, "pipeline.requests", 1)
			}
		}()
	}
	wg.Wait()

	if got := r.CounterValue("pipeline.requests"); got != 5000 {
		t.Errorf("counter = %f, want 5000", got)
	}
}

func TestHistogramSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		r.Observe(ctx, "pipeline.duration_ms", float64(i))
	}

	snap := r.Snapshot()
	h, ok := snap["pipeline.duration_ms"]
	if !ok {
		t.Fatal("histogram missing from snapshot")
	}
	if h.Type != "histogram" {
		t.Errorf("type = %q", h.Type)
	}
	if h.Count != 100 {
		t.Errorf("count = %d", h.Count)
	}
	if h.Sum != 5050 {
		t.Errorf("sum = %f", h.Sum)
	}
	if h.Min != 1 || h.Max != 100 {
		t.Errorf("min/max = %f/%f", h.Min, h.Max)
	}
	if h.P50 != 50 {
		t.Errorf("p50 = %f", h.P50)
	}
	if h.P95 != 95 {
		t.Errorf("p95 = %f", h.P95)
	}
	if h.P99 != 99 {
		t.Errorf("p99 = %f", h.P99)
	}
}

func TestGaugeSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Set(ctx, "audit.ring_size", 42)
	r.Set(ctx, "audit.ring_size", 17)

	snap := r.Snapshot()
	g, ok := snap["audit.ring_size"]
	if !ok {
		t.Fatal("gauge missing from snapshot")
	}
	if g.Value != 17 {
		t.Errorf("gauge = %f, want last set value", g.Value)
	}
}

func TestPromNameSanitization(t *testing.T) {
	cases := map[string]string{
		"pipeline.duration_ms": "pipeline_duration_ms",
		"flow_mismatch_total":  "flow_mismatch_total",
		"runner.cost_usd":      "runner_cost_usd",
	}
	for in, want := range cases {
		if got := promName(in); got != want {
			t.Errorf("promName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPrometheusMirror(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Add(ctx, "canary_test_failed", 2)
	families, err := r.PrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "canary_test_failed" {
			found = true
			if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 2 {
				t.Errorf("prometheus counter = %f, want 2", v)
			}
		}
	}
	if !found {
		t.Error("canary_test_failed not exported to prometheus")
	}
}
