package telemetry

import (
	"context"
	"sync/atomic"
	"time"
)

// Critical metric names. flow_mismatch_total, zero_techniques_total,
// builder_invariant_violations, canary_test_failed and
// receipt_invalid_total must alert if non-zero in a window.
const (
	MetricFlowMismatch       = "flow_mismatch_total"
	MetricZeroTechniques     = "zero_techniques_total"
	MetricBuilderInvariant   = "builder_invariant_violations"
	MetricCanaryFailed       = "canary_test_failed"
	MetricReceiptInvalid     = "receipt_invalid_total"

	MetricRequests           = "pipeline.requests"
	MetricRequestDuration    = "pipeline.duration_ms"
	MetricStageDuration      = "pipeline.stage.duration_ms"
	MetricStageErrors        = "pipeline.stage.errors"
	MetricBaselineResponses  = "planner.baseline_responses"
	MetricPlannerRejections  = "planner.validator_rejections"
	MetricRetrievalDown      = "retrieval.unavailable"
	MetricVariantsGenerated  = "builder.variants_generated"
	MetricVariantsDropped    = "builder.variants_dropped"
	MetricRunnerCalls        = "runner.calls"
	MetricRunnerErrors       = "runner.errors"
	MetricRunnerLatency      = "runner.latency_ms"
	MetricRunnerCost         = "runner.cost_usd"
	MetricEvaluatorFailures  = "evaluator.failures"
	MetricEvaluatorDrift     = "evaluator.drift_detected"
	MetricDisagreements      = "evaluator.disagreements"
	MetricSafetyBlocks       = "safety.blocked"
	MetricRateLimited        = "gateway.rate_limited"
)

// globalRegistry holds the process-wide registry set by Init.
var globalRegistry atomic.Pointer[Registry]

// Init installs the process-wide registry. Call once at startup.
func Init(serviceName string, stdoutExporter bool) (*Registry, error) {
	r, err := NewRegistry(serviceName, stdoutExporter)
	if err != nil {
		return nil, err
	}
	globalRegistry.Store(r)
	return r, nil
}

// Default returns the installed registry, lazily creating a non-exporting
// one so the helpers never panic before Init.
func Default() *Registry {
	if r := globalRegistry.Load(); r != nil {
		return r
	}
	r, err := NewRegistry("promptdial", false)
	if err != nil {
		return nil
	}
	// A concurrent Init wins; reload either way.
	globalRegistry.CompareAndSwap(nil, r)
	return globalRegistry.Load()
}

// Counter increments a counter metric by 1.
// Labels are key-value pairs: Counter("runner.calls", "provider", "openai").
func Counter(name string, labels ...string) {
	Add(name, 1, labels...)
}

// Add increments a counter metric by value.
func Add(name string, value float64, labels ...string) {
	if r := Default(); r != nil {
		r.Add(context.Background(), name, value, labels...)
	}
}

// Gauge sets a current-value metric.
func Gauge(name string, value float64, labels ...string) {
	if r := Default(); r != nil {
		r.Set(context.Background(), name, value, labels...)
	}
}

// Histogram records a value in a distribution (latencies, sizes, scores).
func Histogram(name string, value float64, labels ...string) {
	if r := Default(); r != nil {
		r.Observe(context.Background(), name, value, labels...)
	}
}

// Duration records elapsed time since startTime in milliseconds.
//
//	start := time.Now()
//	defer telemetry.Duration("pipeline.duration_ms", start)
func Duration(name string, startTime time.Time, labels ...string) {
	Histogram(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

// CounterValue reads the local value of a counter. Used by the canary and
// by tests; export paths read from OTel or Prometheus instead.
func CounterValue(name string) float64 {
	if r := Default(); r != nil {
		return r.CounterValue(name)
	}
	return 0
}
