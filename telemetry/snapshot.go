package telemetry

import (
	"math"
	"sort"
)

// MetricSnapshot is the JSON-facing summary of one metric.
type MetricSnapshot struct {
	Type  string  `json:"type"` // counter | gauge | histogram
	Value float64 `json:"value,omitempty"`
	Count int64   `json:"count,omitempty"`
	Sum   float64 `json:"sum,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
	P50   float64 `json:"p50,omitempty"`
	P95   float64 `json:"p95,omitempty"`
	P99   float64 `json:"p99,omitempty"`
}

// Snapshot returns the current value of every metric the process has
// recorded, keyed by metric name.
func (r *Registry) Snapshot() map[string]MetricSnapshot {
	out := make(map[string]MetricSnapshot)

	r.localCounters.Range(func(key, value interface{}) bool {
		out[key.(string)] = MetricSnapshot{
			Type:  "counter",
			Value: value.(*counterCell).value(),
		}
		return true
	})

	r.localGauges.Range(func(key, value interface{}) bool {
		out[key.(string)] = MetricSnapshot{
			Type:  "gauge",
			Value: value.(*gaugeCell).value(),
		}
		return true
	})

	r.localHists.Range(func(key, value interface{}) bool {
		h := value.(*histCell)
		h.mu.Lock()
		snap := MetricSnapshot{
			Type:  "histogram",
			Count: h.count,
			Sum:   h.sum,
			Min:   h.min,
			Max:   h.max,
		}
		if len(h.values) > 0 {
			sorted := make([]float64, len(h.values))
			copy(sorted, h.values)
			sort.Float64s(sorted)
			snap.P50 = percentile(sorted, 0.50)
			snap.P95 = percentile(sorted, 0.95)
			snap.P99 = percentile(sorted, 0.99)
		}
		h.mu.Unlock()
		out[key.(string)] = snap
		return true
	})

	return out
}

// percentile returns the p-quantile of a sorted slice using the
// nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
