package evaluate

import (
	"math"
	"sync"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// Calibration monitor constants.
const (
	// ringCapacity bounds the data point history.
	ringCapacity = 1000
	// minHumanPoints is the feedback floor below which no calibration is
	// applied for an evaluator.
	minHumanPoints = 5
	// driftThreshold triggers a drift event when exceeded.
	driftThreshold = 0.05
)

// DataPoint is one scored variant, optionally annotated with a human score.
type DataPoint struct {
	VariantID  string
	Scores     map[string]float64
	HumanScore *float64
	Timestamp  time.Time
}

// EvaluatorStats summarizes one evaluator's agreement with human feedback.
type EvaluatorStats struct {
	Correlation float64
	Bias        float64
	Variance    float64
	Drift       float64
	HumanPoints int
}

// Monitor is the process-wide calibration store: a fixed ring of the most
// recent data points. All methods serialize on one mutex.
type Monitor struct {
	mu     sync.Mutex
	points [ringCapacity]*DataPoint
	next   int
	count  int
	logger core.Logger
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{logger: &core.NoOpLogger{}}
}

// NewMonitorWithLogger creates a monitor that logs drift events.
func NewMonitorWithLogger(logger core.Logger) *Monitor {
	m := NewMonitor()
	if logger != nil {
		m.logger = logger
	}
	return m
}

// AddDataPoint appends a scored variant, evicting the oldest when full.
func (m *Monitor) AddDataPoint(variantID string, scores map[string]float64) {
	copied := make(map[string]float64, len(scores))
	for k, v := range scores {
		copied[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[m.next] = &DataPoint{
		VariantID: variantID,
		Scores:    copied,
		Timestamp: time.Now(),
	}
	m.next = (m.next + 1) % ringCapacity
	if m.count < ringCapacity {
		m.count++
	}
}

// AddHumanFeedback attaches a human score to the most recent data point for
// the variant. Unknown variants are ignored.
func (m *Monitor) AddHumanFeedback(variantID string, human float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Scan newest to oldest.
	for off := 1; off <= m.count; off++ {
		idx := (m.next - off + ringCapacity) % ringCapacity
		p := m.points[idx]
		if p != nil && p.VariantID == variantID {
			h := human
			p.HumanScore = &h
			return
		}
	}
}

// Calibrate applies the linear correction for an evaluator when enough
// human-scored points exist: adjusted = scale*raw + offset with
// scale = 1/sqrt(variance) and offset = -bias*scale. The result is clamped
// to [0,1].
func (m *Monitor) Calibrate(evaluator string, raw float64) float64 {
	stats := m.Stats(evaluator)
	if stats.HumanPoints < minHumanPoints {
		return raw
	}
	scale := 1.0
	if stats.Variance > 0 {
		scale = 1 / math.Sqrt(stats.Variance)
	}
	offset := -stats.Bias * scale
	return clamp01(scale*raw + offset)
}

// Stats computes the evaluator's correlation, bias, variance and drift from
// the human-scored points in the ring.
func (m *Monitor) Stats(evaluator string) EvaluatorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Collect oldest-to-newest so the drift halves are chronological.
	var scores, humans []float64
	for off := m.count; off >= 1; off-- {
		idx := (m.next - off + ringCapacity) % ringCapacity
		p := m.points[idx]
		if p == nil || p.HumanScore == nil {
			continue
		}
		s, ok := p.Scores[evaluator]
		if !ok {
			continue
		}
		scores = append(scores, s)
		humans = append(humans, *p.HumanScore)
	}

	n := len(scores)
	stats := EvaluatorStats{HumanPoints: n}
	if n == 0 {
		return stats
	}

	biases := make([]float64, n)
	for i := range scores {
		biases[i] = scores[i] - humans[i]
	}
	stats.Bias = mean(biases)
	stats.Variance = variance(scores)
	stats.Correlation = pearson(scores, humans)

	if n >= 2 {
		half := n / 2
		stats.Drift = math.Abs(mean(biases[half:]) - mean(biases[:half]))
	}
	return stats
}

// CheckDrift emits a drift event for every evaluator whose bias shifted by
// more than the threshold between the old and recent halves of the window.
// Operation continues regardless.
func (m *Monitor) CheckDrift(evaluators []string) []string {
	var drifted []string
	for _, name := range evaluators {
		stats := m.Stats(name)
		if stats.HumanPoints >= minHumanPoints && stats.Drift > driftThreshold {
			drifted = append(drifted, name)
			telemetry.Counter(telemetry.MetricEvaluatorDrift, "evaluator", name)
			m.logger.Warn("Evaluator drift detected", map[string]interface{}{
				"operation": "calibration_drift",
				"evaluator": name,
				"drift":     stats.Drift,
				"bias":      stats.Bias,
				"points":    stats.HumanPoints,
			})
		}
	}
	return drifted
}

// Size reports the number of retained data points.
func (m *Monitor) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mu := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return sum / float64(len(xs)-1)
}

func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var num, dx, dy float64
	for i := 0; i < n; i++ {
		a, b := xs[i]-mx, ys[i]-my
		num += a * b
		dx += a * a
		dy += b * b
	}
	if dx == 0 || dy == 0 {
		return 0
	}
	return num / math.Sqrt(dx*dy)
}
