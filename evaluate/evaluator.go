// Package evaluate implements the evaluator ensemble: a fixed set of
// scorers run in parallel over (variant, response) pairs, calibrated
// against human feedback and merged with disagreement detection.
package evaluate

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// disagreementThreshold is the max pairwise score spread tolerated before
// the result is flagged with a calibration error.
const disagreementThreshold = 0.30

// Evaluator scores one (variant, response) pair on a [0,1] scale.
type Evaluator interface {
	Name() string
	// RequiresLLM reports whether the evaluator needs a generation backend.
	RequiresLLM() bool
	// Applicable applies the task policy for this evaluator.
	Applicable(v *core.Variant, c *core.Classification) bool
	Evaluate(ctx context.Context, v *core.Variant, response *core.RunnerResult,
		c *core.Classification, references []string) (float64, error)
}

// Ensemble runs the applicable evaluators in parallel and merges their
// scores. The calibration monitor is shared process-wide.
type Ensemble struct {
	evaluators []Evaluator
	monitor    *Monitor
	hasLLM     bool
	logger     core.Logger
}

// NewEnsemble creates the standard four-evaluator ensemble.
func NewEnsemble(monitor *Monitor, hasLLM bool, logger core.Logger) *Ensemble {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if monitor == nil {
		monitor = NewMonitor()
	}
	return &Ensemble{
		evaluators: []Evaluator{
			&GEval{},
			&ChatEval{},
			&RoleDebate{},
			&SelfConsistency{},
		},
		monitor: monitor,
		hasLLM:  hasLLM,
		logger:  logger,
	}
}

// Monitor exposes the shared calibration monitor.
func (e *Ensemble) Monitor() *Monitor { return e.monitor }

// Evaluate selects evaluators per policy, runs them in parallel, applies
// calibration, and merges. A failed evaluator is recorded and dropped; if
// every evaluator fails the default mid-scale result is returned.
func (e *Ensemble) Evaluate(ctx context.Context, v *core.Variant, response *core.RunnerResult,
	c *core.Classification, references []string) *core.EvaluationResult {

	selected := e.selectEvaluators(v, c)

	var mu sync.Mutex
	scores := make(map[string]float64, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for _, ev := range selected {
		ev := ev
		g.Go(func() error {
			raw, err := ev.Evaluate(gctx, v, response, c, references)
			if err != nil {
				telemetry.Counter(telemetry.MetricEvaluatorFailures, "evaluator", ev.Name())
				e.logger.Warn("Evaluator failed", map[string]interface{}{
					"operation": "evaluate",
					"evaluator": ev.Name(),
					"variant":   v.ID,
					"error":     err.Error(),
				})
				return nil
			}
			adjusted := e.monitor.Calibrate(ev.Name(), clamp01(raw))
			mu.Lock()
			scores[ev.Name()] = adjusted
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(scores) == 0 {
		return DefaultResult(v.ID)
	}

	result := merge(v.ID, scores)
	e.monitor.AddDataPoint(v.ID, scores)
	if result.CalibrationError > 0 {
		telemetry.Counter(telemetry.MetricDisagreements)
	}
	return result
}

// selectEvaluators applies the fixed selection policy: G-Eval and
// Self-Consistency always run; ChatEval runs for conversational tasks;
// RoleDebate joins on complex prompts; consistency-style techniques always
// get Self-Consistency.
func (e *Ensemble) selectEvaluators(v *core.Variant, c *core.Classification) []Evaluator {
	var out []Evaluator
	for _, ev := range e.evaluators {
		if ev.RequiresLLM() && !e.hasLLM {
			continue
		}
		if ev.Applicable(v, c) {
			out = append(out, ev)
		}
	}
	return out
}

// DefaultResult is the mid-scale score used when every evaluator failed.
func DefaultResult(variantID string) *core.EvaluationResult {
	return &core.EvaluationResult{
		VariantID: variantID,
		Scores: map[string]float64{
			"g_eval": 0.5, "chat_eval": 0.5, "self_consistency": 0.5,
		},
		FinalScore:         0.5,
		ConfidenceInterval: [2]float64{0.4, 0.6},
	}
}

// merge computes the mean, a 95% confidence interval clamped to [0,1], and
// the disagreement flag.
func merge(variantID string, scores map[string]float64) *core.EvaluationResult {
	n := len(scores)
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, s := range scores {
		d := s - mean
		variance += d * d
	}

	var low, high float64
	if n > 1 {
		stddev := math.Sqrt(variance / float64(n-1))
		margin := tCritical(n-1) * stddev / math.Sqrt(float64(n))
		low, high = mean-margin, mean+margin
	} else {
		low, high = mean-0.1, mean+0.1
	}
	low = clamp01(math.Min(low, mean))
	high = clamp01(math.Max(high, mean))

	result := &core.EvaluationResult{
		VariantID:          variantID,
		Scores:             scores,
		FinalScore:         mean,
		ConfidenceInterval: [2]float64{low, high},
	}

	if diff := maxPairDiff(scores); diff > disagreementThreshold {
		result.CalibrationError = diff
	}
	return result
}

// maxPairDiff is the largest absolute difference between any two scores.
func maxPairDiff(scores map[string]float64) float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max < min {
		return 0
	}
	return max - min
}

// tCritical returns the two-tailed 95% student-t critical value.
var tTable = map[int]float64{
	1: 12.706, 2: 4.303, 3: 3.182, 4: 2.776, 5: 2.571,
	6: 2.447, 7: 2.365, 8: 2.306, 9: 2.262, 10: 2.228,
}

func tCritical(df int) float64 {
	if t, ok := tTable[df]; ok {
		return t
	}
	return 1.96
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
