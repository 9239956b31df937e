// Package selector picks the recommended variant and the Pareto frontier
// over the (quality, cost, latency) objective space, with a final safety
// re-check before anything is recommended.
package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// Weights scalarize the objective triple. Cost and latency are min-max
// normalized across the candidate set before weighting.
type Weights struct {
	Quality float64
	Cost    float64
	Latency float64
}

// DefaultWeights is the balanced profile.
var DefaultWeights = Weights{Quality: 0.6, Cost: 0.25, Latency: 0.15}

// Selection is the selector's output.
type Selection struct {
	Recommended    *core.VariantOutcome
	Alternatives   []core.VariantOutcome
	ParetoFrontier []core.VariantOutcome
}

// Selector ranks evaluated variants.
type Selector struct {
	sanitizer core.Sanitizer
	logger    core.Logger
}

// New creates a selector. sanitizer may be nil, in which case the final
// re-check always passes.
func New(sanitizer core.Sanitizer, logger core.Logger) *Selector {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Selector{sanitizer: sanitizer, logger: logger}
}

// Select computes the Pareto frontier, picks the balanced-score maximizer,
// and re-checks it against the safety guard. If the recommended variant
// fails the re-check the next alternative is promoted; an exhausted
// frontier fails the request.
func (s *Selector) Select(ctx context.Context, outcomes []core.VariantOutcome,
	preferences map[string]float64, traceID string) (*Selection, error) {

	if len(outcomes) == 0 {
		return nil, core.NewPipelineError("selector.Select", core.CodeOptimizationFailed, traceID,
			fmt.Errorf("no evaluated variants to select from"))
	}

	weights := resolveWeights(preferences)
	frontier := paretoFrontier(outcomes)
	ranked := rankByBalanced(frontier, weights)

	for i := range ranked {
		candidate := &ranked[i]
		if s.safe(ctx, candidate, traceID) {
			alternatives := make([]core.VariantOutcome, 0, len(ranked)-1)
			for j := range ranked {
				if j != i {
					alternatives = append(alternatives, ranked[j])
				}
			}
			return &Selection{
				Recommended:    candidate,
				Alternatives:   alternatives,
				ParetoFrontier: frontier,
			}, nil
		}
		telemetry.Counter(telemetry.MetricSafetyBlocks, "stage", "recheck")
		s.logger.Warn("Recommended variant failed safety re-check", map[string]interface{}{
			"operation": "select",
			"trace_id":  traceID,
			"variant":   candidate.Variant.ID,
		})
	}

	return nil, core.NewPipelineError("selector.Select", core.CodeNoSafeVariant, traceID,
		fmt.Errorf("every frontier variant failed the safety re-check: %w", core.ErrNoSafeVariant))
}

func (s *Selector) safe(ctx context.Context, outcome *core.VariantOutcome, traceID string) bool {
	if s.sanitizer == nil {
		return true
	}
	ok, _ := s.sanitizer.CheckVariant(ctx, outcome.Variant.Prompt, traceID)
	return ok
}

// paretoFrontier returns the outcomes no other outcome dominates.
func paretoFrontier(outcomes []core.VariantOutcome) []core.VariantOutcome {
	var frontier []core.VariantOutcome
	for i := range outcomes {
		dominated := false
		for j := range outcomes {
			if i != j && dominates(&outcomes[j], &outcomes[i]) {
				dominated = true
				break
			}
		}
		if !dominated {
			frontier = append(frontier, outcomes[i])
		}
	}
	return frontier
}

// dominates reports whether a is at least as good as b on every objective
// and strictly better on at least one. Quality is maximized; cost and
// latency are minimized.
func dominates(a, b *core.VariantOutcome) bool {
	qa, qb := a.Evaluation.FinalScore, b.Evaluation.FinalScore
	ca, cb := a.Variant.CostUSD, b.Variant.CostUSD
	la, lb := a.Response.LatencyMS, b.Response.LatencyMS

	if qa < qb || ca > cb || la > lb {
		return false
	}
	return qa > qb || ca < cb || la < lb
}

// rankByBalanced sorts candidates by descending balanced score, using
// min-max normalization of cost and latency across the candidate set.
func rankByBalanced(candidates []core.VariantOutcome, w Weights) []core.VariantOutcome {
	minCost, maxCost := minMaxCost(candidates)
	minLat, maxLat := minMaxLatency(candidates)

	balanced := func(o *core.VariantOutcome) float64 {
		return w.Quality*o.Evaluation.FinalScore -
			w.Cost*norm(o.Variant.CostUSD, minCost, maxCost) -
			w.Latency*norm(float64(o.Response.LatencyMS), minLat, maxLat)
	}

	ranked := make([]core.VariantOutcome, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		bi, bj := balanced(&ranked[i]), balanced(&ranked[j])
		if bi != bj {
			return bi > bj
		}
		return ranked[i].Variant.ID < ranked[j].Variant.ID
	})
	return ranked
}

func resolveWeights(preferences map[string]float64) Weights {
	w := DefaultWeights
	if v, ok := preferences["quality"]; ok && v >= 0 {
		w.Quality = v
	}
	if v, ok := preferences["cost"]; ok && v >= 0 {
		w.Cost = v
	}
	if v, ok := preferences["latency"]; ok && v >= 0 {
		w.Latency = v
	}
	return w
}

func norm(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (v - min) / (max - min)
}

func minMaxCost(outcomes []core.VariantOutcome) (float64, float64) {
	min, max := outcomes[0].Variant.CostUSD, outcomes[0].Variant.CostUSD
	for _, o := range outcomes[1:] {
		if o.Variant.CostUSD < min {
			min = o.Variant.CostUSD
		}
		if o.Variant.CostUSD > max {
			max = o.Variant.CostUSD
		}
	}
	return min, max
}

func minMaxLatency(outcomes []core.VariantOutcome) (float64, float64) {
	min, max := float64(outcomes[0].Response.LatencyMS), float64(outcomes[0].Response.LatencyMS)
	for _, o := range outcomes[1:] {
		l := float64(o.Response.LatencyMS)
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	return min, max
}
