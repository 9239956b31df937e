package technique

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// Selection scoring constants.
const (
	scoreSuggested     = 100
	scoreTaskMatch     = 50
	scoreRetrievalMiss = -30
	scoreComplexBonus  = 20

	// minRemainingUSD is the floor below which no further technique is
	// admitted.
	minRemainingUSD = 0.01

	// admitProbability is the stochastic admit rate for techniques whose
	// best_for set does not include the task.
	admitProbability = 0.30
)

// Engine expands a prompt into variants. The seed drives the stochastic
// admit decision; a fixed seed makes a build reproducible.
type Engine struct {
	logger core.Logger
	seed   int64
}

// NewEngine creates a builder engine. Seed 0 selects a fixed default.
func NewEngine(logger core.Logger, seed int64) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if seed == 0 {
		seed = 1
	}
	return &Engine{logger: logger, seed: seed}
}

type scoredTechnique struct {
	t     Technique
	score int
}

// BuildVariants selects applicable techniques, scores them, and emits up to
// maxVariants validated variants round-robin across techniques in score
// order. Each emitted variant's cost is deducted from the budget; a draft
// that would overdraw is skipped, not clamped.
func (e *Engine) BuildVariants(basePrompt string, c *core.Classification, budget *core.Budget,
	traceID string, maxVariants int, examples []string) ([]core.Variant, error) {

	if maxVariants <= 0 {
		maxVariants = core.DefaultMaxVariants
	}
	rng := rand.New(rand.NewSource(e.seed))

	selected := e.selectTechniques(c, budget, rng)
	variants := e.emit(selected, basePrompt, c, budget, traceID, maxVariants, examples)

	if err := checkInvariants(variants, traceID); err != nil {
		e.logger.Error("Builder invariant violated", map[string]interface{}{
			"operation": "build_variants",
			"trace_id":  traceID,
			"error":     err.Error(),
		})
		return nil, err
	}

	telemetry.Add(telemetry.MetricVariantsGenerated, float64(len(variants)))
	e.logger.Debug("Variants built", map[string]interface{}{
		"operation":      "build_variants",
		"trace_id":       traceID,
		"variants":       len(variants),
		"techniques":     len(selected),
		"remaining_usd":  budget.RemainingCostUSD,
	})
	return variants, nil
}

// selectTechniques applies the applicability gates and scoring, returning
// techniques in descending score order with a name tiebreak so the order is
// stable across runs.
func (e *Engine) selectTechniques(c *core.Classification, budget *core.Budget, rng *rand.Rand) []scoredTechnique {
	suggested := make(map[core.TechniqueID]bool, len(c.SuggestedTechniques))
	for _, id := range c.SuggestedTechniques {
		suggested[id] = true
	}

	var selected []scoredTechnique
	for _, t := range All() {
		if t.NeedsRetrieval() && !c.NeedsRetrieval {
			continue
		}
		taskMatch := matchesTask(t, c.TaskType)
		if !taskMatch && rng.Float64() >= admitProbability {
			continue
		}
		if budget.RemainingCostUSD < minRemainingUSD {
			continue
		}

		score := 0
		if suggested[t.Name()] {
			score += scoreSuggested
		}
		if taskMatch {
			score += scoreTaskMatch
		}
		if c.NeedsRetrieval && !t.NeedsRetrieval() {
			score += scoreRetrievalMiss
		}
		if c.Complexity > 0.7 &&
			(t.Name() == core.TechniqueTreeOfThought || t.Name() == core.TechniqueDSPyAPE) {
			score += scoreComplexBonus
		}
		selected = append(selected, scoredTechnique{t: t, score: score})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].score != selected[j].score {
			return selected[i].score > selected[j].score
		}
		return selected[i].t.Name() < selected[j].t.Name()
	})
	return selected
}

// emit walks the selected techniques round-robin so every technique gets a
// variant before any technique gets its second, up to maxVariants.
func (e *Engine) emit(selected []scoredTechnique, basePrompt string, c *core.Classification,
	budget *core.Budget, traceID string, maxVariants int, examples []string) []core.Variant {

	drafts := make([][]Draft, len(selected))
	maxRounds := 0
	for i, s := range selected {
		drafts[i] = s.t.Generate(basePrompt, c, examples)
		if len(drafts[i]) > maxRounds {
			maxRounds = len(drafts[i])
		}
	}

	var variants []core.Variant
	for round := 0; round < maxRounds && len(variants) < maxVariants; round++ {
		for i, s := range selected {
			if len(variants) >= maxVariants {
				break
			}
			if round >= len(drafts[i]) {
				continue
			}
			d := drafts[i][round]
			est := estimateTokens(d.Prompt)
			cost := variantCost(est)
			if budget.RemainingCostUSD-cost < 0 {
				continue
			}

			v := core.Variant{
				ID:          core.NewVariantID(s.t.Name(), round+1, traceID),
				Technique:   s.t.Name(),
				Prompt:      d.Prompt,
				Temperature: d.Temperature,
				EstTokens:   est,
				CostUSD:     cost,
			}
			if err := v.Validate(); err != nil {
				telemetry.Counter(telemetry.MetricVariantsDropped, "technique", string(s.t.Name()))
				e.logger.Warn("Dropping invalid variant", map[string]interface{}{
					"operation": "build_variants",
					"trace_id":  traceID,
					"variant":   v.ID,
					"error":     err.Error(),
				})
				continue
			}
			budget.RemainingCostUSD -= cost
			variants = append(variants, v)
		}
	}
	return variants
}

// checkInvariants enforces the builder's exit contract: at least one
// variant, every variant carries a technique, and the distinct technique
// set is non-empty. A violation is non-retryable.
func checkInvariants(variants []core.Variant, traceID string) error {
	violation := func(msg string) error {
		telemetry.Counter(telemetry.MetricBuilderInvariant)
		return core.NewPipelineError("builder.BuildVariants", core.CodeBuilderInvariant, traceID,
			fmt.Errorf("%s: %w", msg, core.ErrBuilderInvariant))
	}

	if len(variants) == 0 {
		return violation("no variants produced")
	}
	for _, v := range variants {
		if v.Technique == "" {
			return violation(fmt.Sprintf("variant %s has empty technique", v.ID))
		}
	}
	if len(core.DedupTechniques(techniqueSet(variants))) == 0 {
		return violation("distinct technique set is empty")
	}
	return nil
}

// techniqueSet lists the technique of every variant, duplicates included.
func techniqueSet(variants []core.Variant) []core.TechniqueID {
	out := make([]core.TechniqueID, len(variants))
	for i, v := range variants {
		out[i] = v.Technique
	}
	return out
}

func matchesTask(t Technique, task core.TaskType) bool {
	for _, bt := range t.BestFor() {
		if bt == task {
			return true
		}
	}
	return false
}
