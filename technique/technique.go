// Package technique implements the variant builder: a registry of prompt
// transformation techniques and the engine that selects, scores and applies
// them to expand a base prompt into candidate variants under a budget.
package technique

import (
	"fmt"
	"sort"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// Draft is one flavored rewrite produced by a technique before the engine
// attaches identity, token and cost accounting.
type Draft struct {
	Prompt      string
	Temperature float64
}

// Technique is a named prompt transformation strategy.
type Technique interface {
	// Name returns the allow-listed identifier.
	Name() core.TechniqueID
	// BestFor lists the task types this technique is designed for.
	BestFor() []core.TaskType
	// NeedsRetrieval reports whether the technique interleaves retrieved
	// examples and therefore requires the retrieval stage.
	NeedsRetrieval() bool
	// Generate emits 1 to 3 flavored drafts of the base prompt.
	Generate(base string, c *core.Classification, examples []string) []Draft
}

// registry maps technique names to constructors. Registration is static;
// adding an entry does not require touching the engine.
var registry = map[core.TechniqueID]func() Technique{}

// Register adds a technique constructor. It panics on duplicates or names
// outside the allow-list; both indicate a programmer error at init time.
func Register(name core.TechniqueID, ctor func() Technique) {
	if !name.Allowed() {
		panic(fmt.Sprintf("technique %q is not on the allow-list", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("technique %q registered twice", name))
	}
	registry[name] = ctor
}

// Get instantiates a registered technique.
func Get(name core.TechniqueID) (Technique, bool) {
	ctor, ok := registry[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// All instantiates every registered technique in deterministic name order.
func All() []Technique {
	names := make([]core.TechniqueID, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]Technique, 0, len(names))
	for _, name := range names {
		out = append(out, registry[name]())
	}
	return out
}

// estimateTokens approximates the token demand of a draft: roughly four
// characters per prompt token plus a fixed completion allowance.
const completionAllowance = 256

func estimateTokens(prompt string) int {
	est := len(prompt)/4 + completionAllowance
	if est < core.VariantEstTokensMin {
		est = core.VariantEstTokensMin
	}
	if est > core.VariantEstTokensMax {
		est = core.VariantEstTokensMax
	}
	return est
}

// variantCost prices a draft at the builder's flat planning rate. Actual
// spend is accounted by the runner; this figure only drives budgeting.
const planningRatePer1K = 0.01

func variantCost(estTokens int) float64 {
	cost := float64(estTokens) / 1000 * planningRatePer1K
	if cost < 0.0005 {
		cost = 0.0005
	}
	return cost
}
