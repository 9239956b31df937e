package plan

import (
	"fmt"
	"regexp"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// Technique count bounds for a planner result.
const (
	MinTechniques = 1
	MaxTechniques = 3
)

// injectionSignatures reject planner output that carries jailbreak or
// path-traversal payloads. The planner consults an external backend, so its
// strings are untrusted until they pass this gate.
var injectionSignatures = []*regexp.Regexp{
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)\bsystem\s*\(`),
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
	regexp.MustCompile(`(?i)<script\b`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile("(?i)disregard (your|the) (rules|instructions)"),
}

// Validate enforces the planner output contract. It is pure pattern and
// bounds checking and completes well inside the 100ms budget.
func Validate(result *core.PlannerResult) error {
	if result == nil {
		return fmt.Errorf("nil planner result")
	}
	n := len(result.SuggestedTechniques)
	if n < MinTechniques || n > MaxTechniques {
		return fmt.Errorf("technique count %d outside [%d,%d]", n, MinTechniques, MaxTechniques)
	}
	for _, id := range result.SuggestedTechniques {
		if !id.Allowed() {
			return fmt.Errorf("technique %q not on allow-list", id)
		}
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", result.Confidence)
	}
	if result.Rationale == "" {
		return fmt.Errorf("empty rationale")
	}
	if sig := matchInjection(result.Rationale); sig != "" {
		return fmt.Errorf("rationale matches injection signature %q", sig)
	}
	for _, id := range result.SuggestedTechniques {
		if sig := matchInjection(string(id)); sig != "" {
			return fmt.Errorf("technique name matches injection signature %q", sig)
		}
	}
	return nil
}

func matchInjection(s string) string {
	for _, p := range injectionSignatures {
		if p.MatchString(s) {
			return p.String()
		}
	}
	return ""
}
