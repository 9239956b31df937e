// Package classify implements the rule-based prompt classifier. All
// patterns are compiled at package init so a single classification is a
// pure scan over precompiled state.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// maxSuggestions caps the classifier's technique suggestions.
const maxSuggestions = 5

// Classifier classifies prompts into task type, domain, complexity, safety
// risk and technique suggestions. It holds no mutable state.
type Classifier struct {
	logger core.Logger
}

// New creates a classifier.
func New(logger core.Logger) *Classifier {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Classifier{logger: logger}
}

// Classify produces the classification for a prompt. It is a pure
// function; a panic indicates a programmer error and is surfaced as a
// classifier-unavailable error rather than crashing the pipeline. traceID
// is carried for log correlation only.
func (c *Classifier) Classify(ctx context.Context, prompt, traceID string) (result *core.Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("classifier panic: %v: %w", r, core.ErrClassifierFailed)
		}
	}()

	taskType := detectTaskType(prompt)
	domain := detectDomain(prompt)
	profile := detectProfile(prompt)
	complexity := scoreComplexity(prompt, profile)
	risk := scoreSafetyRisk(prompt)
	needsRetrieval := taskType == core.TaskDataAnalysis ||
		taskType == core.TaskSummarization ||
		anyMatch(retrievalCuePatterns, prompt)

	suggested := suggestTechniques(profile, taskType)

	c.logger.Debug("Prompt classified", map[string]interface{}{
		"operation":       "classify",
		"trace_id":        traceID,
		"task_type":       string(taskType),
		"domain":          string(domain),
		"profile":         string(profile),
		"complexity":      complexity,
		"safety_risk":     risk,
		"needs_retrieval": needsRetrieval,
		"suggested":       len(suggested),
	})

	return &core.Classification{
		TaskType:            taskType,
		Domain:              domain,
		Complexity:          complexity,
		SafetyRisk:          risk,
		NeedsRetrieval:      needsRetrieval,
		SuggestedTechniques: suggested,
	}, nil
}

// Healthy reports classifier availability for /health.
func (c *Classifier) Healthy(ctx context.Context) bool {
	_, err := c.Classify(ctx, "health probe", "")
	if err != nil {
		telemetry.Counter(telemetry.MetricStageErrors, "stage", "classify")
		return false
	}
	return true
}

// detectTaskType scans the ordered catalog; first match wins.
func detectTaskType(prompt string) core.TaskType {
	for _, rule := range taskCatalog {
		if anyMatch(rule.patterns, prompt) {
			return rule.taskType
		}
	}
	return core.TaskGeneralQA
}

func detectDomain(prompt string) core.Domain {
	for _, rule := range domainCatalog {
		if anyMatch(rule.patterns, prompt) {
			return rule.domain
		}
	}
	return core.DomainGeneral
}

// scoreComplexity applies the fixed adjustment schedule. The cognitive
// profile weight is averaged into the running score; every other term is
// additive. The result is clamped to [0,1].
func scoreComplexity(prompt string, profile CognitiveProfile) float64 {
	score := 0.5

	high := anyMatch(highComplexityPatterns, prompt)
	if high {
		score += 0.3
	} else if anyMatch(lowComplexityPatterns, prompt) {
		score -= 0.2
	}

	score = (score + profileWeights[profile]) / 2

	words := len(strings.Fields(prompt))
	switch {
	case words > 100:
		score += 0.1
	case words < 20:
		score -= 0.1
	}

	if stepMarkerPattern.MatchString(prompt) {
		score += 0.1
	}
	if abstractPattern.MatchString(prompt) {
		score += 0.05
	}

	return clamp01(score)
}

// scoreSafetyRisk sums 0.3 per matched risk pattern, capped at 1.0.
func scoreSafetyRisk(prompt string) float64 {
	risk := 0.3 * float64(countMatches(riskPatterns, prompt))
	if risk > 1.0 {
		risk = 1.0
	}
	return risk
}

// suggestTechniques is table-driven from the cognitive profile, topped up
// per task type, hard-capped at maxSuggestions. Order is preserved so the
// profile's preferences come first.
func suggestTechniques(profile CognitiveProfile, taskType core.TaskType) []core.TechniqueID {
	seen := make(map[core.TechniqueID]bool)
	out := make([]core.TechniqueID, 0, maxSuggestions)

	appendNew := func(ids []core.TechniqueID) {
		for _, id := range ids {
			if len(out) >= maxSuggestions {
				return
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}

	appendNew(profileTechniques[profile])
	appendNew(taskTechniques[taskType])
	return out
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
