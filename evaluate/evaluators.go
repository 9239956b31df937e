package evaluate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// The four ensemble members score heuristically so the pipeline works with
// or without a generation backend. Scores are deterministic for a given
// (variant, response) pair.

// GEval scores a response on relevance, coherence, and completeness and
// averages the criteria.
type GEval struct{}

func (g *GEval) Name() string      { return "g_eval" }
func (g *GEval) RequiresLLM() bool { return false }

func (g *GEval) Applicable(v *core.Variant, c *core.Classification) bool {
	return true
}

func (g *GEval) Evaluate(ctx context.Context, v *core.Variant, response *core.RunnerResult,
	c *core.Classification, references []string) (float64, error) {

	if response.Error != "" {
		return 0, fmt.Errorf("response carries backend error: %s", response.Error)
	}
	relevance := keywordOverlap(v.Prompt, response.Content)
	coherence := coherenceScore(response.Content)
	completeness := lengthAdequacy(response.Content)
	return (relevance + coherence + completeness) / 3, nil
}

// ChatEval probes whether the response actually answers what was asked,
// in the register of a conversation.
type ChatEval struct{}

func (c *ChatEval) Name() string      { return "chat_eval" }
func (c *ChatEval) RequiresLLM() bool { return false }

func (c *ChatEval) Applicable(v *core.Variant, cls *core.Classification) bool {
	return cls.TaskType == core.TaskGeneralQA || cls.TaskType == core.TaskCreativeWriting
}

func (c *ChatEval) Evaluate(ctx context.Context, v *core.Variant, response *core.RunnerResult,
	cls *core.Classification, references []string) (float64, error) {

	if response.Error != "" {
		return 0, fmt.Errorf("response carries backend error: %s", response.Error)
	}
	score := 0.5
	// Probe 1: the response engages with the question's key terms.
	if keywordOverlap(v.Prompt, response.Content) > 0.3 {
		score += 0.2
	}
	// Probe 2: it is a substantive turn, not a deflection.
	if len(strings.Fields(response.Content)) >= 20 {
		score += 0.2
	}
	// Probe 3: it does not answer a question with only a question.
	trimmed := strings.TrimSpace(response.Content)
	if !strings.HasSuffix(trimmed, "?") {
		score += 0.1
	}
	return score, nil
}

// RoleDebate scores from three adversarial perspectives (advocate, critic,
// judge) and takes their consensus.
type RoleDebate struct{}

func (r *RoleDebate) Name() string      { return "role_debate" }
func (r *RoleDebate) RequiresLLM() bool { return false }

func (r *RoleDebate) Applicable(v *core.Variant, c *core.Classification) bool {
	return c.Complexity > 0.7
}

func (r *RoleDebate) Evaluate(ctx context.Context, v *core.Variant, response *core.RunnerResult,
	c *core.Classification, references []string) (float64, error) {

	if response.Error != "" {
		return 0, fmt.Errorf("response carries backend error: %s", response.Error)
	}
	// Advocate: credit structure and development.
	advocate := 0.5 + 0.5*coherenceScore(response.Content)
	// Critic: penalize hedging and unsupported claims.
	critic := 1.0 - hedgingDensity(response.Content)
	// Judge: weigh both against topical relevance.
	judge := keywordOverlap(v.Prompt, response.Content)

	return (advocate + critic + judge) / 3, nil
}

// SelfConsistency measures the internal consistency of the response.
type SelfConsistency struct{}

func (s *SelfConsistency) Name() string      { return "self_consistency" }
func (s *SelfConsistency) RequiresLLM() bool { return false }

func (s *SelfConsistency) Applicable(v *core.Variant, c *core.Classification) bool {
	// Always on, and unconditionally so for consistency-style techniques.
	return true
}

func (s *SelfConsistency) Evaluate(ctx context.Context, v *core.Variant, response *core.RunnerResult,
	c *core.Classification, references []string) (float64, error) {

	if response.Error != "" {
		return 0, fmt.Errorf("response carries backend error: %s", response.Error)
	}
	score := 0.6
	// Contradiction markers depress the score.
	contradictions := countOccurrences(response.Content,
		"however, this contradicts", "on the contrary", "actually, no", "wait, that's wrong")
	score -= 0.15 * float64(contradictions)

	// Agreement across restated conclusions raises it.
	if numbersConsistent(response.Content) {
		score += 0.25
	}
	if strings.Contains(strings.ToLower(response.Content), "answer") {
		score += 0.1
	}
	return score, nil
}

// Heuristic helpers shared by the evaluators.

var wordPattern = regexp.MustCompile(`[a-zA-Z]{3,}`)

// keywordOverlap is the fraction of prompt keywords echoed in the response.
func keywordOverlap(prompt, response string) float64 {
	promptWords := wordPattern.FindAllString(strings.ToLower(prompt), -1)
	if len(promptWords) == 0 {
		return 0.5
	}
	responseSet := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(response), -1) {
		responseSet[w] = true
	}
	hit := 0
	seen := make(map[string]bool)
	for _, w := range promptWords {
		if seen[w] {
			continue
		}
		seen[w] = true
		if responseSet[w] {
			hit++
		}
	}
	return float64(hit) / float64(len(seen))
}

// coherenceScore rewards multi-sentence structure and discourse markers.
func coherenceScore(text string) float64 {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	score := 0.4
	if len(sentences) >= 2 {
		score += 0.3
	}
	connectives := countOccurrences(text,
		"therefore", "because", "first", "then", "finally", "so ", "thus")
	if connectives > 0 {
		score += 0.2
	}
	if connectives > 2 {
		score += 0.1
	}
	return clamp01(score)
}

// lengthAdequacy maps response length onto [0,1]: too short is penalized,
// 30..400 words is full credit.
func lengthAdequacy(text string) float64 {
	words := len(strings.Fields(text))
	switch {
	case words == 0:
		return 0
	case words < 10:
		return 0.3
	case words < 30:
		return 0.7
	case words <= 400:
		return 1.0
	default:
		return 0.8
	}
}

// hedgingDensity is the per-50-word rate of hedge phrases, capped at 0.5.
func hedgingDensity(text string) float64 {
	hedges := countOccurrences(text,
		"might be", "could be", "possibly", "perhaps", "it depends", "not sure")
	words := len(strings.Fields(text))
	if words == 0 {
		return 0.5
	}
	density := float64(hedges) / (float64(words) / 50.0)
	if density > 0.5 {
		density = 0.5
	}
	return density
}

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// numbersConsistent reports whether the final stated number also appears
// earlier in the text, a weak signal that the conclusion follows from the
// working.
func numbersConsistent(text string) bool {
	nums := numberPattern.FindAllString(text, -1)
	if len(nums) < 2 {
		return true
	}
	last := nums[len(nums)-1]
	for _, n := range nums[:len(nums)-1] {
		if n == last {
			return true
		}
	}
	return false
}

func countOccurrences(text string, phrases ...string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, p := range phrases {
		n += strings.Count(lower, p)
	}
	return n
}
