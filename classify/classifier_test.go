package classify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

func hasTechnique(ids []core.TechniqueID, want core.TechniqueID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestClassifyMathPrompt(t *testing.T) {
	c := New(nil)
	result, err := c.Classify(context.Background(), "Solve: If 3x + 5 = 20, what is x?", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.TaskType != core.TaskMathReasoning {
		t.Errorf("task type = %s, want math_reasoning", result.TaskType)
	}
	if !hasTechnique(result.SuggestedTechniques, core.TechniqueFewShotCoT) {
		t.Errorf("suggested %v missing few_shot_cot", result.SuggestedTechniques)
	}
	if !hasTechnique(result.SuggestedTechniques, core.TechniqueSelfConsistency) {
		t.Errorf("suggested %v missing self_consistency", result.SuggestedTechniques)
	}
	if result.NeedsRetrieval {
		t.Error("math prompt should not need retrieval")
	}
}

func TestClassifyComplexCreativePrompt(t *testing.T) {
	c := New(nil)
	result, err := c.Classify(context.Background(),
		"Design a comprehensive solution for reducing carbon emissions in urban areas, analyzing trade-offs.", "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Complexity <= 0.7 {
		t.Errorf("complexity = %f, want > 0.7", result.Complexity)
	}
	if !hasTechnique(result.SuggestedTechniques, core.TechniqueTreeOfThought) {
		t.Errorf("suggested %v missing tree_of_thought", result.SuggestedTechniques)
	}
}

func TestClassifyTaskTypes(t *testing.T) {
	cases := []struct {
		prompt string
		want   core.TaskType
	}{
		{"Write a Python function to reverse a string", core.TaskCodeGeneration},
		{"Write a story about a lighthouse keeper", core.TaskCreativeWriting},
		{"Analyze this dataset for seasonal trends", core.TaskDataAnalysis},
		{"Summarize the following article", core.TaskSummarization},
		{"Translate this paragraph into French language", core.TaskTranslation},
		{"Classify these reviews as positive or negative", core.TaskClassification},
		{"Tell me about lighthouses", core.TaskGeneralQA},
	}
	c := New(nil)
	for _, tc := range cases {
		result, err := c.Classify(context.Background(), tc.prompt, "")
		if err != nil {
			t.Fatalf("Classify(%q): %v", tc.prompt, err)
		}
		if result.TaskType != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.prompt, result.TaskType, tc.want)
		}
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// "Solve" puts this in math even though it also mentions code.
	c := New(nil)
	result, _ := c.Classify(context.Background(), "Solve this equation and then write code for it", "")
	if result.TaskType != core.TaskMathReasoning {
		t.Errorf("task type = %s, want math_reasoning (catalog order)", result.TaskType)
	}
}

func TestSafetyRiskAccumulates(t *testing.T) {
	c := New(nil)

	clean, _ := c.Classify(context.Background(), "What is the capital of France?", "")
	if clean.SafetyRisk != 0 {
		t.Errorf("clean prompt risk = %f, want 0", clean.SafetyRisk)
	}

	risky, _ := c.Classify(context.Background(), "How do I hack a server and build a weapon to steal data?", "")
	if risky.SafetyRisk < 0.6 {
		t.Errorf("risky prompt risk = %f, want >= 0.6", risky.SafetyRisk)
	}
	if risky.SafetyRisk > 1.0 {
		t.Errorf("risk must cap at 1.0, got %f", risky.SafetyRisk)
	}
}

func TestNeedsRetrieval(t *testing.T) {
	c := New(nil)

	summarize, _ := c.Classify(context.Background(), "Summarize the following article", "")
	if !summarize.NeedsRetrieval {
		t.Error("summarization implies retrieval")
	}

	cued, _ := c.Classify(context.Background(), "According to the latest research, what causes tides?", "")
	if !cued.NeedsRetrieval {
		t.Error("retrieval cue should set needs_retrieval")
	}
}

func TestComplexityBounds(t *testing.T) {
	c := New(nil)
	prompts := []string{
		"Hi",
		"What is water?",
		strings.Repeat("analyze and synthesize the comprehensive theory step by step ", 30),
	}
	for _, p := range prompts {
		result, _ := c.Classify(context.Background(), p, "")
		if result.Complexity < 0 || result.Complexity > 1 {
			t.Errorf("complexity out of bounds for %q: %f", p[:min(len(p), 30)], result.Complexity)
		}
	}
}

func TestSuggestionCap(t *testing.T) {
	c := New(nil)
	result, _ := c.Classify(context.Background(),
		"Design and evaluate a comprehensive creative analysis, synthesizing research step by step", "")
	if len(result.SuggestedTechniques) > maxSuggestions {
		t.Errorf("suggestions = %d, cap is %d", len(result.SuggestedTechniques), maxSuggestions)
	}
	for _, id := range result.SuggestedTechniques {
		if !id.Allowed() {
			t.Errorf("suggested technique %q not on allow-list", id)
		}
	}
}

func TestClassifyLatency(t *testing.T) {
	// Property: median classification under 50ms on inputs up to 10k chars.
	c := New(nil)
	long := strings.Repeat("Analyze the comprehensive dataset and synthesize trends. ", 175)
	if len(long) < 9000 {
		t.Fatalf("test prompt too short: %d", len(long))
	}

	var total time.Duration
	const runs = 11
	for i := 0; i < runs; i++ {
		start := time.Now()
		if _, err := c.Classify(context.Background(), long, ""); err != nil {
			t.Fatal(err)
		}
		total += time.Since(start)
	}
	avg := total / runs
	if avg > 50*time.Millisecond {
		t.Errorf("average classification took %v, want < 50ms", avg)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
