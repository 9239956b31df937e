// Package plan implements the strategy planner. It recommends up to three
// techniques for a classified prompt, optionally consulting a reasoning
// backend, and fails closed to a chain-of-thought baseline whenever the
// backend or the validator rejects the result.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// Optimization levels accepted in Context.OptimizationLevel.
const (
	LevelCheap   = "cheap"
	LevelNormal  = "normal"
	LevelExplore = "explore"
)

// Context carries the request-scoped inputs to a planning call. TraceID is
// the request's trace, propagated on any outbound planner call.
type Context struct {
	TaskType          core.TaskType
	ModelName         string
	OptimizationLevel string
	Seed              int64
	Metadata          map[string]string
	TraceID           string
}

// Planner recommends techniques for a prompt. With a nil client it derives
// the recommendation deterministically from the task type, which makes the
// reproducibility guarantee trivial; with a client the seed is forwarded so
// the backend can honor it.
type Planner struct {
	client  core.GenClient
	logger  core.Logger
	timeout time.Duration
}

// New creates a planner. client may be nil.
func New(client core.GenClient, logger core.Logger) *Planner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Planner{
		client:  client,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Plan returns a validated recommendation. It never returns an error: any
// backend failure, timeout, or validation rejection yields the baseline.
func (p *Planner) Plan(ctx context.Context, prompt string, pctx *Context) *core.PlannerResult {
	start := time.Now()
	if pctx == nil {
		pctx = &Context{}
	}
	if pctx.OptimizationLevel == "" {
		pctx.OptimizationLevel = LevelNormal
	}

	result, err := p.plan(ctx, prompt, pctx)
	if err == nil {
		err = Validate(result)
	}
	if err != nil {
		p.logger.Warn("Planner fell back to baseline", map[string]interface{}{
			"operation": "plan",
			"task_type": string(pctx.TaskType),
			"error":     err.Error(),
		})
		result = Baseline()
	}
	result.Metadata.ProcessingTimeMS = time.Since(start).Milliseconds()
	return result
}

func (p *Planner) plan(ctx context.Context, prompt string, pctx *Context) (result *core.PlannerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("planner panic: %v", r)
		}
	}()

	if p.client == nil {
		return p.derive(pctx), nil
	}
	return p.consult(ctx, prompt, pctx)
}

// levelCount bounds how many techniques each optimization level asks for.
var levelCount = map[string]int{
	LevelCheap:   1,
	LevelNormal:  2,
	LevelExplore: 3,
}

// deriveTable maps task types to their preferred techniques in priority
// order. Entries beyond the level count are dropped.
var deriveTable = map[core.TaskType][]core.TechniqueID{
	core.TaskMathReasoning:   {core.TechniqueFewShotCoT, core.TechniqueSelfConsistency, core.TechniqueChainOfThought},
	core.TaskCodeGeneration:  {core.TechniqueReAct, core.TechniqueChainOfThought, core.TechniqueTreeOfThought},
	core.TaskCreativeWriting: {core.TechniqueTreeOfThought, core.TechniqueUniversalSelfPrompt, core.TechniqueChainOfThought},
	core.TaskDataAnalysis:    {core.TechniqueIRCoT, core.TechniqueChainOfThought, core.TechniqueSelfConsistency},
	core.TaskSummarization:   {core.TechniqueDSPyAPE, core.TechniqueChainOfThought},
	core.TaskTranslation:     {core.TechniqueFewShotCoT, core.TechniqueChainOfThought},
	core.TaskClassification:  {core.TechniqueFewShotCoT, core.TechniqueAutoDiCoT, core.TechniqueChainOfThought},
	core.TaskGeneralQA:       {core.TechniqueChainOfThought, core.TechniqueSelfConsistency},
	core.TaskGeneral:         {core.TechniqueChainOfThought, core.TechniqueSelfConsistency},
}

// levelConfidence is fixed per level so repeated calls agree exactly.
var levelConfidence = map[string]float64{
	LevelCheap:   0.6,
	LevelNormal:  0.75,
	LevelExplore: 0.8,
}

// derive is the backendless planner: a pure table lookup.
func (p *Planner) derive(pctx *Context) *core.PlannerResult {
	preferred, ok := deriveTable[pctx.TaskType]
	if !ok {
		preferred = deriveTable[core.TaskGeneralQA]
	}
	n := levelCount[pctx.OptimizationLevel]
	if n == 0 {
		n = levelCount[LevelNormal]
	}
	if n > len(preferred) {
		n = len(preferred)
	}
	techniques := make([]core.TechniqueID, n)
	copy(techniques, preferred[:n])

	return &core.PlannerResult{
		SuggestedTechniques: techniques,
		Rationale: fmt.Sprintf("rule-derived plan for %s at %s level",
			taskLabel(pctx.TaskType), pctx.OptimizationLevel),
		Confidence: levelConfidence[pctx.OptimizationLevel],
		Metadata: core.PlannerMetadata{
			ModelUsed: "rules",
			CostUSD:   0,
		},
	}
}

// backendReply is the JSON shape the backend is instructed to produce.
type backendReply struct {
	Techniques []string `json:"techniques"`
	Rationale  string   `json:"rationale"`
	Confidence float64  `json:"confidence"`
}

const planSystemPrompt = `You are a prompt-optimization strategist. Reply with a single JSON object:
{"techniques": ["..."], "rationale": "...", "confidence": 0.0}
Choose 1 to 3 techniques from exactly this list: chain_of_thought, few_shot_cot, self_consistency, react, tree_of_thought, ircot, dspy_ape, dspy_grips, auto_dicot, universal_self_prompt.`

// consult asks the reasoning backend for a plan.
func (p *Planner) consult(ctx context.Context, prompt string, pctx *Context) (*core.PlannerResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Task type: %s\nOptimization level: %s\nPrompt:\n%s",
		pctx.TaskType, pctx.OptimizationLevel, prompt)

	resp, err := p.client.GenerateResponse(callCtx, userPrompt, &core.GenOptions{
		Model:        pctx.ModelName,
		Temperature:  0,
		MaxTokens:    512,
		SystemPrompt: planSystemPrompt,
		Seed:         pctx.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("planner backend: %w", err)
	}

	var reply backendReply
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &reply); err != nil {
		return nil, fmt.Errorf("planner backend returned unparseable reply: %w", err)
	}

	techniques := make([]core.TechniqueID, 0, len(reply.Techniques))
	for _, name := range reply.Techniques {
		techniques = append(techniques, core.TechniqueID(strings.TrimSpace(name)))
	}
	return &core.PlannerResult{
		SuggestedTechniques: techniques,
		Rationale:           reply.Rationale,
		Confidence:          reply.Confidence,
		Metadata: core.PlannerMetadata{
			ModelUsed: resp.Model,
			CostUSD:   float64(resp.Usage.TotalTokens) / 1000 * 0.01,
		},
	}, nil
}

// Baseline is the fail-closed result. It satisfies the validator and is
// distinguishable from a real plan only through its metadata.
func Baseline() *core.PlannerResult {
	telemetry.Counter(telemetry.MetricBaselineResponses)
	return &core.PlannerResult{
		SuggestedTechniques: []core.TechniqueID{core.TechniqueChainOfThought},
		Rationale:           "baseline",
		Confidence:          0.5,
		Metadata: core.PlannerMetadata{
			ModelUsed: "baseline",
			CostUSD:   0,
		},
	}
}

// extractJSON trims everything outside the outermost JSON object so fenced
// or chatty backend replies still parse.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func taskLabel(t core.TaskType) string {
	if t == "" {
		return string(core.TaskGeneralQA)
	}
	return string(t)
}
