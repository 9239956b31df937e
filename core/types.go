package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FlowVersion identifies the pipeline contract a receipt attests to.
// Verifiers reject receipts carrying any other version.
const FlowVersion = "3.0.0"

// TaskType classifies what kind of work a prompt asks for.
// The set is closed; the classifier falls back to TaskGeneralQA.
type TaskType string

const (
	TaskMathReasoning   TaskType = "math_reasoning"
	TaskCodeGeneration  TaskType = "code_generation"
	TaskCreativeWriting TaskType = "creative_writing"
	TaskDataAnalysis    TaskType = "data_analysis"
	TaskSummarization   TaskType = "summarization"
	TaskTranslation     TaskType = "translation"
	TaskClassification  TaskType = "classification"
	TaskGeneralQA       TaskType = "general_qa"
	TaskGeneral         TaskType = "general"
)

// AllTaskTypes lists every recognized task type in canonical order.
var AllTaskTypes = []TaskType{
	TaskMathReasoning, TaskCodeGeneration, TaskCreativeWriting,
	TaskDataAnalysis, TaskSummarization, TaskTranslation,
	TaskClassification, TaskGeneralQA, TaskGeneral,
}

// Valid reports whether t is a member of the closed task type set.
func (t TaskType) Valid() bool {
	for _, known := range AllTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Domain is the subject area a prompt belongs to.
type Domain string

const (
	DomainAcademic  Domain = "academic"
	DomainBusiness  Domain = "business"
	DomainTechnical Domain = "technical"
	DomainCreative  Domain = "creative"
	DomainGeneral   Domain = "general"
)

// AllDomains lists every recognized domain.
var AllDomains = []Domain{
	DomainAcademic, DomainBusiness, DomainTechnical, DomainCreative, DomainGeneral,
}

// Valid reports whether d is a member of the closed domain set.
func (d Domain) Valid() bool {
	for _, known := range AllDomains {
		if d == known {
			return true
		}
	}
	return false
}

// TechniqueID names a prompt transformation strategy.
// Only allow-listed techniques may flow through the pipeline.
type TechniqueID string

const (
	TechniqueChainOfThought       TechniqueID = "chain_of_thought"
	TechniqueFewShotCoT           TechniqueID = "few_shot_cot"
	TechniqueSelfConsistency      TechniqueID = "self_consistency"
	TechniqueReAct                TechniqueID = "react"
	TechniqueTreeOfThought        TechniqueID = "tree_of_thought"
	TechniqueIRCoT                TechniqueID = "ircot"
	TechniqueDSPyAPE              TechniqueID = "dspy_ape"
	TechniqueDSPyGRIPS            TechniqueID = "dspy_grips"
	TechniqueAutoDiCoT            TechniqueID = "auto_dicot"
	TechniqueUniversalSelfPrompt  TechniqueID = "universal_self_prompt"
)

// TechniqueAllowList is the closed set of techniques the planner and the
// builder may use. ircot is the only retrieval-dependent entry.
var TechniqueAllowList = []TechniqueID{
	TechniqueChainOfThought, TechniqueFewShotCoT, TechniqueSelfConsistency,
	TechniqueReAct, TechniqueTreeOfThought, TechniqueIRCoT,
	TechniqueDSPyAPE, TechniqueDSPyGRIPS, TechniqueAutoDiCoT,
	TechniqueUniversalSelfPrompt,
}

// Allowed reports whether id is on the technique allow-list.
func (id TechniqueID) Allowed() bool {
	for _, known := range TechniqueAllowList {
		if id == known {
			return true
		}
	}
	return false
}

// Classification is the immutable output of the classifier stage.
type Classification struct {
	TaskType            TaskType      `json:"task_type"`
	Domain              Domain        `json:"domain"`
	Complexity          float64       `json:"complexity"`
	SafetyRisk          float64       `json:"safety_risk"`
	NeedsRetrieval      bool          `json:"needs_retrieval"`
	SuggestedTechniques []TechniqueID `json:"suggested_techniques"`
}

// Budget tracks the spend limits for one optimization. The technique engine
// is the only writer of RemainingCostUSD after construction.
type Budget struct {
	MaxCostUSD       float64 `json:"max_cost_usd"`
	MaxLatencyMS     int64   `json:"max_latency_ms"`
	MaxTokens        int     `json:"max_tokens"`
	RemainingCostUSD float64 `json:"remaining_cost_usd"`
	RemainingTimeMS  int64   `json:"remaining_time_ms"`
}

// NewBudget seeds a budget from the request caps.
func NewBudget(costCapUSD float64, latencyCapMS int64, maxTokens int) *Budget {
	return &Budget{
		MaxCostUSD:       costCapUSD,
		MaxLatencyMS:     latencyCapMS,
		MaxTokens:        maxTokens,
		RemainingCostUSD: costCapUSD,
		RemainingTimeMS:  latencyCapMS,
	}
}

// Variant bounds enforced by Validate. A variant outside these bounds is
// dropped by the builder rather than repaired.
const (
	VariantTemperatureMax = 2.0
	VariantEstTokensMin   = 1
	VariantEstTokensMax   = 8192
	VariantCostUSDMax     = 5.0
)

// Variant is one candidate rewrite of the user's prompt.
type Variant struct {
	ID          string      `json:"id"`
	Technique   TechniqueID `json:"technique"`
	Prompt      string      `json:"prompt"`
	Temperature float64     `json:"temperature"`
	EstTokens   int         `json:"est_tokens"`
	CostUSD     float64     `json:"cost_usd"`
}

// Validate checks the variant bounds. An invalid variant must be dropped.
func (v *Variant) Validate() error {
	if v.Technique == "" {
		return fmt.Errorf("variant %s: empty technique: %w", v.ID, ErrInvalidVariant)
	}
	if v.Prompt == "" {
		return fmt.Errorf("variant %s: empty prompt: %w", v.ID, ErrInvalidVariant)
	}
	if v.Temperature < 0 || v.Temperature > VariantTemperatureMax {
		return fmt.Errorf("variant %s: temperature %.2f out of [0,%.1f]: %w",
			v.ID, v.Temperature, VariantTemperatureMax, ErrInvalidVariant)
	}
	if v.EstTokens < VariantEstTokensMin || v.EstTokens > VariantEstTokensMax {
		return fmt.Errorf("variant %s: est_tokens %d out of [%d,%d]: %w",
			v.ID, v.EstTokens, VariantEstTokensMin, VariantEstTokensMax, ErrInvalidVariant)
	}
	if v.CostUSD <= 0 || v.CostUSD > VariantCostUSDMax {
		return fmt.Errorf("variant %s: cost_usd %.4f out of (0,%.1f]: %w",
			v.ID, v.CostUSD, VariantCostUSDMax, ErrInvalidVariant)
	}
	return nil
}

// RunnerResult is the outcome of executing one variant against a backend.
// Backend failures are carried in Error, never as a Go error, so that one
// failed variant cannot abort the fan-out stage.
type RunnerResult struct {
	VariantID    string  `json:"variant_id"`
	Content      string  `json:"content"`
	TokensUsed   int     `json:"tokens_used"`
	LatencyMS    int64   `json:"latency_ms"`
	CostUSD      float64 `json:"cost_usd"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// EvaluationResult is the merged output of the evaluator ensemble for one
// variant. CalibrationError is zero unless the scorers disagreed by more
// than the disagreement threshold.
type EvaluationResult struct {
	VariantID          string             `json:"variant_id"`
	Scores             map[string]float64 `json:"scores"`
	FinalScore         float64            `json:"final_score"`
	ConfidenceInterval [2]float64         `json:"confidence_interval"`
	CalibrationError   float64            `json:"calibration_error,omitempty"`
}

// PlannerResult is the strategy planner's recommendation.
type PlannerResult struct {
	SuggestedTechniques []TechniqueID   `json:"suggested_techniques"`
	Rationale           string          `json:"rationale"`
	Confidence          float64         `json:"confidence"`
	Metadata            PlannerMetadata `json:"metadata"`
}

// PlannerMetadata carries provenance for a planner result. A fail-closed
// baseline is identifiable only here (ModelUsed == "baseline").
type PlannerMetadata struct {
	ProcessingTimeMS int64   `json:"processing_time_ms"`
	ModelUsed        string  `json:"model_used"`
	CostUSD          float64 `json:"cost_usd"`
}

// VariantOutcome bundles a variant with its runner response and evaluation
// for the selector.
type VariantOutcome struct {
	Variant    Variant          `json:"variant"`
	Response   RunnerResult     `json:"response"`
	Evaluation EvaluationResult `json:"evaluation"`
}

// ResponseMetadata summarizes the pipeline's decisions for the client.
type ResponseMetadata struct {
	TotalVariantsGenerated int           `json:"total_variants_generated"`
	ParetoFrontierSize     int           `json:"pareto_frontier_size"`
	TechniquesUsed         []TechniqueID `json:"techniques_used"`
	SuggestedTechniques    []TechniqueID `json:"suggested_techniques"`
	StrategyConfidence     float64       `json:"strategy_confidence"`
	SafetyModifications    bool          `json:"safety_modifications"`
}

// Receipt is the tamper-evident summary attached to every successful
// response. The signature covers the canonical JSON of the hash fields plus
// the trace ID (see the receipt package).
type Receipt struct {
	FlowVersion string `json:"flow_version"`
	PlannerHash string `json:"planner_hash"`
	BuilderHash string `json:"builder_hash"`
	RunnerModel string `json:"runner_model"`
	Timestamp   string `json:"timestamp"`
	Signature   string `json:"sig"`
}

// OptimizationResponse is the terminal payload of a successful pipeline run.
type OptimizationResponse struct {
	TraceID            string             `json:"trace_id"`
	OriginalPrompt     string             `json:"original_prompt"`
	Classification     Classification     `json:"classification"`
	Variants           []VariantOutcome   `json:"variants"`
	Recommended        *VariantOutcome    `json:"recommended_variant"`
	EvaluationResults  []EvaluationResult `json:"evaluation_results"`
	Metadata           ResponseMetadata   `json:"metadata"`
	Receipt            *Receipt           `json:"receipt,omitempty"`
}

// RequestOptions are the client-supplied knobs on /api/optimize.
type RequestOptions struct {
	TaskType        string             `json:"task_type,omitempty"`
	Domain          string             `json:"domain,omitempty"`
	MaxVariants     int                `json:"max_variants,omitempty"`
	CostCapUSD      float64            `json:"cost_cap_usd,omitempty"`
	LatencyCapMS    int64              `json:"latency_cap_ms,omitempty"`
	SecurityLevel   string             `json:"security_level,omitempty"`
	Examples        []string           `json:"examples,omitempty"`
	ReferenceOutput string             `json:"reference_output,omitempty"`
	StyleGuide      string             `json:"style_guide,omitempty"`
	Preferences     map[string]float64 `json:"preferences,omitempty"`
}

// Request option defaults applied by the gateway.
const (
	DefaultMaxVariants  = 5
	DefaultCostCapUSD   = 1.0
	DefaultLatencyCapMS = 10_000
	DefaultSecurity     = "standard"
	MaxPromptLength     = 10_000
)

// OptimizationRequest is the parsed body of POST /api/optimize.
type OptimizationRequest struct {
	Prompt  string         `json:"prompt"`
	Options RequestOptions `json:"options,omitempty"`
}

// ApplyDefaults fills unset options with their documented defaults.
func (r *OptimizationRequest) ApplyDefaults() {
	if r.Options.MaxVariants <= 0 {
		r.Options.MaxVariants = DefaultMaxVariants
	}
	if r.Options.CostCapUSD <= 0 {
		r.Options.CostCapUSD = DefaultCostCapUSD
	}
	if r.Options.LatencyCapMS <= 0 {
		r.Options.LatencyCapMS = DefaultLatencyCapMS
	}
	if r.Options.SecurityLevel == "" {
		r.Options.SecurityLevel = DefaultSecurity
	}
}

// Validate rejects requests the pipeline must not accept.
func (r *OptimizationRequest) Validate() error {
	if r.Prompt == "" {
		return NewPipelineError("request.validate", CodeInvalidPrompt, "", fmt.Errorf("prompt is empty"))
	}
	if len(r.Prompt) > MaxPromptLength {
		return NewPipelineError("request.validate", CodeInvalidPrompt, "",
			fmt.Errorf("prompt length %d exceeds %d", len(r.Prompt), MaxPromptLength))
	}
	if r.Options.TaskType != "" && !TaskType(r.Options.TaskType).Valid() {
		return NewPipelineError("request.validate", CodeInvalidParameters, "",
			fmt.Errorf("unknown task_type %q", r.Options.TaskType))
	}
	if r.Options.Domain != "" && !Domain(r.Options.Domain).Valid() {
		return NewPipelineError("request.validate", CodeInvalidParameters, "",
			fmt.Errorf("unknown domain %q", r.Options.Domain))
	}
	return nil
}

// NewTraceID mints an opaque per-request identifier.
func NewTraceID() string {
	return "pd-" + uuid.New().String()
}

// NewVariantID derives a variant identifier from the technique, its ordinal
// within the technique, and the owning trace.
func NewVariantID(technique TechniqueID, ordinal int, traceID string) string {
	short := strings.TrimPrefix(traceID, "pd-")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%d-%s", technique, ordinal, short)
}

// DedupTechniques returns the distinct techniques in sorted order.
// Sorting keeps the builder hash deterministic across runs.
func DedupTechniques(ids []TechniqueID) []TechniqueID {
	seen := make(map[TechniqueID]bool, len(ids))
	out := make([]TechniqueID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UTCTimestamp renders t as RFC 3339 UTC with seconds precision, the
// format receipts are canonicalized with.
func UTCTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
