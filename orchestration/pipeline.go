// Package orchestration sequences an optimization request through the nine
// pipeline stages, enforces budgets and invariants, and attaches the signed
// receipt. It owns the flow guard and the canary loop.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/plan"
	"github.com/Esk3nder/promptdial-standalone-sub001/receipt"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// maxParallelRuns is the default bound on concurrent runner executions
// per trace.
const maxParallelRuns = 3

// Classifier is the surface the pipeline needs from the classifier stage.
// traceID rides along so out-of-process implementations can propagate it.
type Classifier interface {
	Classify(ctx context.Context, prompt, traceID string) (*core.Classification, error)
	Healthy(ctx context.Context) bool
}

// StrategyPlanner recommends techniques. Implementations never return an
// error; failures collapse to the baseline plan.
type StrategyPlanner interface {
	Plan(ctx context.Context, prompt string, pctx *plan.Context) *core.PlannerResult
}

// VariantBuilder expands a prompt into validated variants.
type VariantBuilder interface {
	BuildVariants(basePrompt string, c *core.Classification, budget *core.Budget,
		traceID string, maxVariants int, examples []string) ([]core.Variant, error)
}

// VariantRunner executes one variant. Backend failures live in the result's
// Error field, never in a Go error.
type VariantRunner interface {
	Run(ctx context.Context, v *core.Variant, traceID string) *core.RunnerResult
	Model() string
	Healthy(ctx context.Context) bool
}

// ResponseEvaluator scores one (variant, response) pair.
type ResponseEvaluator interface {
	Evaluate(ctx context.Context, v *core.Variant, response *core.RunnerResult,
		c *core.Classification, references []string) *core.EvaluationResult
}

// VariantSelector picks the recommendation and frontier.
type VariantSelector interface {
	Select(ctx context.Context, outcomes []core.VariantOutcome,
		preferences map[string]float64, traceID string) (*Selection, error)
}

// Selection mirrors the selector package's output shape so the pipeline does
// not import it directly; the gateway wires the adapter.
type Selection struct {
	Recommended    *core.VariantOutcome
	Alternatives   []core.VariantOutcome
	ParetoFrontier []core.VariantOutcome
}

// Deps bundles the collaborators a pipeline needs. Sanitizer, Classifier,
// Planner, Builder, Runner, Evaluator, and Selector are required; Retriever
// and Logger may be nil.
type Deps struct {
	Sanitizer  core.Sanitizer
	Classifier Classifier
	Planner    StrategyPlanner
	Retriever  core.Retriever
	Builder    VariantBuilder
	Runner     VariantRunner
	Evaluator  ResponseEvaluator
	Selector   VariantSelector
	Signer     *receipt.Signer
	Logger     core.Logger

	// RunnerConcurrency caps simultaneous runner calls per request.
	// Zero or negative means the default cap of 3.
	RunnerConcurrency int
}

// Pipeline executes the staged optimization flow.
type Pipeline struct {
	deps  Deps
	guard *FlowGuard
	limit int
}

// New creates a pipeline. A nil Signer gets a fresh process keypair.
func New(deps Deps) (*Pipeline, error) {
	if deps.Sanitizer == nil || deps.Classifier == nil || deps.Planner == nil ||
		deps.Builder == nil || deps.Runner == nil || deps.Evaluator == nil ||
		deps.Selector == nil {
		return nil, fmt.Errorf("pipeline: missing required dependency: %w", core.ErrMissingConfiguration)
	}
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if deps.Retriever == nil {
		deps.Retriever = &core.NoOpRetriever{}
	}
	if deps.Signer == nil {
		signer, err := receipt.NewSigner()
		if err != nil {
			return nil, err
		}
		deps.Signer = signer
	}
	limit := deps.RunnerConcurrency
	if limit <= 0 {
		limit = maxParallelRuns
	}
	return &Pipeline{
		deps:  deps,
		guard: NewFlowGuard(deps.Signer, deps.Logger),
		limit: limit,
	}, nil
}

// Signer exposes the receipt signer for external verifiers.
func (p *Pipeline) Signer() *receipt.Signer { return p.deps.Signer }

// Healthy reports whether the critical stages can serve.
func (p *Pipeline) Healthy(ctx context.Context) bool {
	return p.deps.Sanitizer.Healthy(ctx) && p.deps.Classifier.Healthy(ctx)
}

// Optimize runs the full staged flow for one request. traceID may be empty,
// in which case a fresh one is minted. Stage failures surface as
// *core.PipelineError with the stage's code; degradable stages (planning,
// retrieval) never fail the request.
func (p *Pipeline) Optimize(ctx context.Context, req *core.OptimizationRequest, traceID string) (*core.OptimizationResponse, error) {
	start := time.Now()
	if traceID == "" {
		traceID = core.NewTraceID()
	}
	ctx, span := otel.Tracer("promptdial/orchestration").Start(ctx, "pipeline.optimize",
		trace.WithAttributes(attribute.String("promptdial.trace_id", traceID)))
	defer span.End()

	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	telemetry.Counter(telemetry.MetricRequests)
	defer telemetry.Duration(telemetry.MetricRequestDuration, start)

	opts := &req.Options
	budget := core.NewBudget(opts.CostCapUSD, opts.LatencyCapMS, 0)

	// Safety sanitize.
	sanitized, err := p.deps.Sanitizer.Sanitize(ctx, req.Prompt, traceID)
	if err != nil {
		return nil, p.stageError("sanitize", core.CodeServiceUnavailable, traceID, err)
	}
	if !sanitized.Safe {
		// The blocked prompt stays in the audit ring only; the client sees
		// the reason, never the echo.
		return nil, p.stageError("sanitize", core.CodeSafetyViolation, traceID,
			fmt.Errorf("prompt blocked: %s", sanitized.BlockedReason))
	}
	prompt := sanitized.SanitizedPrompt
	if err := p.checkBudget(start, budget, "classify", traceID); err != nil {
		return nil, err
	}

	// Classify.
	classification, err := p.deps.Classifier.Classify(ctx, prompt, traceID)
	if err != nil {
		return nil, p.stageError("classify", core.CodeInternalError, traceID, err)
	}
	applyOverrides(classification, opts)
	if err := p.checkBudget(start, budget, "plan", traceID); err != nil {
		return nil, err
	}

	// Plan. Never fails: the planner collapses to baseline internally.
	planned := p.deps.Planner.Plan(ctx, prompt, &plan.Context{
		TaskType: classification.TaskType,
		TraceID:  traceID,
	})
	// A fail-closed baseline stays minimal; a real plan is enriched with the
	// classifier's own suggestions.
	suggested := planned.SuggestedTechniques
	if planned.Metadata.ModelUsed != "baseline" {
		suggested = mergeSuggestions(planned.SuggestedTechniques, classification.SuggestedTechniques)
	}
	classification.SuggestedTechniques = suggested
	if err := p.checkBudget(start, budget, "retrieve", traceID); err != nil {
		return nil, err
	}

	// Retrieve. Degradable: failures become an empty example set.
	examples := append([]string(nil), opts.Examples...)
	if classification.NeedsRetrieval {
		retrieved, rerr := p.deps.Retriever.Retrieve(ctx, prompt, classification.TaskType, 3)
		if rerr != nil {
			telemetry.Counter(telemetry.MetricRetrievalDown)
			p.deps.Logger.Warn("Retrieval failed, continuing without examples", map[string]interface{}{
				"operation": "retrieve",
				"trace_id":  traceID,
				"error":     rerr.Error(),
			})
		} else {
			examples = append(examples, retrieved...)
		}
	}
	if err := p.checkBudget(start, budget, "build", traceID); err != nil {
		return nil, err
	}

	// Build variants.
	variants, err := p.deps.Builder.BuildVariants(prompt, classification, budget,
		traceID, opts.MaxVariants, examples)
	if err != nil {
		telemetry.Counter(telemetry.MetricStageErrors, "stage", "build")
		return nil, err
	}
	if err := p.checkBudget(start, budget, "run", traceID); err != nil {
		return nil, err
	}

	// Run in parallel batches, bounded, order-preserving.
	responses := p.runVariants(ctx, variants, traceID)
	if err := p.checkBudget(start, budget, "evaluate", traceID); err != nil {
		return nil, err
	}

	// Evaluate each response, fanned out per variant. The slices are
	// index-addressed so no two goroutines touch the same element.
	var references []string
	if opts.ReferenceOutput != "" {
		references = []string{opts.ReferenceOutput}
	}
	outcomes := make([]core.VariantOutcome, len(variants))
	evaluations := make([]core.EvaluationResult, len(variants))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(p.limit)
	for i := range variants {
		i := i
		eg.Go(func() error {
			eval := p.deps.Evaluator.Evaluate(ectx, &variants[i], &responses[i], classification, references)
			evaluations[i] = *eval
			outcomes[i] = core.VariantOutcome{
				Variant:    variants[i],
				Response:   responses[i],
				Evaluation: *eval,
			}
			return nil
		})
	}
	_ = eg.Wait()
	if err := p.checkBudget(start, budget, "select", traceID); err != nil {
		return nil, err
	}

	// Select and re-check safety.
	selection, err := p.deps.Selector.Select(ctx, outcomes, opts.Preferences, traceID)
	if err != nil {
		telemetry.Counter(telemetry.MetricStageErrors, "stage", "select")
		return nil, err
	}

	used := make([]core.TechniqueID, 0, len(variants))
	for i := range variants {
		used = append(used, variants[i].Technique)
	}
	resp := &core.OptimizationResponse{
		TraceID:           traceID,
		OriginalPrompt:    req.Prompt,
		Classification:    *classification,
		Variants:          selection.ParetoFrontier,
		Recommended:       selection.Recommended,
		EvaluationResults: evaluations,
		Metadata: core.ResponseMetadata{
			TotalVariantsGenerated: len(variants),
			ParetoFrontierSize:     len(selection.ParetoFrontier),
			TechniquesUsed:         core.DedupTechniques(used),
			SuggestedTechniques:    suggested,
			StrategyConfidence:     planned.Confidence,
			SafetyModifications:    sanitized.Modified,
		},
	}

	// Flow guard: validate end to end and attach the receipt.
	if err := p.guard.Finalize(resp, p.deps.Runner.Model(), traceID); err != nil {
		return nil, err
	}

	p.deps.Logger.Info("Optimization complete", map[string]interface{}{
		"operation":   "optimize",
		"trace_id":    traceID,
		"task_type":   string(classification.TaskType),
		"variants":    len(variants),
		"frontier":    len(selection.ParetoFrontier),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return resp, nil
}

// runVariants dispatches variants in batches bounded by the concurrency
// cap. A batch must complete before the next begins. The result slice is
// index-addressed so the output order matches the input order regardless
// of completion order within a batch.
func (p *Pipeline) runVariants(ctx context.Context, variants []core.Variant, traceID string) []core.RunnerResult {
	responses := make([]core.RunnerResult, len(variants))
	for lo := 0; lo < len(variants); lo += p.limit {
		hi := lo + p.limit
		if hi > len(variants) {
			hi = len(variants)
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := lo; i < hi; i++ {
			i := i
			g.Go(func() error {
				responses[i] = *p.deps.Runner.Run(gctx, &variants[i], traceID)
				return nil
			})
		}
		_ = g.Wait()
	}
	return responses
}

// checkBudget refreshes the advisory remaining time and fails the request
// once the latency cap is spent.
func (p *Pipeline) checkBudget(start time.Time, budget *core.Budget, stage, traceID string) error {
	remaining := budget.MaxLatencyMS - time.Since(start).Milliseconds()
	if remaining < budget.RemainingTimeMS {
		budget.RemainingTimeMS = remaining
	}
	if budget.RemainingTimeMS <= 0 {
		telemetry.Counter(telemetry.MetricStageErrors, "stage", stage)
		return core.NewPipelineError("pipeline."+stage, core.CodeBudgetExceeded, traceID,
			fmt.Errorf("latency cap %dms exhausted before %s", budget.MaxLatencyMS, stage))
	}
	return nil
}

func (p *Pipeline) stageError(stage string, code core.ErrorCode, traceID string, err error) error {
	telemetry.Counter(telemetry.MetricStageErrors, "stage", stage)
	p.deps.Logger.Error("Pipeline stage failed", map[string]interface{}{
		"operation": stage,
		"trace_id":  traceID,
		"code":      string(code),
		"error":     err.Error(),
	})
	return core.NewPipelineError("pipeline."+stage, code, traceID, err)
}

// applyOverrides lets the client pin the task type or domain. Invalid values
// were already rejected by request validation.
func applyOverrides(c *core.Classification, opts *core.RequestOptions) {
	if opts.TaskType != "" {
		c.TaskType = core.TaskType(opts.TaskType)
	}
	if opts.Domain != "" {
		c.Domain = core.Domain(opts.Domain)
	}
}

// mergeSuggestions keeps the planner's ordering and appends classifier
// suggestions the planner did not name.
func mergeSuggestions(planned, classified []core.TechniqueID) []core.TechniqueID {
	seen := make(map[core.TechniqueID]bool, len(planned)+len(classified))
	out := make([]core.TechniqueID, 0, len(planned)+len(classified))
	for _, id := range planned {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range classified {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
