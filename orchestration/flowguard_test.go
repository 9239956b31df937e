package orchestration

import (
	"context"
	"errors"
	"testing"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/receipt"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

func wellFormedResponse(traceID string) *core.OptimizationResponse {
	outcome := core.VariantOutcome{
		Variant: core.Variant{
			ID:          "chain_of_thought-0-test",
			Technique:   core.TechniqueChainOfThought,
			Prompt:      "Let's think step by step.",
			Temperature: 0.7,
			EstTokens:   256,
			CostUSD:     0.002,
		},
		Response:   core.RunnerResult{VariantID: "chain_of_thought-0-test", Content: "x = 5"},
		Evaluation: core.EvaluationResult{VariantID: "chain_of_thought-0-test", FinalScore: 0.8},
	}
	return &core.OptimizationResponse{
		TraceID:        traceID,
		OriginalPrompt: "p",
		Variants:       []core.VariantOutcome{outcome},
		Recommended:    &outcome,
		Metadata: core.ResponseMetadata{
			TotalVariantsGenerated: 1,
			ParetoFrontierSize:     1,
			TechniquesUsed:         []core.TechniqueID{core.TechniqueChainOfThought},
			SuggestedTechniques:    []core.TechniqueID{core.TechniqueChainOfThought},
			StrategyConfidence:     0.75,
		},
	}
}

func newGuard(t *testing.T) *FlowGuard {
	t.Helper()
	signer, err := receipt.NewSigner()
	if err != nil {
		t.Fatal(err)
	}
	return NewFlowGuard(signer, nil)
}

func TestFinalizeAttachesVerifiableReceipt(t *testing.T) {
	g := newGuard(t)
	resp := wellFormedResponse("pd-guard-1")
	if err := g.Finalize(resp, "mock-model", "pd-guard-1"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if resp.Receipt == nil {
		t.Fatal("no receipt attached")
	}
	if resp.Receipt.FlowVersion != core.FlowVersion {
		t.Errorf("flow version = %q", resp.Receipt.FlowVersion)
	}
	if !receipt.Verify(g.signer.PublicKey(), resp.Receipt, "pd-guard-1") {
		t.Error("attached receipt does not verify")
	}
}

func TestFinalizeStrippedSuggestions(t *testing.T) {
	g := newGuard(t)
	resp := wellFormedResponse("pd-guard-2")
	resp.Metadata.SuggestedTechniques = nil

	before := telemetry.CounterValue(telemetry.MetricFlowMismatch)
	err := g.Finalize(resp, "mock-model", "pd-guard-2")
	if err == nil {
		t.Fatal("stripped suggestions must fail validation")
	}
	if core.CodeOf(err) != core.CodeFlowMismatch {
		t.Errorf("code = %s", core.CodeOf(err))
	}

	var pe *core.PipelineError
	if !errors.As(err, &pe) {
		t.Fatal("error is not a pipeline error")
	}
	found := false
	for _, d := range pe.Details {
		if d == "No suggested techniques from strategy planner" {
			found = true
		}
	}
	if !found {
		t.Errorf("details = %v, missing planner detail", pe.Details)
	}
	if telemetry.CounterValue(telemetry.MetricFlowMismatch) != before+1 {
		t.Error("mismatch counter not incremented")
	}
	if resp.Receipt != nil {
		t.Error("failed response must not carry a receipt")
	}
}

func TestFinalizeRejectsMalformedVariant(t *testing.T) {
	g := newGuard(t)
	resp := wellFormedResponse("pd-guard-3")
	resp.Variants[0].Variant.Prompt = ""
	if err := g.Finalize(resp, "mock-model", "pd-guard-3"); err == nil {
		t.Fatal("empty variant prompt must fail validation")
	}
}

func TestFinalizeRejectsTraceMismatch(t *testing.T) {
	g := newGuard(t)
	resp := wellFormedResponse("pd-guard-4")
	if err := g.Finalize(resp, "mock-model", "pd-guard-other"); err == nil {
		t.Fatal("trace mismatch must fail validation")
	}
}

func TestFinalizeCountsZeroTechniques(t *testing.T) {
	g := newGuard(t)
	resp := wellFormedResponse("pd-guard-5")
	resp.Metadata.TechniquesUsed = nil

	before := telemetry.CounterValue(telemetry.MetricZeroTechniques)
	if err := g.Finalize(resp, "mock-model", "pd-guard-5"); err == nil {
		t.Fatal("zero used techniques must fail validation")
	}
	if telemetry.CounterValue(telemetry.MetricZeroTechniques) != before+1 {
		t.Error("zero-techniques counter not incremented")
	}
}

func TestCanaryProbePasses(t *testing.T) {
	p, _ := testPipeline(t, nil)
	c := NewCanary(p, nil)
	if err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("canary probe: %v", err)
	}
}

func TestCanaryDetectsBrokenPipeline(t *testing.T) {
	p, _ := testPipeline(t, func(d *Deps) { d.Builder = &emptyBuilder{} })
	c := NewCanary(p, nil)
	if err := c.RunOnce(context.Background()); err == nil {
		t.Fatal("canary must fail when the builder is broken")
	}
}
