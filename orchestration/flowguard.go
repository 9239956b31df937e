package orchestration

import (
	"fmt"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/receipt"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// FlowGuard is the terminal validation stage. A response that fails any
// end-to-end check is replaced by an error; there is no silent fallback.
type FlowGuard struct {
	signer *receipt.Signer
	logger core.Logger
}

// NewFlowGuard creates a guard bound to the process signer.
func NewFlowGuard(signer *receipt.Signer, logger core.Logger) *FlowGuard {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &FlowGuard{signer: signer, logger: logger}
}

// Finalize validates the assembled response, signs the receipt, and
// verifies it in place. On any violation the response must be discarded and
// the returned error carries the full detail list.
func (g *FlowGuard) Finalize(resp *core.OptimizationResponse, runnerModel, traceID string) error {
	violations := g.validate(resp, traceID)
	if len(violations) == 0 {
		r := g.signer.Issue(resp.Metadata.SuggestedTechniques, resp.Metadata.TechniquesUsed,
			runnerModel, traceID)
		if !receipt.Verify(g.signer.PublicKey(), r, traceID) {
			violations = append(violations, "Receipt failed self-verification")
		} else {
			resp.Receipt = r
		}
	}

	if len(violations) > 0 {
		telemetry.Counter(telemetry.MetricFlowMismatch)
		g.logger.Error("Flow validation failed", map[string]interface{}{
			"operation":  "flow_guard",
			"trace_id":   traceID,
			"violations": violations,
		})
		err := core.NewPipelineError("flowguard.Finalize", core.CodeFlowMismatch, traceID,
			fmt.Errorf("%d flow violations", len(violations)))
		err.Details = violations
		return err
	}
	return nil
}

// validate runs the end-to-end checks that must hold on every successful
// response. The receipt checks happen in Finalize after signing.
func (g *FlowGuard) validate(resp *core.OptimizationResponse, traceID string) []string {
	var violations []string

	if resp.TraceID != traceID {
		violations = append(violations,
			fmt.Sprintf("Trace ID mismatch: response carries %q", resp.TraceID))
	}
	if len(resp.Metadata.SuggestedTechniques) == 0 {
		violations = append(violations, "No suggested techniques from strategy planner")
	}
	if len(resp.Variants) == 0 {
		violations = append(violations, "No variants in response")
	}
	if len(resp.Metadata.TechniquesUsed) == 0 {
		telemetry.Counter(telemetry.MetricZeroTechniques)
		violations = append(violations, "No techniques recorded as used")
	}
	for i := range resp.Variants {
		v := &resp.Variants[i].Variant
		if v.Technique == "" || v.Prompt == "" {
			violations = append(violations,
				fmt.Sprintf("Malformed variant %q: empty technique or prompt", v.ID))
		}
	}
	if resp.Recommended == nil {
		violations = append(violations, "No recommended variant")
	}
	return violations
}
