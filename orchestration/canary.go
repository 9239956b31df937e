package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/receipt"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// canaryInterval is how often the synthetic probe runs.
const canaryInterval = 60 * time.Second

// canaryPrompt is the fixed synthetic input. It classifies as math
// reasoning, so chain-of-thought is always among the used techniques.
const canaryPrompt = "Solve: If 3x + 5 = 20, what is x?"

// Canary periodically re-exercises the whole pipeline and verifies the
// receipt. Failures alert through the canary counter; traffic is never
// quiesced.
type Canary struct {
	pipeline *Pipeline
	interval time.Duration
	logger   core.Logger
}

// NewCanary creates a canary on the default interval.
func NewCanary(pipeline *Pipeline, logger core.Logger) *Canary {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Canary{pipeline: pipeline, interval: canaryInterval, logger: logger}
}

// Start runs the loop until ctx is cancelled.
func (c *Canary) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				telemetry.Counter(telemetry.MetricCanaryFailed)
				c.logger.Error("Canary probe failed", map[string]interface{}{
					"operation": "canary",
					"error":     err.Error(),
				})
			}
		}
	}
}

// RunOnce submits the probe and asserts the full response contract.
func (c *Canary) RunOnce(ctx context.Context) error {
	req := &core.OptimizationRequest{Prompt: canaryPrompt}
	resp, err := c.pipeline.Optimize(ctx, req, "")
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	if resp.Receipt == nil {
		return fmt.Errorf("probe response carries no receipt")
	}
	if resp.Receipt.FlowVersion != core.FlowVersion {
		return fmt.Errorf("probe receipt flow version %q", resp.Receipt.FlowVersion)
	}
	if !receipt.Verify(c.pipeline.Signer().PublicKey(), resp.Receipt, resp.TraceID) {
		return fmt.Errorf("probe receipt does not verify")
	}
	issued, err := time.Parse("2006-01-02T15:04:05Z", resp.Receipt.Timestamp)
	if err != nil {
		return fmt.Errorf("probe receipt timestamp %q: %w", resp.Receipt.Timestamp, err)
	}
	if age := time.Since(issued); age < -time.Minute || age > time.Minute {
		return fmt.Errorf("probe receipt timestamp skew %s", age)
	}
	cot := false
	for _, id := range resp.Metadata.TechniquesUsed {
		if id == core.TechniqueChainOfThought {
			cot = true
		}
	}
	if !cot {
		return fmt.Errorf("probe did not use chain-of-thought")
	}
	if resp.Metadata.TotalVariantsGenerated < 2 {
		return fmt.Errorf("probe generated %d variants", resp.Metadata.TotalVariantsGenerated)
	}
	if resp.Recommended == nil {
		return fmt.Errorf("probe has no recommended variant")
	}
	return nil
}
