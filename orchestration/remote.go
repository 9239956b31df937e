package orchestration

import (
	"context"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/plan"
)

// RemoteClassifier runs the classification stage on an out-of-process
// worker. The orchestrator cannot tell it apart from the in-process one.
type RemoteClassifier struct {
	client *WorkerClient
}

// NewRemoteClassifier creates a classifier stage bound to a worker URL.
func NewRemoteClassifier(baseURL string, timeout time.Duration, logger core.Logger) *RemoteClassifier {
	return &RemoteClassifier{client: NewWorkerClient("classifier", baseURL, timeout, logger)}
}

type classifyPayload struct {
	Prompt string `json:"prompt"`
}

func (c *RemoteClassifier) Classify(ctx context.Context, prompt, traceID string) (*core.Classification, error) {
	if traceID == "" {
		traceID = core.NewTraceID()
	}
	var out core.Classification
	err := c.client.Call(ctx, traceID, "classify", &classifyPayload{Prompt: prompt}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RemoteClassifier) Healthy(ctx context.Context) bool {
	traceID := core.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = core.NewTraceID()
	}
	return c.client.Call(ctx, traceID, "health", nil, nil) == nil
}

// RemotePlanner runs the strategy planning stage on a worker. Transport
// failures collapse to the baseline, preserving the planner contract.
type RemotePlanner struct {
	client *WorkerClient
	logger core.Logger
}

// NewRemotePlanner creates a planner stage bound to a worker URL.
func NewRemotePlanner(baseURL string, timeout time.Duration, logger core.Logger) *RemotePlanner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RemotePlanner{client: NewWorkerClient("planner", baseURL, timeout, logger), logger: logger}
}

type planPayload struct {
	Prompt   string        `json:"prompt"`
	TaskType core.TaskType `json:"task_type"`
	Level    string        `json:"optimization_level,omitempty"`
}

func (p *RemotePlanner) Plan(ctx context.Context, prompt string, pctx *plan.Context) *core.PlannerResult {
	if pctx == nil {
		pctx = &plan.Context{}
	}
	traceID := pctx.TraceID
	if traceID == "" {
		traceID = core.NewTraceID()
	}
	var out core.PlannerResult
	err := p.client.Call(ctx, traceID, "plan", &planPayload{
		Prompt:   prompt,
		TaskType: pctx.TaskType,
		Level:    pctx.OptimizationLevel,
	}, &out)
	if err == nil {
		err = plan.Validate(&out)
	}
	if err != nil {
		p.logger.Warn("Remote planner unavailable, using baseline", map[string]interface{}{
			"operation": "plan",
			"trace_id":  traceID,
			"error":     err.Error(),
		})
		return plan.Baseline()
	}
	return &out
}
