package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// StreamingClient is the optional streaming surface of a provider client.
// Providers that cannot stream are wrapped by a single-chunk fallback.
type StreamingClient interface {
	GenerateStream(ctx context.Context, prompt string, options *core.GenOptions,
		onChunk core.StreamCallback) (*core.GenResponse, error)
}

// Runner executes variants against one provider client. Backend failures
// are carried inside the RunnerResult, never returned as a Go error, so a
// failed variant cannot abort the fan-out stage.
type Runner struct {
	client       core.GenClient
	provider     string
	defaultModel string
	logger       core.Logger
}

// New creates a runner on the named provider. An empty name triggers
// environment detection across all registered providers.
func New(provider string, cfg *ProviderConfig, logger core.Logger) (*Runner, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}

	if provider == "" {
		detected, err := DetectBestProvider(logger)
		if err != nil {
			return nil, fmt.Errorf("runner: %w", err)
		}
		provider = detected
	}

	factory, ok := GetProvider(provider)
	if !ok {
		return nil, fmt.Errorf("runner: unknown provider %q (registered: %v)", provider, ListProviders())
	}

	return &Runner{
		client:       factory.Create(cfg),
		provider:     provider,
		defaultModel: cfg.Model,
		logger:       logger,
	}, nil
}

// FromConfig builds a runner from the pipeline configuration.
func FromConfig(cfg *core.Config, logger core.Logger) (*Runner, error) {
	provider := cfg.Runner.Provider
	pc := &ProviderConfig{
		Model:      cfg.Runner.DefaultModel,
		Timeout:    cfg.Timeouts.Runner,
		MaxRetries: cfg.Retry.MaxRetries,
		Logger:     logger,
	}
	if provider != "" {
		pc.APIKey = cfg.Runner.APIKeys[provider]
		pc.BaseURL = cfg.Runner.RunnerURLs[provider]
	}
	return New(provider, pc, logger)
}

// Provider returns the active provider name.
func (r *Runner) Provider() string { return r.provider }

// Model returns the model the runner will use when a call does not name one.
func (r *Runner) Model() string { return r.defaultModel }

// Run executes one variant. The returned result always carries the variant
// ID; on backend failure Content is empty and Error is set.
func (r *Runner) Run(ctx context.Context, v *core.Variant, traceID string) *core.RunnerResult {
	start := time.Now()
	telemetry.Counter(telemetry.MetricRunnerCalls, "provider", r.provider)

	resp, err := r.client.GenerateResponse(ctx, v.Prompt, &core.GenOptions{
		Model:       r.defaultModel,
		Temperature: v.Temperature,
		MaxTokens:   v.EstTokens,
	})
	latency := time.Since(start).Milliseconds()
	telemetry.Histogram(telemetry.MetricRunnerLatency, float64(latency), "provider", r.provider)

	if err != nil {
		telemetry.Counter(telemetry.MetricRunnerErrors, "provider", r.provider)
		r.logger.Error("Runner call failed", map[string]interface{}{
			"operation": "run_variant",
			"trace_id":  traceID,
			"variant":   v.ID,
			"provider":  r.provider,
			"error":     err.Error(),
		})
		return &core.RunnerResult{
			VariantID: v.ID,
			Provider:  r.provider,
			Model:     r.defaultModel,
			LatencyMS: latency,
			Error:     err.Error(),
		}
	}

	cost := Cost(resp.Model, resp.Usage.TotalTokens)
	telemetry.Histogram(telemetry.MetricRunnerCost, cost, "provider", r.provider)

	return &core.RunnerResult{
		VariantID:    v.ID,
		Content:      resp.Content,
		TokensUsed:   resp.Usage.TotalTokens,
		LatencyMS:    latency,
		CostUSD:      cost,
		Provider:     r.provider,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
	}
}

// RunStream executes one variant with incremental delivery. onChunk receives
// each content chunk; onDone receives the final accounting. Providers
// without native streaming deliver their whole response as a single chunk.
func (r *Runner) RunStream(ctx context.Context, v *core.Variant, traceID string,
	onChunk core.StreamCallback, onDone core.CompletionCallback) {

	start := time.Now()
	telemetry.Counter(telemetry.MetricRunnerCalls, "provider", r.provider, "mode", "stream")

	opts := &core.GenOptions{
		Model:       r.defaultModel,
		Temperature: v.Temperature,
		MaxTokens:   v.EstTokens,
	}

	var resp *core.GenResponse
	var err error
	if sc, ok := r.client.(StreamingClient); ok {
		resp, err = sc.GenerateStream(ctx, v.Prompt, opts, onChunk)
	} else {
		resp, err = r.client.GenerateResponse(ctx, v.Prompt, opts)
		if err == nil && onChunk != nil {
			onChunk(resp.Content)
		}
	}

	if err != nil {
		telemetry.Counter(telemetry.MetricRunnerErrors, "provider", r.provider)
		r.logger.Error("Streaming runner call failed", map[string]interface{}{
			"operation": "run_variant_stream",
			"trace_id":  traceID,
			"variant":   v.ID,
			"provider":  r.provider,
			"error":     err.Error(),
		})
		if onDone != nil {
			onDone(nil, err)
		}
		return
	}

	telemetry.Histogram(telemetry.MetricRunnerLatency,
		float64(time.Since(start).Milliseconds()), "provider", r.provider)
	if onDone != nil {
		onDone(resp, nil)
	}
}

// Healthy reports whether the provider client is configured.
func (r *Runner) Healthy(ctx context.Context) bool {
	return r.client != nil
}
