package core

import (
	"context"
)

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// GenClient is the minimal surface of a text-generation backend.
// Runner providers implement it; the planner may also consult one.
type GenClient interface {
	GenerateResponse(ctx context.Context, prompt string, options *GenOptions) (*GenResponse, error)
}

// GenOptions for text generation.
type GenOptions struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Seed         int64 // 0 means unseeded
}

// GenResponse from a generation backend.
type GenResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage for generation responses.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamCallback receives incremental chunks when a backend streams.
type StreamCallback func(chunk string)

// CompletionCallback receives the final result of a streamed call.
type CompletionCallback func(resp *GenResponse, err error)

// Sanitizer is the safety guard interface. The concrete pattern list is an
// external collaborator; the pipeline only depends on this surface.
type Sanitizer interface {
	// Sanitize inspects a prompt before any other stage sees it.
	Sanitize(ctx context.Context, prompt, traceID string) (*SanitizeResult, error)
	// CheckVariant re-checks a candidate rewrite before it is recommended.
	CheckVariant(ctx context.Context, prompt, traceID string) (bool, string)
	// Healthy reports whether the guard is operational.
	Healthy(ctx context.Context) bool
}

// SanitizeResult is the outcome of the safety stage.
type SanitizeResult struct {
	Safe            bool   `json:"safe"`
	SanitizedPrompt string `json:"sanitized_prompt,omitempty"`
	BlockedReason   string `json:"blocked_reason,omitempty"`
	Modified        bool   `json:"modified"`
}

// Retriever supplies worked examples for retrieval-dependent techniques.
// Failures are degradations: the pipeline continues with no examples.
type Retriever interface {
	Retrieve(ctx context.Context, query string, taskType TaskType, limit int) ([]string, error)
}

// HealthChecker is implemented by components that participate in /health.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpRetriever returns no examples and never fails.
type NoOpRetriever struct{}

func (n *NoOpRetriever) Retrieve(ctx context.Context, query string, taskType TaskType, limit int) ([]string, error) {
	return nil, nil
}
