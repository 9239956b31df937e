// Package providers holds the shared HTTP plumbing for generation backend
// clients.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// BaseClient provides common functionality for all backend providers.
type BaseClient struct {
	HTTPClient *http.Client
	Logger     core.Logger

	MaxRetries int
	RetryDelay time.Duration

	DefaultModel        string
	DefaultTemperature  float64
	DefaultMaxTokens    int
	DefaultSystemPrompt string
}

// NewBaseClient creates a base client with defaults.
func NewBaseClient(timeout time.Duration, logger core.Logger) *BaseClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BaseClient{
		HTTPClient:         &http.Client{Timeout: timeout},
		Logger:             logger,
		MaxRetries:         2,
		RetryDelay:         100 * time.Millisecond,
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1024,
	}
}

// ExecuteWithRetry performs an HTTP request with exponential backoff.
// Network errors and 5xx/429 responses are retried; other client errors
// return immediately.
func (b *BaseClient) ExecuteWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		reqClone := req.Clone(ctx)

		resp, err := b.HTTPClient.Do(reqClone)
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}

		// Non-retryable client errors pass through for HandleError.
		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			_ = resp.Body.Close()
		}

		if attempt < b.MaxRetries {
			delay := b.RetryDelay * time.Duration(1<<uint(attempt))
			b.Logger.Warn("Backend request failed, retrying", map[string]interface{}{
				"operation":      "backend_request_retry",
				"attempt":        attempt + 1,
				"max_retries":    b.MaxRetries,
				"retry_delay_ms": delay.Milliseconds(),
				"error":          lastErr.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", b.MaxRetries, lastErr)
}

// ApplyDefaults fills unset option fields from the client defaults.
func (b *BaseClient) ApplyDefaults(options *core.GenOptions) *core.GenOptions {
	if options == nil {
		options = &core.GenOptions{}
	}
	if options.Model == "" && b.DefaultModel != "" {
		options.Model = b.DefaultModel
	}
	if options.Temperature == 0 {
		options.Temperature = b.DefaultTemperature
	}
	if options.MaxTokens == 0 {
		options.MaxTokens = b.DefaultMaxTokens
	}
	if options.SystemPrompt == "" && b.DefaultSystemPrompt != "" {
		options.SystemPrompt = b.DefaultSystemPrompt
	}
	return options
}

// HandleError maps API error responses to consistent errors.
func (b *BaseClient) HandleError(statusCode int, body []byte, provider string) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s API error: invalid or missing API key", provider)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s API error: rate limit exceeded", provider)
	case http.StatusBadRequest:
		return fmt.Errorf("%s API error: invalid request - %s", provider, string(body))
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%s API error: service temporarily unavailable (status %d)", provider, statusCode)
	default:
		return fmt.Errorf("%s API error (status %d): %s", provider, statusCode, string(body))
	}
}

// LogRequest logs an outgoing API request.
func (b *BaseClient) LogRequest(provider, model, prompt string) {
	b.Logger.Debug("Backend request initiated", map[string]interface{}{
		"operation":     "backend_request",
		"provider":      provider,
		"model":         model,
		"prompt_length": len(prompt),
	})
}

// LogResponse logs an API response.
func (b *BaseClient) LogResponse(provider, model string, tokens core.TokenUsage, duration time.Duration) {
	b.Logger.Debug("Backend response received", map[string]interface{}{
		"operation":         "backend_response",
		"provider":          provider,
		"model":             model,
		"prompt_tokens":     tokens.PromptTokens,
		"completion_tokens": tokens.CompletionTokens,
		"total_tokens":      tokens.TotalTokens,
		"duration_ms":       duration.Milliseconds(),
	})
}
