// Package safecall implements an Anthropic-compatible backend that repairs
// structured conversation prompts before sending: every unmatched tool_use
// block is paired with a synthesized tool_result so the upstream API does
// not reject the call.
package safecall

import (
	"context"
	"os"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/runner"
	"github.com/Esk3nder/promptdial-standalone-sub001/runner/providers/anthropic"
)

// Client wraps the Anthropic client with the tool-use repair pre-filter.
type Client struct {
	*anthropic.Client
	logger core.Logger
}

// NewClient creates a safecall client.
func NewClient(apiKey, baseURL string, logger core.Logger) *Client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Client{
		Client: anthropic.NewClient(apiKey, baseURL, logger),
		logger: logger,
	}
}

// GenerateResponse repairs the prompt if it is a structured message list,
// then delegates to the Anthropic client.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.GenOptions) (*core.GenResponse, error) {
	repaired, inserted := RepairPrompt(prompt)
	if inserted > 0 {
		c.logger.Warn("Repaired unmatched tool_use blocks", map[string]interface{}{
			"operation":    "tool_use_repair",
			"inserted":     inserted,
			"prompt_bytes": len(prompt),
		})
	}
	return c.Client.GenerateResponse(ctx, repaired, options)
}

// Factory implements runner.ProviderFactory for safecall.
type Factory struct{}

// Create creates a new safecall client instance.
func (f *Factory) Create(config *runner.ProviderConfig) core.GenClient {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("SAFECALL_API_KEY")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("SAFECALL_RUNNER_URL")
	}

	client := NewClient(apiKey, baseURL, config.Logger)
	if config.Timeout > 0 {
		client.HTTPClient.Timeout = config.Timeout
	}
	if config.MaxRetries > 0 {
		client.MaxRetries = config.MaxRetries
	}
	if config.Model != "" {
		client.DefaultModel = config.Model
	}
	if config.MaxTokens > 0 {
		client.DefaultMaxTokens = config.MaxTokens
	}
	return client
}

// DetectEnvironment reports availability from the environment.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	if os.Getenv("SAFECALL_API_KEY") != "" {
		return 85, true
	}
	return 0, false
}

// Name returns the provider name.
func (f *Factory) Name() string { return "safecall" }

// Description returns a human-readable description.
func (f *Factory) Description() string {
	return "Anthropic-compatible backend with tool-use repair pre-filter"
}

func init() {
	runner.MustRegister(&Factory{})
}
