// Package mock provides a mock generation backend for tests and the canary.
package mock

import (
	"context"
	"errors"
	"fmt"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/runner"
)

func init() {
	if err := runner.Register(&Factory{}); err != nil {
		panic(fmt.Sprintf("failed to register mock provider: %v", err))
	}
}

// Factory creates mock clients.
type Factory struct{}

// Name returns the provider name.
func (f *Factory) Name() string { return "mock" }

// Description returns the provider description.
func (f *Factory) Description() string { return "Mock backend for testing" }

// Create creates a new mock client.
func (f *Factory) Create(config *runner.ProviderConfig) core.GenClient {
	return NewClient(config)
}

// DetectEnvironment never auto-detects; the mock must be chosen explicitly.
func (f *Factory) DetectEnvironment() (priority int, available bool) {
	return 0, false
}

// Client implements core.GenClient for testing. Responses are consumed in
// order and repeat the last entry once exhausted.
type Client struct {
	Config        *runner.ProviderConfig
	Responses     []string
	ResponseIndex int
	Error         error
	CallCount     int
	LastPrompt    string
	LastOptions   *core.GenOptions
}

// NewClient creates a new mock client.
func NewClient(config *runner.ProviderConfig) *Client {
	return &Client{
		Config:    config,
		Responses: []string{"Mock response"},
	}
}

// GenerateResponse returns the next canned response.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.GenOptions) (*core.GenResponse, error) {
	c.CallCount++
	c.LastPrompt = prompt
	c.LastOptions = options

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if c.Error != nil {
		return nil, c.Error
	}
	if len(c.Responses) == 0 {
		return nil, errors.New("no mock responses configured")
	}

	idx := c.ResponseIndex
	if idx >= len(c.Responses) {
		idx = len(c.Responses) - 1
	} else {
		c.ResponseIndex++
	}
	response := c.Responses[idx]

	model := "mock-model"
	if options != nil && options.Model != "" {
		model = options.Model
	} else if c.Config != nil && c.Config.Model != "" {
		model = c.Config.Model
	}

	return &core.GenResponse{
		Content:      response,
		Model:        model,
		FinishReason: "stop",
		Usage: core.TokenUsage{
			PromptTokens:     len(prompt) / 4,
			CompletionTokens: len(response) / 4,
			TotalTokens:      (len(prompt) + len(response)) / 4,
		},
	}, nil
}

// GenerateStream delivers the canned response as a single chunk.
func (c *Client) GenerateStream(ctx context.Context, prompt string, options *core.GenOptions,
	onChunk core.StreamCallback) (*core.GenResponse, error) {

	resp, err := c.GenerateResponse(ctx, prompt, options)
	if err != nil {
		return nil, err
	}
	if onChunk != nil {
		onChunk(resp.Content)
	}
	return resp, nil
}

// SetResponses replaces the canned responses.
func (c *Client) SetResponses(responses ...string) {
	c.Responses = responses
	c.ResponseIndex = 0
}

// SetError makes every subsequent call fail.
func (c *Client) SetError(err error) {
	c.Error = err
}
