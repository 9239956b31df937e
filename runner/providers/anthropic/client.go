// Package anthropic implements the Anthropic messages backend.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/runner/providers"
)

const apiVersion = "2023-06-01"

// Client implements core.GenClient for the Anthropic messages API.
type Client struct {
	*providers.BaseClient
	apiKey  string
	baseURL string
}

// NewClient creates an Anthropic client.
func NewClient(apiKey, baseURL string, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	base := providers.NewBaseClient(30*time.Second, logger)
	base.DefaultModel = "claude-3-haiku"
	return &Client{
		BaseClient: base,
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// GenerateResponse generates a completion.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.GenOptions) (*core.GenResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key not configured")
	}
	options = c.ApplyDefaults(options)
	c.LogRequest("anthropic", options.Model, prompt)
	start := time.Now()

	payload, err := json.Marshal(messagesRequest{
		Model:       options.Model,
		Messages:    []message{{Role: "user", Content: prompt}},
		System:      options.SystemPrompt,
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.HandleError(resp.StatusCode, body, "Anthropic")
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	usage := core.TokenUsage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	c.LogResponse("anthropic", parsed.Model, usage, time.Since(start))

	return &core.GenResponse{
		Content:      content.String(),
		Model:        parsed.Model,
		FinishReason: parsed.StopReason,
		Usage:        usage,
	}, nil
}
