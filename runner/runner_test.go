package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

type stubClient struct {
	content string
	model   string
	tokens  int
	err     error
}

func (s *stubClient) GenerateResponse(ctx context.Context, prompt string, options *core.GenOptions) (*core.GenResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &core.GenResponse{
		Content:      s.content,
		Model:        s.model,
		FinishReason: "stop",
		Usage:        core.TokenUsage{TotalTokens: s.tokens},
	}, nil
}

func testVariant() *core.Variant {
	return &core.Variant{
		ID:          "chain_of_thought-1-abc12345",
		Technique:   core.TechniqueChainOfThought,
		Prompt:      "Explain tides. Let's think step by step.",
		Temperature: 0.7,
		EstTokens:   512,
		CostUSD:     0.005,
	}
}

func TestRunSuccess(t *testing.T) {
	r := &Runner{
		client:   &stubClient{content: "Tides are caused by the moon.", model: "mock-model", tokens: 500},
		provider: "mock",
		logger:   &core.NoOpLogger{},
	}

	result := r.Run(context.Background(), testVariant(), "pd-1")
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.VariantID != "chain_of_thought-1-abc12345" {
		t.Errorf("variant id = %q", result.VariantID)
	}
	if result.Content == "" {
		t.Error("content empty on success")
	}
	if result.TokensUsed != 500 {
		t.Errorf("tokens = %d, want 500", result.TokensUsed)
	}
	if want := Cost("mock-model", 500); result.CostUSD != want {
		t.Errorf("cost = %f, want %f", result.CostUSD, want)
	}
	if result.LatencyMS < 0 {
		t.Errorf("latency = %d", result.LatencyMS)
	}
}

func TestRunBackendFailureIsNotAGoError(t *testing.T) {
	r := &Runner{
		client:   &stubClient{err: errors.New("backend exploded")},
		provider: "mock",
		logger:   &core.NoOpLogger{},
	}

	result := r.Run(context.Background(), testVariant(), "pd-1")
	if result == nil {
		t.Fatal("result must never be nil")
	}
	if result.Error == "" {
		t.Error("backend failure must populate Error")
	}
	if result.Content != "" {
		t.Error("failed call must have empty content")
	}
	if result.VariantID != testVariant().ID {
		t.Error("failed result must keep the variant id")
	}
}

func TestRunStreamFallbackSingleChunk(t *testing.T) {
	r := &Runner{
		client:   &stubClient{content: "full answer", model: "mock-model", tokens: 10},
		provider: "mock",
		logger:   &core.NoOpLogger{},
	}

	var chunks []string
	var final *core.GenResponse
	r.RunStream(context.Background(), testVariant(), "pd-1",
		func(chunk string) { chunks = append(chunks, chunk) },
		func(resp *core.GenResponse, err error) { final = resp })

	if len(chunks) != 1 || chunks[0] != "full answer" {
		t.Errorf("chunks = %v, want single full chunk", chunks)
	}
	if final == nil || final.Content != "full answer" {
		t.Error("completion callback missing final response")
	}
}

func TestPriceTable(t *testing.T) {
	if PricePer1K("gpt-4o") != 0.005 {
		t.Errorf("gpt-4o price = %f", PricePer1K("gpt-4o"))
	}
	// Versioned names resolve by prefix.
	if PricePer1K("claude-3-5-sonnet-20241022") != 0.009 {
		t.Errorf("versioned sonnet price = %f", PricePer1K("claude-3-5-sonnet-20241022"))
	}
	if PricePer1K("totally-unknown-model") != FallbackPricePer1K {
		t.Errorf("unknown model must use fallback, got %f", PricePer1K("totally-unknown-model"))
	}
	if got := Cost("totally-unknown-model", 2000); got != 0.02 {
		t.Errorf("Cost(2000 tokens at fallback) = %f, want 0.02", got)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("no-such-provider", nil, nil); err == nil {
		t.Error("unknown provider must error")
	}
}
