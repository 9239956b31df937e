package gemini

import (
	"os"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/runner"
)

// Factory implements runner.ProviderFactory for Gemini.
type Factory struct{}

// Create creates a new Gemini client instance.
func (f *Factory) Create(config *runner.ProviderConfig) core.GenClient {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("GEMINI_RUNNER_URL")
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
	if os.Getenv("GEMINI_API_KEY") != "" {
		return 80, true
	}
	return 0, false
}

// Name returns the provider name.
func (f *Factory) Name() string { return "gemini" }

// Description returns a human-readable description.
func (f *Factory) Description() string {
	return "Google Gemini generateContent backend"
}

func init() {
	runner.MustRegister(&Factory{})
}
