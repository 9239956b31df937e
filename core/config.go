package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the optimization pipeline.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. YAML file, when provided
//  3. Environment variables
//  4. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithPort(8080),
//	    WithAllowedOrigins([]string{"https://example.com"}),
//	)
type Config struct {
	// HTTP gateway
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      int      `yaml:"rate_limit"` // requests per minute per client

	// Worker service locations. Empty means in-process.
	Services ServicesConfig `yaml:"services"`

	// Runner configuration
	Runner RunnerConfig `yaml:"runner"`

	// Per-call timeouts by service class
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// Retry policy for inter-service calls
	Retry RetryConfig `yaml:"retry"`

	// Pipeline tunables
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Discovery backend (worker registry)
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Telemetry
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServicesConfig maps worker services to explicit URLs. A set URL overrides
// registry-based resolution for that service.
type ServicesConfig struct {
	ClassifierURL string `yaml:"classifier_url"`
	PlannerURL    string `yaml:"planner_url"`
	TechniqueURL  string `yaml:"technique_url"`
	RetrievalURL  string `yaml:"retrieval_url"`
	EvaluatorURL  string `yaml:"evaluator_url"`
	SafetyURL     string `yaml:"safety_url"`
}

// RunnerConfig selects and locates generation backends.
type RunnerConfig struct {
	Provider     string            `yaml:"provider"` // empty = auto-detect
	APIKeys      map[string]string `yaml:"-"`        // from env only, never from file
	RunnerURLs   map[string]string `yaml:"runner_urls"`
	DefaultModel string            `yaml:"default_model"`
}

// TimeoutsConfig carries per-call deadlines by service class.
type TimeoutsConfig struct {
	Short     time.Duration `yaml:"short"`     // classifier, planner, safety
	Runner    time.Duration `yaml:"runner"`    // generation backends
	Evaluator time.Duration `yaml:"evaluator"` // evaluator and retrieval
}

// RetryConfig is the per-call retry policy. The values are copied out at
// call time; the struct itself is never mutated during a request.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// PipelineConfig carries orchestrator tunables.
type PipelineConfig struct {
	RunnerConcurrency int           `yaml:"runner_concurrency"`
	CanaryInterval    time.Duration `yaml:"canary_interval"`
	CanaryEnabled     bool          `yaml:"canary_enabled"`
}

// DiscoveryConfig configures the Redis-backed worker registry.
type DiscoveryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig configures metric emission.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	StdoutExporter bool   `yaml:"stdout_exporter"`
}

// Option is a functional option for Config.
type Option func(*Config)

// WithPort sets the gateway listen port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithAllowedOrigins sets the CORS origin allow-list.
func WithAllowedOrigins(origins []string) Option {
	return func(c *Config) { c.AllowedOrigins = origins }
}

// WithRateLimit sets the per-client request budget in requests/minute.
func WithRateLimit(perMinute int) Option {
	return func(c *Config) { c.RateLimit = perMinute }
}

// WithRunnerProvider pins the generation backend instead of auto-detecting.
func WithRunnerProvider(name string) Option {
	return func(c *Config) { c.Runner.Provider = name }
}

// WithRunnerConcurrency overrides the fan-out cap.
func WithRunnerConcurrency(n int) Option {
	return func(c *Config) { c.Pipeline.RunnerConcurrency = n }
}

// WithCanary enables or disables the background canary loop.
func WithCanary(enabled bool) Option {
	return func(c *Config) { c.Pipeline.CanaryEnabled = enabled }
}

// WithConfigFile overlays a YAML file onto the defaults.
func WithConfigFile(path string) Option {
	return func(c *Config) {
		data, err := os.ReadFile(path)
		if err != nil {
			return // missing file is not fatal; env and options still apply
		}
		_ = yaml.Unmarshal(data, c)
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:      8080,
		RateLimit: 60,
		Runner: RunnerConfig{
			APIKeys:    map[string]string{},
			RunnerURLs: map[string]string{},
		},
		Timeouts: TimeoutsConfig{
			Short:     5 * time.Second,
			Runner:    30 * time.Second,
			Evaluator: 10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:   2,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Pipeline: PipelineConfig{
			RunnerConcurrency: 3,
			CanaryInterval:    60 * time.Second,
			CanaryEnabled:     true,
		},
		Discovery: DiscoveryConfig{
			TTL: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "promptdial",
		},
	}
}

// knownProviders are the runner backends whose API keys and URL overrides
// are scanned from the environment (OPENAI_API_KEY, OPENAI_RUNNER_URL, ...).
var knownProviders = []string{"openai", "anthropic", "gemini", "safecall"}

// NewConfig builds a configuration from defaults, environment, and options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvironment()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironment overlays recognized environment variables.
func (c *Config) applyEnvironment() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		c.AllowedOrigins = origins
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			c.RateLimit = limit
		}
	}

	// Worker service URL overrides
	c.Services.ClassifierURL = envOr("CLASSIFIER_URL", c.Services.ClassifierURL)
	c.Services.PlannerURL = envOr("PLANNER_URL", c.Services.PlannerURL)
	c.Services.TechniqueURL = envOr("TECHNIQUE_URL", c.Services.TechniqueURL)
	c.Services.RetrievalURL = envOr("RETRIEVAL_URL", c.Services.RetrievalURL)
	c.Services.EvaluatorURL = envOr("EVALUATOR_URL", c.Services.EvaluatorURL)
	c.Services.SafetyURL = envOr("SAFETY_URL", c.Services.SafetyURL)

	// Runner API keys and location overrides
	if c.Runner.APIKeys == nil {
		c.Runner.APIKeys = map[string]string{}
	}
	if c.Runner.RunnerURLs == nil {
		c.Runner.RunnerURLs = map[string]string{}
	}
	for _, provider := range knownProviders {
		upper := strings.ToUpper(provider)
		if key := os.Getenv(upper + "_API_KEY"); key != "" {
			c.Runner.APIKeys[provider] = key
		}
		if url := os.Getenv(upper + "_RUNNER_URL"); url != "" {
			c.Runner.RunnerURLs[provider] = url
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Discovery.RedisURL = v
		c.Discovery.Enabled = true
	}
}

// Validate rejects impossible configurations early.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d: %w", c.Port, ErrInvalidConfiguration)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate limit %d: %w", c.RateLimit, ErrInvalidConfiguration)
	}
	if c.Pipeline.RunnerConcurrency <= 0 {
		return fmt.Errorf("runner concurrency %d: %w",
			c.Pipeline.RunnerConcurrency, ErrInvalidConfiguration)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries %d: %w", c.Retry.MaxRetries, ErrInvalidConfiguration)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
