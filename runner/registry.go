// Package runner executes variants against text-generation backends. The
// backends are pluggable providers registered by name; the runner picks one
// explicitly or by scanning the environment.
package runner

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"
)

// ProviderConfig configures a provider client at creation time.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	Logger      core.Logger
}

// ProviderFactory is implemented by each backend provider package.
type ProviderFactory interface {
	// Create creates a client with the given configuration.
	Create(config *ProviderConfig) core.GenClient

	// DetectEnvironment checks whether this provider is usable with the
	// current environment. Higher priority wins the scan.
	DetectEnvironment() (priority int, available bool)

	// Name returns the provider's registry name.
	Name() string

	// Description returns a human-readable description.
	Description() string
}

// providerRegistry manages registered provider factories.
type providerRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

var registry = &providerRegistry{
	providers: make(map[string]ProviderFactory),
}

// Register registers a provider factory. Typically called from init() in
// provider packages.
func Register(factory ProviderFactory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}
	name := factory.Name()
	if name == "" {
		return fmt.Errorf("factory.Name() cannot be empty")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	registry.providers[name] = factory
	return nil
}

// MustRegister registers a provider and panics on error. Use in init()
// functions where errors cannot be handled.
func MustRegister(factory ProviderFactory) {
	if err := Register(factory); err != nil {
		panic(fmt.Sprintf("failed to register provider: %v", err))
	}
}

// GetProvider retrieves a registered provider by name.
func GetProvider(name string) (ProviderFactory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	factory, exists := registry.providers[name]
	return factory, exists
}

// ListProviders returns all registered provider names, sorted.
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectBestProvider scans every registered provider and returns the
// available one with the highest priority.
func DetectBestProvider(logger core.Logger) (string, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	type candidate struct {
		name     string
		priority int
	}
	var candidates []candidate

	for name, factory := range registry.providers {
		priority, available := factory.DetectEnvironment()
		if logger != nil {
			logger.Debug("Provider environment check", map[string]interface{}{
				"operation": "provider_detection",
				"provider":  name,
				"priority":  priority,
				"available": available,
			})
		}
		if available {
			candidates = append(candidates, candidate{name: name, priority: priority})
		}
	}

	if len(candidates) == 0 {
		telemetry.Counter("runner.provider.detection", "status", "no_providers")
		if logger != nil {
			logger.Error("No runner providers detected in environment", map[string]interface{}{
				"operation":         "provider_detection",
				"checked_providers": len(registry.providers),
				"suggestion":        "set an API key (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, SAFECALL_API_KEY)",
			})
		}
		return "", fmt.Errorf("no provider detected in environment")
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].name < candidates[j].name
	})

	selected := candidates[0].name
	telemetry.Counter("runner.provider.selected", "provider", selected)
	if logger != nil {
		logger.Info("Runner provider selected", map[string]interface{}{
			"operation":        "provider_selection",
			"provider":         selected,
			"total_candidates": len(candidates),
		})
	}
	return selected, nil
}
