package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config selects and configures a model provider.
type Config struct {
	// Provider is one of the registered factory names, or "none".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// OpenAI and Gemini API
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`

	// Vertex AI
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	// Bedrock
	Region string `yaml:"region"`

	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breaker in front of the provider.
type CircuitBreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

func (c Config) retryPolicy() RetryPolicy {
	rp := DefaultRetryPolicy
	if c.MaxRetries >= 0 {
		rp.MaxRetries = c.MaxRetries
	}
	if c.RetryDelay > 0 {
		rp.BaseDelay = c.RetryDelay
	}
	return rp
}

// Factory builds a provider from configuration.
type Factory func(ctx context.Context, cfg Config) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a provider constructible by name.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return Unavailable{}, nil
	}

	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider '%s' not found (available: %v)", cfg.Provider, Names())
	}
	return f(ctx, cfg)
}

// Names returns the registered provider names, sorted.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unavailable is the provider used when no model is configured. Every call
// fails, so turns are answered by the fallback responder.
type Unavailable struct{}

// Name returns the provider name
func (Unavailable) Name() string { return "none" }

// CreateCompletion always fails with a non-retryable server error.
func (Unavailable) CreateCompletion(context.Context, CompletionRequest) (*CompletionResponse, error) {
	return nil, &ProviderError{
		Provider: "none",
		Code:     ErrorCodeServerError,
		Message:  "no model provider configured",
	}
}
