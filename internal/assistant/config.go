package assistant

import (
	"fmt"
	"time"
)

// Config holds the options the orchestration loop recognizes.
type Config struct {
	// Model overrides the provider's default model when set.
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// TimeoutSeconds bounds each model call.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// HistoryLimit is how many stored messages are replayed to the model.
	HistoryLimit int `yaml:"history_limit"`

	// MaxMessageLength is the largest accepted user message, in characters.
	MaxMessageLength int `yaml:"max_message_length"`

	// FallbackEnabled answers model failures with a canned reply instead of
	// failing the turn.
	FallbackEnabled bool `yaml:"fallback_enabled"`

	// ToolConcurrency bounds parallel tool execution within a turn.
	ToolConcurrency int `yaml:"tool_concurrency"`

	// MaxToolCalls caps how many tool calls of one response are executed.
	MaxToolCalls int `yaml:"max_tool_calls"`

	// SystemPrompt replaces the built-in system prompt when set.
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Temperature:      0.2,
		MaxTokens:        1024,
		TimeoutSeconds:   30,
		HistoryLimit:     20,
		MaxMessageLength: 10000,
		FallbackEnabled:  true,
		ToolConcurrency:  4,
		MaxToolCalls:     8,
	}
}

// Timeout returns TimeoutSeconds as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks that every limit is usable.
func (c Config) Validate() error {
	switch {
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("assistant.temperature must be between 0 and 2, got %v", c.Temperature)
	case c.MaxTokens < 1:
		return fmt.Errorf("assistant.max_tokens must be positive")
	case c.TimeoutSeconds < 1:
		return fmt.Errorf("assistant.timeout_seconds must be positive")
	case c.HistoryLimit < 1:
		return fmt.Errorf("assistant.history_limit must be positive")
	case c.MaxMessageLength < 1:
		return fmt.Errorf("assistant.max_message_length must be positive")
	case c.ToolConcurrency < 1:
		return fmt.Errorf("assistant.tool_concurrency must be positive")
	case c.MaxToolCalls < 1:
		return fmt.Errorf("assistant.max_tool_calls must be positive")
	}
	return nil
}
