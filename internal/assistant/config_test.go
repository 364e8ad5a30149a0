package assistant

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", cfg.Timeout())
	}
	if cfg.HistoryLimit != 20 || cfg.MaxMessageLength != 10000 || !cfg.FallbackEnabled {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"temperature", func(c *Config) { c.Temperature = 2.5 }},
		{"max tokens", func(c *Config) { c.MaxTokens = 0 }},
		{"timeout", func(c *Config) { c.TimeoutSeconds = 0 }},
		{"history", func(c *Config) { c.HistoryLimit = -1 }},
		{"message length", func(c *Config) { c.MaxMessageLength = 0 }},
		{"tool concurrency", func(c *Config) { c.ToolConcurrency = 0 }},
		{"tool calls", func(c *Config) { c.MaxToolCalls = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
