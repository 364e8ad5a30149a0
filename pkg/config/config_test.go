package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := load("", env(nil))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Assistant.TimeoutSeconds != 30 || cfg.Assistant.HistoryLimit != 20 || cfg.Assistant.MaxMessageLength != 10000 {
		t.Errorf("unexpected assistant defaults: %+v", cfg.Assistant)
	}
	if !cfg.Assistant.FallbackEnabled {
		t.Error("fallback should be enabled by default")
	}
	if cfg.LLM.MaxRetries != 2 {
		t.Errorf("max_retries = %d, want 2", cfg.LLM.MaxRetries)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  cors_origins: ["http://localhost:3000"]
assistant:
  model: gpt-4o-mini
  timeout_seconds: 10
  fallback_enabled: false
llm:
  provider: openai
  max_retries: 0
  circuit_breaker:
    enabled: true
    max_failures: 3
    reset_timeout: 1m
  pricing:
    - model: my-finetune
      input_per_1m: 1
      output_per_1m: 2
storage:
  conversations: sqlite
  todos: sqlite
  sqlite_path: /tmp/todo.db
retention:
  enabled: true
  schedule: "0 3 * * *"
  max_idle: 48h
`)

	cfg, err := load(path, env(map[string]string{"OPENAI_API_KEY": "sk-test"}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Server.Addr != ":9000" || len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unset read_timeout lost its default: %v", cfg.Server.ReadTimeout)
	}
	if cfg.Assistant.Model != "gpt-4o-mini" || cfg.Assistant.TimeoutSeconds != 10 || cfg.Assistant.FallbackEnabled {
		t.Errorf("assistant = %+v", cfg.Assistant)
	}
	if cfg.Assistant.HistoryLimit != 20 {
		t.Errorf("history_limit = %d, want default 20", cfg.Assistant.HistoryLimit)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.APIKey != "sk-test" || cfg.LLM.MaxRetries != 0 {
		t.Errorf("llm = %+v", cfg.LLM.Config)
	}
	if cfg.LLM.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("reset_timeout = %v", cfg.LLM.CircuitBreaker.ResetTimeout)
	}
	if len(cfg.LLM.Pricing) != 1 || cfg.LLM.Pricing[0].OutputPer1M != 2 {
		t.Errorf("pricing = %+v", cfg.LLM.Pricing)
	}
	if cfg.Retention.MaxIdle != 48*time.Hour {
		t.Errorf("max_idle = %v", cfg.Retention.MaxIdle)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: from-file
llm:
  provider: gemini
  api_key: from-file
logging:
  level: info
`)
	cfg, err := load(path, env(map[string]string{
		"PORT":                 "7070",
		"GEMINI_API_KEY":       "gemini-env",
		"OPENAI_API_KEY":       "ignored",
		"BETTER_AUTH_SECRET":   "better-auth",
		"DATABASE_URL":         "postgres://db",
		"REDIS_ADDR":           "redis:6379",
		"GOOGLE_CLOUD_PROJECT": "proj",
		"AWS_REGION":           "eu-west-1",
		"LOG_LEVEL":            "debug",
	}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	checks := map[string][2]string{
		"addr":      {cfg.Server.Addr, ":7070"},
		"api key":   {cfg.LLM.APIKey, "gemini-env"},
		"jwt":       {cfg.Auth.JWTSecret, "better-auth"},
		"dsn":       {cfg.Storage.PostgresDSN, "postgres://db"},
		"redis":     {cfg.Storage.Redis.Addr, "redis:6379"},
		"project":   {cfg.LLM.Project, "proj"},
		"firestore": {cfg.Storage.Firestore.ProjectID, "proj"},
		"region":    {cfg.LLM.Region, "eu-west-1"},
		"log level": {cfg.Logging.Level, "debug"},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}

	cfg, err = load(path, env(map[string]string{"JWT_SECRET": "primary", "BETTER_AUTH_SECRET": "secondary"}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.JWTSecret != "primary" {
		t.Errorf("JWT_SECRET should win, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, "assistant:\n  temprature: 0.5\n")
	if _, err := load(path, env(nil)); err == nil || !strings.Contains(err.Error(), "temprature") {
		t.Errorf("expected unknown field error, got %v", err)
	}

	large := writeConfig(t, strings.Repeat("# padding\n", 200000))
	if _, err := load(large, env(nil)); err == nil {
		t.Error("expected error for oversized file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.provider"},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }, "max_retries"},
		{"bad assistant", func(c *Config) { c.Assistant.HistoryLimit = 0 }, "history_limit"},
		{"unknown conversations backend", func(c *Config) { c.Storage.Conversations = "mongo" }, "storage.conversations"},
		{"redis todos", func(c *Config) { c.Storage.Todos = StorageRedis }, "storage.todos"},
		{"postgres without dsn", func(c *Config) { c.Storage.Todos = StoragePostgres }, "postgres_dsn"},
		{"redis without addr", func(c *Config) { c.Storage.Conversations = StorageRedis }, "redis.addr"},
		{"firestore without project", func(c *Config) { c.Storage.Conversations = StorageFirestore }, "project_id"},
		{"burst", func(c *Config) { c.RateLimit.Burst = 0 }, "burst"},
		{"bad schedule", func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.Schedule = "every day"
		}, "retention.schedule"},
		{"breaker", func(c *Config) { c.LLM.CircuitBreaker.MaxFailures = 0 }, "circuit_breaker"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
