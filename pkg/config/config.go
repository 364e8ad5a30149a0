// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aixgo-dev/todo-assistant/internal/assistant"
	"github.com/aixgo-dev/todo-assistant/internal/llm/cost"
	"github.com/aixgo-dev/todo-assistant/internal/llm/provider"
	"github.com/aixgo-dev/todo-assistant/internal/logging"
	"github.com/aixgo-dev/todo-assistant/internal/observability"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Auth      AuthConfig           `yaml:"auth"`
	Assistant assistant.Config     `yaml:"assistant"`
	LLM       LLMConfig            `yaml:"llm"`
	Storage   StorageConfig        `yaml:"storage"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Retention RetentionConfig      `yaml:"retention"`
	Logging   logging.Config       `yaml:"logging"`
	Tracing   observability.Config `yaml:"tracing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LLMConfig selects the model provider. Pricing entries add to or replace
// the built-in price list used for cost metrics.
type LLMConfig struct {
	provider.Config `yaml:",inline"`
	Pricing         []cost.ModelPricing `yaml:"pricing"`
}

// Storage kinds.
const (
	StorageMemory    = "memory"
	StorageFile      = "file"
	StorageSQLite    = "sqlite"
	StoragePostgres  = "postgres"
	StorageRedis     = "redis"
	StorageFirestore = "firestore"
)

// StorageConfig selects where conversations and todos live.
type StorageConfig struct {
	Conversations string              `yaml:"conversations"`
	Todos         string              `yaml:"todos"`
	FileDir       string              `yaml:"file_dir"`
	SQLitePath    string              `yaml:"sqlite_path"`
	PostgresDSN   string              `yaml:"postgres_dsn"`
	Redis         session.RedisConfig `yaml:"redis"`
	Firestore     FirestoreConfig     `yaml:"firestore"`
}

// FirestoreConfig configures the Firestore conversation backend.
type FirestoreConfig struct {
	ProjectID        string `yaml:"project_id"`
	CredentialsFile  string `yaml:"credentials_file"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// RateLimitConfig bounds chat requests per user. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	GlobalPerSecond   float64 `yaml:"global_per_second"`
}

// RetentionConfig schedules deletion of idle conversations.
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	MaxIdle  time.Duration `yaml:"max_idle"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:   "todo-assistant",
			TokenTTL: 24 * time.Hour,
		},
		Assistant: assistant.DefaultConfig(),
		LLM: LLMConfig{Config: provider.Config{
			Provider:   "none",
			MaxRetries: 2,
			CircuitBreaker: provider.CircuitBreakerConfig{
				Enabled:      true,
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		}},
		Storage: StorageConfig{
			Conversations: StorageMemory,
			Todos:         StorageMemory,
			FileDir:       "data/sessions",
			SQLitePath:    "data/todo-assistant.db",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             5,
		},
		Retention: RetentionConfig{
			Schedule: "@daily",
			MaxIdle:  720 * time.Hour,
		},
		Logging: logging.Config{Level: "info", Format: "json"},
		Tracing: observability.Config{
			ServiceName: "todo-assistant",
			Exporter:    "none",
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		defer f.Close()
		if err := security.DecodeYAML(f, cfg, security.DefaultYAMLLimits()); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv(getenv)
	return cfg, nil
}

// applyEnv overrides file values with any environment variable that is set.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	if port := getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	switch c.LLM.Provider {
	case "openai":
		set(&c.LLM.APIKey, "OPENAI_API_KEY")
	case "gemini":
		set(&c.LLM.APIKey, "GEMINI_API_KEY")
	}
	set(&c.LLM.Project, "GOOGLE_CLOUD_PROJECT")
	set(&c.LLM.Region, "AWS_REGION")
	set(&c.Storage.Firestore.ProjectID, "GOOGLE_CLOUD_PROJECT")
	set(&c.Auth.JWTSecret, "JWT_SECRET", "BETTER_AUTH_SECRET")
	set(&c.Storage.PostgresDSN, "DATABASE_URL")
	set(&c.Storage.Redis.Addr, "REDIS_ADDR")
	set(&c.Logging.Level, "LOG_LEVEL")
}

var (
	providers            = []string{"", "none", "openai", "gemini", "vertexai", "bedrock"}
	conversationBackends = []string{StorageMemory, StorageFile, StorageSQLite, StoragePostgres, StorageRedis, StorageFirestore}
	todoBackends         = []string{StorageMemory, StorageSQLite, StoragePostgres}
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if err := c.Assistant.Validate(); err != nil {
		return err
	}
	if !slices.Contains(providers, c.LLM.Provider) {
		return fmt.Errorf("llm.provider %q is not one of %v", c.LLM.Provider, providers[1:])
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	if cb := c.LLM.CircuitBreaker; cb.Enabled && (cb.MaxFailures < 1 || cb.ResetTimeout <= 0) {
		return fmt.Errorf("llm.circuit_breaker needs positive max_failures and reset_timeout")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.GlobalPerSecond < 0 {
		return fmt.Errorf("rate_limit rates must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be positive")
	}
	if c.Retention.Enabled {
		if c.Retention.MaxIdle <= 0 {
			return fmt.Errorf("retention.max_idle must be positive")
		}
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("retention.schedule: %w", err)
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func (s StorageConfig) validate() error {
	if !slices.Contains(conversationBackends, s.Conversations) {
		return fmt.Errorf("storage.conversations %q is not one of %v", s.Conversations, conversationBackends)
	}
	if !slices.Contains(todoBackends, s.Todos) {
		return fmt.Errorf("storage.todos %q is not one of %v", s.Todos, todoBackends)
	}

	uses := func(kind string) bool { return s.Conversations == kind || s.Todos == kind }
	switch {
	case uses(StorageSQLite) && s.SQLitePath == "":
		return fmt.Errorf("storage.sqlite_path is required")
	case uses(StoragePostgres) && s.PostgresDSN == "":
		return fmt.Errorf("storage.postgres_dsn is required (DATABASE_URL)")
	case s.Conversations == StorageFile && s.FileDir == "":
		return fmt.Errorf("storage.file_dir is required")
	case s.Conversations == StorageRedis && s.Redis.Addr == "":
		return fmt.Errorf("storage.redis.addr is required (REDIS_ADDR)")
	case s.Conversations == StorageFirestore && s.Firestore.ProjectID == "":
		return fmt.Errorf("storage.firestore.project_id is required (GOOGLE_CLOUD_PROJECT)")
	}
	return nil
}
