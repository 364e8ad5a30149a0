package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aixgo-dev/todo-assistant/internal/assistant"
	"github.com/aixgo-dev/todo-assistant/internal/llm/cost"
	"github.com/aixgo-dev/todo-assistant/internal/llm/provider"
	fsstore "github.com/aixgo-dev/todo-assistant/internal/storage/firestore"
	"github.com/aixgo-dev/todo-assistant/internal/storage/postgres"
	"github.com/aixgo-dev/todo-assistant/internal/storage/sqlite"
	"github.com/aixgo-dev/todo-assistant/pkg/config"
	metrics "github.com/aixgo-dev/todo-assistant/pkg/observability"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
	"github.com/aixgo-dev/todo-assistant/pkg/session"
	"github.com/aixgo-dev/todo-assistant/pkg/todo"
	"github.com/aixgo-dev/todo-assistant/pkg/tools"
)

// app holds the components every command builds from configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	todos    todo.Store
	sessions *session.Manager
	model    provider.Provider
	breaker  *security.CircuitBreaker
	svc      *assistant.Service
	health   *metrics.HealthChecker

	sqliteDB   *sqlite.DB
	postgresDB *postgres.DB
	closers    []func() error
}

// newStores opens the configured todo and conversation stores. Backends of
// the same kind share one connection.
func newStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		health: metrics.NewHealthChecker(Version),
	}
	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// newApp builds the full assistant: stores, model provider and service.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := newStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.buildService(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	storage := a.cfg.Storage

	switch storage.Todos {
	case config.StorageSQLite:
		db, err := a.openSQLite()
		if err != nil {
			return err
		}
		a.todos = db.Todos()
	case config.StoragePostgres:
		db, err := a.openPostgres(ctx)
		if err != nil {
			return err
		}
		a.todos = db.Todos()
	default:
		a.todos = todo.NewMemoryStore()
	}

	var backend session.StorageBackend
	switch storage.Conversations {
	case config.StorageFile:
		fb, err := session.NewFileBackend(storage.FileDir)
		if err != nil {
			return fmt.Errorf("open file conversation store: %w", err)
		}
		backend = fb
	case config.StorageSQLite:
		db, err := a.openSQLite()
		if err != nil {
			return err
		}
		backend = db.Sessions()
	case config.StoragePostgres:
		db, err := a.openPostgres(ctx)
		if err != nil {
			return err
		}
		backend = db.Sessions()
	case config.StorageRedis:
		rb, err := session.NewRedisBackend(storage.Redis)
		if err != nil {
			return fmt.Errorf("open redis conversation store: %w", err)
		}
		backend = rb
	case config.StorageFirestore:
		fb, err := fsstore.New(ctx, fsstore.Config{
			ProjectID:        storage.Firestore.ProjectID,
			CredentialsFile:  storage.Firestore.CredentialsFile,
			CollectionPrefix: storage.Firestore.CollectionPrefix,
		})
		if err != nil {
			return fmt.Errorf("open firestore conversation store: %w", err)
		}
		backend = fb
	default:
		backend = session.NewMemoryBackend()
	}
	a.sessions = session.NewManager(backend)
	a.closers = append(a.closers, a.sessions.Close)

	a.health.RegisterCheck(metrics.StorageCheck("conversations", a.sessions.Ping))
	if a.sqliteDB != nil {
		a.health.RegisterCheck(metrics.StorageCheck("sqlite", a.sqliteDB.Ping))
	}
	if a.postgresDB != nil {
		a.health.RegisterCheck(metrics.StorageCheck("postgres", a.postgresDB.Ping))
	}
	return nil
}

func (a *app) openSQLite() (*sqlite.DB, error) {
	if a.sqliteDB != nil {
		return a.sqliteDB, nil
	}
	db, err := sqlite.Open(a.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.sqliteDB = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) openPostgres(ctx context.Context) (*postgres.DB, error) {
	if a.postgresDB != nil {
		return a.postgresDB, nil
	}
	db, err := postgres.Open(ctx, a.cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.postgresDB = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) buildService(ctx context.Context) error {
	llm := a.cfg.LLM
	model, err := provider.New(ctx, llm.Config)
	if err != nil {
		return fmt.Errorf("create model provider: %w", err)
	}

	calc := cost.NewCalculator()
	for _, p := range llm.Pricing {
		calc.AddPricing(p)
	}
	if cb := llm.CircuitBreaker; cb.Enabled {
		a.breaker = security.NewCircuitBreaker(cb.MaxFailures, cb.ResetTimeout)
	}
	modelName := a.cfg.Assistant.Model
	if modelName == "" {
		modelName = llm.Model
	}
	a.model = provider.NewInstrumentedProvider(model, provider.InstrumentedConfig{
		Calculator: calc,
		Breaker:    a.breaker,
		Model:      modelName,
		Logger:     a.logger,
	})
	if a.breaker != nil {
		a.health.RegisterCheck(metrics.ExternalServiceCheck("model", func(context.Context) error {
			if a.breaker.GetState() == security.CircuitOpen {
				return errors.New("circuit open")
			}
			return nil
		}))
	}

	executor := tools.NewExecutor(tools.NewRegistry(), a.todos, tools.Options{
		Concurrency: a.cfg.Assistant.ToolConcurrency,
		Timeout:     a.cfg.Assistant.Timeout(),
		Logger:      a.logger,
	})
	svc, err := assistant.NewService(a.cfg.Assistant, a.sessions, executor, a.model, assistant.WithLogger(a.logger))
	if err != nil {
		return err
	}
	a.svc = svc
	a.logger.Info("assistant ready",
		"provider", a.model.Name(),
		"api_key", security.MaskSecret(llm.APIKey),
		"conversations", a.cfg.Storage.Conversations,
		"todos", a.cfg.Storage.Todos,
	)
	return nil
}

// Close releases stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
