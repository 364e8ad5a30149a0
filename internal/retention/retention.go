// Package retention deletes conversations that have been idle for longer
// than the configured window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	metrics "github.com/aixgo-dev/todo-assistant/pkg/observability"
)

const sweepTimeout = 5 * time.Minute

// Pruner deletes sessions whose last activity is older than before.
// session.Manager implements it.
type Pruner interface {
	PruneIdle(ctx context.Context, before time.Time) (int, error)
}

// Sweeper runs retention sweeps on demand or on a cron schedule.
type Sweeper struct {
	pruner  Pruner
	maxIdle time.Duration
	logger  *slog.Logger
	now     func() time.Time
	cron    *cron.Cron
}

// NewSweeper creates a sweeper removing sessions idle longer than maxIdle.
func NewSweeper(pruner Pruner, maxIdle time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		pruner:  pruner,
		maxIdle: maxIdle,
		logger:  logger.With("component", "retention"),
		now:     time.Now,
	}
}

// Sweep deletes every idle session once and reports how many went.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.maxIdle <= 0 {
		return 0, fmt.Errorf("retention window must be positive")
	}
	before := s.now().UTC().Add(-s.maxIdle)
	n, err := s.pruner.PruneIdle(ctx, before)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return n, fmt.Errorf("prune idle sessions: %w", err)
	}
	metrics.RecordSessionsPruned(n)
	s.logger.Info("retention sweep finished", "deleted", n, "before", before)
	return n, nil
}

// Start schedules Sweep using a standard cron spec or descriptor such as
// "@daily". Overlapping runs are skipped.
func (s *Sweeper) Start(schedule string) error {
	if s.cron != nil {
		return fmt.Errorf("retention sweeper already started")
	}
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		_, _ = s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("retention sweeper started", "schedule", schedule, "max_idle", s.maxIdle)
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
