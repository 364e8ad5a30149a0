package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

type countingPruner struct {
	calls  atomic.Int32
	before atomic.Value
	err    error
}

func (p *countingPruner) PruneIdle(_ context.Context, before time.Time) (int, error) {
	p.calls.Add(1)
	p.before.Store(before)
	return 2, p.err
}

func TestSweep_UsesWindow(t *testing.T) {
	p := &countingPruner{}
	s := NewSweeper(p, 24*time.Hour, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-24*time.Hour), p.before.Load())
}

func TestSweep_Errors(t *testing.T) {
	_, err := NewSweeper(&countingPruner{}, 0, nil).Sweep(context.Background())
	assert.Error(t, err)

	_, err = NewSweeper(&countingPruner{err: errors.New("redis down")}, time.Hour, nil).Sweep(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestSweep_DeletesIdleSessions(t *testing.T) {
	backend := session.NewMemoryBackend()
	m := session.NewManager(backend)
	ctx := context.Background()

	old := time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, backend.SaveSession(ctx, &session.Session{
		ID: "22222222-2222-2222-2222-222222222222", UserID: "alice", CreatedAt: old, UpdatedAt: old,
	}))
	fresh, _, err := m.GetOrCreate(ctx, "alice", "")
	require.NoError(t, err)

	n, err := NewSweeper(m, 48*time.Hour, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := m.List(ctx, "alice", session.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fresh.ID, list[0].ID)
}

func TestStart(t *testing.T) {
	p := &countingPruner{}
	s := NewSweeper(p, time.Hour, nil)

	assert.Error(t, s.Start("not a schedule"))

	require.NoError(t, s.Start("@every 10ms"))
	assert.Error(t, s.Start("@daily"), "second start must fail")

	assert.Eventually(t, func() bool { return p.calls.Load() > 0 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
