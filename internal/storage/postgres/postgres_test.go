package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
	"github.com/aixgo-dev/todo-assistant/pkg/session/sessiontest"
	"github.com/aixgo-dev/todo-assistant/pkg/todo"
	"github.com/aixgo-dev/todo-assistant/pkg/todo/todotest"
)

// openTestDB connects to TODO_ASSISTANT_POSTGRES_DSN and empties the
// tables. The database is shared, so these tests must not run in parallel.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TODO_ASSISTANT_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TODO_ASSISTANT_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.reset(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTodoStoreConformance(t *testing.T) {
	todotest.Run(t, func(t *testing.T) todo.Store {
		return openTestDB(t).Todos()
	})
}

func TestSessionBackendConformance(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) session.StorageBackend {
		return openTestDB(t).Sessions()
	})
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
}
