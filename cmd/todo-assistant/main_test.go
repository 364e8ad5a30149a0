package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/todo-assistant/pkg/config"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
	"github.com/aixgo-dev/todo-assistant/pkg/session"
	"github.com/aixgo-dev/todo-assistant/pkg/todo"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type scriptedPrompter struct {
	lines   []string
	history []string
}

func (p *scriptedPrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", io.EOF
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func (p *scriptedPrompter) AppendHistory(item string) {
	p.history = append(p.history, item)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMemoryApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), config.Default(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestReplFallsBackWithoutModel(t *testing.T) {
	a := newMemoryApp(t)
	in := &scriptedPrompter{lines: []string{"show my todos", "/history", "/new", "/history", "/quit", "never read"}}
	var out bytes.Buffer

	r := &repl{svc: a.svc, userID: "alice", in: in, out: &out}
	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "assistant (offline)> ")
	assert.Contains(t, text, "user: show my todos")
	assert.Contains(t, text, "Started a new conversation.")
	assert.Contains(t, text, "No conversation yet.")
	assert.Equal(t, []string{"show my todos", "/history", "/new", "/history", "/quit"}, in.history)
	assert.Len(t, in.lines, 1)

	sessions, err := a.sessions.List(context.Background(), "alice", session.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestReplResumesConversation(t *testing.T) {
	a := newMemoryApp(t)
	ctx := context.Background()

	res, err := a.svc.HandleTurn(ctx, "alice", "first", "")
	require.NoError(t, err)

	in := &scriptedPrompter{lines: []string{"second"}}
	r := &repl{svc: a.svc, userID: "alice", conversationID: res.SessionID, in: in, out: io.Discard}
	require.NoError(t, r.run(ctx))

	msgs, err := a.sessions.History(ctx, res.SessionID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestReplReportsTurnErrors(t *testing.T) {
	a := newMemoryApp(t)
	ctx := context.Background()

	res, err := a.svc.HandleTurn(ctx, "alice", "mine", "")
	require.NoError(t, err)

	var out bytes.Buffer
	in := &scriptedPrompter{lines: []string{"hello", "/history"}}
	r := &repl{svc: a.svc, userID: "bob", conversationID: res.SessionID, in: in, out: &out}
	require.NoError(t, r.run(ctx))

	assert.Contains(t, out.String(), "error: conversation not found")
	assert.NotContains(t, out.String(), "mine")
}

func TestAppSharesSQLiteConnection(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Conversations = config.StorageSQLite
	cfg.Storage.Todos = config.StorageSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "assistant.db")

	a, err := newApp(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.sqliteDB)
	assert.Len(t, a.closers, 2, "one sqlite handle plus the session manager")

	ctx := context.Background()
	_, err = a.todos.Create(ctx, "alice", todo.Draft{Title: "persisted"})
	require.NoError(t, err)
	res, err := a.svc.HandleTurn(ctx, "alice", "hello", "")
	require.NoError(t, err)
	assert.True(t, res.UsingFallback)

	health := a.health.Check(ctx)
	assert.Equal(t, "healthy", string(health.Status))
	assert.NoError(t, a.Close())
}

func TestAppFileConversations(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Conversations = config.StorageFile
	cfg.Storage.FileDir = t.TempDir()

	a, err := newStores(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.svc, "newStores does not build the model")
	assert.NotNil(t, a.sessions)
}

func TestAppRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "carrier-pigeon"
	_, err := newApp(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestDescribeTurnErrorHidesInternals(t *testing.T) {
	assert.Equal(t, "conversation not found", describeTurnError(session.ErrForbidden))
	assert.Equal(t, "something went wrong; see the logs", describeTurnError(assertErr("dial tcp 10.0.0.1:5432")))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func runRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("CONFIG_FILE", "")

	stdout, stderr, err := runRoot(t, "token", "--user", "alice", "--ttl", "1h")
	require.NoError(t, err)
	assert.Contains(t, stderr, "expires")

	auth, err := security.NewJWTAuthenticator(testSecret, "todo-assistant", time.Hour)
	require.NoError(t, err)
	p, err := auth.Authenticate(context.Background(), strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BETTER_AUTH_SECRET", "")
	t.Setenv("CONFIG_FILE", "")

	_, _, err := runRoot(t, "token", "--user", "alice")
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", testSecret)
	_, _, err = runRoot(t, "token")
	assert.Error(t, err, "--user is required")
}

func TestPruneCommand(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	stdout, _, err := runRoot(t, "prune", "--older-than", "24h", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, stdout, "deleted 0 conversation(s)")

	_, _, err = runRoot(t, "prune", "--older-than", "-1h")
	assert.Error(t, err)
}

func TestServeRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BETTER_AUTH_SECRET", "")
	t.Setenv("CONFIG_FILE", "")

	_, _, err := runRoot(t, "serve", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestInvalidConfigFile(t *testing.T) {
	_, _, err := runRoot(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "prune")
	assert.Error(t, err)
}
