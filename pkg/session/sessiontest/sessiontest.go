// Package sessiontest provides a conformance suite that every
// session.StorageBackend must pass when driven through session.Manager.
package sessiontest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
)

// Run executes the suite. newBackend must return an empty backend; the
// suite closes it when each subtest ends.
func Run(t *testing.T, newBackend func(t *testing.T) session.StorageBackend) {
	manager := func(t *testing.T) (*session.Manager, session.StorageBackend) {
		b := newBackend(t)
		m := session.NewManager(b)
		t.Cleanup(func() { _ = m.Close() })
		return m, b
	}

	t.Run("GetOrCreateIsIdempotent", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		created, isNew, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.Equal(t, "alice", created.UserID)

		again, isNew, err := m.GetOrCreate(ctx, "alice", created.ID)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, created.ID, again.ID)

		again, _, err = m.GetOrCreate(ctx, "alice", created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, again.ID)

		list, err := m.List(ctx, "alice", session.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("OwnershipEnforced", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)

		_, _, err = m.GetOrCreate(ctx, "bob", sess.ID)
		assert.ErrorIs(t, err, session.ErrForbidden)

		_, err = m.Get(ctx, "bob", sess.ID)
		assert.ErrorIs(t, err, session.ErrForbidden)

		err = m.Delete(ctx, "bob", sess.ID)
		assert.ErrorIs(t, err, session.ErrForbidden)

		_, err = m.Get(ctx, "alice", "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	})

	t.Run("AppendAndHistoryRoundTrip", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)

		const n = 5
		var appended []*session.Message
		for i := 0; i < n; i++ {
			msg, err := m.Append(ctx, sess.ID, &session.Message{
				Role:    session.RoleUser,
				Content: fmt.Sprintf("message %d", i),
			})
			require.NoError(t, err)
			appended = append(appended, msg)
		}

		history, err := m.History(ctx, sess.ID, n+10)
		require.NoError(t, err)
		require.Len(t, history, n)
		for i := range history {
			assert.Equal(t, appended[i].ID, history[i].ID)
			assert.Equal(t, appended[i].Content, history[i].Content)
			assert.Equal(t, sess.ID, history[i].SessionID)
			if i > 0 {
				assert.True(t, history[i].CreatedAt.After(history[i-1].CreatedAt), "timestamps must increase")
			}
		}

		last, err := m.History(ctx, sess.ID, 2)
		require.NoError(t, err)
		require.Len(t, last, 2)
		assert.Equal(t, "message 3", last[0].Content)
		assert.Equal(t, "message 4", last[1].Content)

		all, err := m.History(ctx, sess.ID, 0)
		require.NoError(t, err)
		assert.Len(t, all, n)
	})

	t.Run("AppendUpdatesMetadata", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)

		msg, err := m.Append(ctx, sess.ID, &session.Message{Role: session.RoleUser, Content: "Show   me\nmy todos"})
		require.NoError(t, err)
		_, err = m.Append(ctx, sess.ID, &session.Message{Role: session.RoleUser, Content: "second"})
		require.NoError(t, err)

		got, err := m.Get(ctx, "alice", sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "Show me my todos", got.Title)
		assert.Equal(t, 2, got.MessageCount)
		assert.False(t, got.UpdatedAt.Before(msg.CreatedAt))
		assert.True(t, got.CreatedAt.Equal(sess.CreatedAt))
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := m.Append(ctx, sess.ID, &session.Message{
					Role:    session.RoleUser,
					Content: fmt.Sprintf("message %d", i),
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := m.Get(ctx, "alice", sess.ID)
		require.NoError(t, err)
		assert.Equal(t, n, got.MessageCount)

		history, err := m.History(ctx, sess.ID, 0)
		require.NoError(t, err)
		require.Len(t, history, n)
		seen := make(map[string]bool, n)
		for i, msg := range history {
			assert.False(t, seen[msg.ID], "duplicate message %s", msg.ID)
			seen[msg.ID] = true
			if i > 0 {
				assert.True(t, msg.CreatedAt.After(history[i-1].CreatedAt), "timestamps must increase")
			}
		}
		assert.True(t, got.UpdatedAt.Equal(history[n-1].CreatedAt))
	})

	t.Run("AppendAfterDeleteFails", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)
		require.NoError(t, m.Delete(ctx, "alice", sess.ID))

		_, err = m.Append(ctx, sess.ID, &session.Message{Role: session.RoleUser, Content: "late"})
		assert.ErrorIs(t, err, session.ErrSessionNotFound)

		list, err := m.List(ctx, "alice", session.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list, "append must not re-create a deleted session")
	})

	t.Run("ToolPayloadsRoundTrip", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)

		_, err = m.Append(ctx, sess.ID, &session.Message{
			Role: session.RoleTool,
			ToolResults: []session.ToolResult{{
				CallID:  "call_1",
				Name:    "add_todo",
				Status:  session.StatusSuccess,
				Payload: json.RawMessage(`{"id":"t1","title":"buy milk"}`),
			}},
		})
		require.NoError(t, err)
		_, err = m.Append(ctx, sess.ID, &session.Message{
			Role:    session.RoleAssistant,
			Content: "Added it.",
			ToolCalls: []session.ToolCall{{
				ID:        "call_1",
				Name:      "add_todo",
				Arguments: json.RawMessage(`{"title":"buy milk"}`),
			}},
		})
		require.NoError(t, err)

		history, err := m.History(ctx, sess.ID, 0)
		require.NoError(t, err)
		require.Len(t, history, 2)

		require.Len(t, history[0].ToolResults, 1)
		assert.Equal(t, session.RoleTool, history[0].Role)
		assert.Equal(t, "call_1", history[0].ToolResults[0].CallID)
		assert.JSONEq(t, `{"id":"t1","title":"buy milk"}`, string(history[0].ToolResults[0].Payload))

		require.Len(t, history[1].ToolCalls, 1)
		assert.Equal(t, "add_todo", history[1].ToolCalls[0].Name)
		assert.JSONEq(t, `{"title":"buy milk"}`, string(history[1].ToolCalls[0].Arguments))
	})

	t.Run("RejectsInvalidMessages", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)

		_, err = m.Append(ctx, sess.ID, &session.Message{Role: session.RoleTool})
		assert.ErrorIs(t, err, session.ErrInvalidMessage)

		_, err = m.Append(ctx, sess.ID, &session.Message{Role: "system", Content: "x"})
		assert.ErrorIs(t, err, session.ErrInvalidMessage)

		_, err = m.Append(ctx, "00000000-0000-0000-0000-000000000000", &session.Message{Role: session.RoleUser, Content: "x"})
		assert.ErrorIs(t, err, session.ErrSessionNotFound)
	})

	t.Run("ListOrderedByUpdatedAt", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		first, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		second, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)
		_, _, err = m.GetOrCreate(ctx, "bob", "")
		require.NoError(t, err)

		time.Sleep(2 * time.Millisecond)
		_, err = m.Append(ctx, first.ID, &session.Message{Role: session.RoleUser, Content: "bump"})
		require.NoError(t, err)

		list, err := m.List(ctx, "alice", session.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, second.ID, list[1].ID)

		page, err := m.List(ctx, "alice", session.ListOptions{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, second.ID, page[0].ID)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		m, _ := manager(t)
		ctx := context.Background()

		sess, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)
		_, err = m.Append(ctx, sess.ID, &session.Message{Role: session.RoleUser, Content: "hello"})
		require.NoError(t, err)

		require.NoError(t, m.Delete(ctx, "alice", sess.ID))

		_, err = m.Get(ctx, "alice", sess.ID)
		assert.ErrorIs(t, err, session.ErrSessionNotFound)

		history, err := m.History(ctx, sess.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, history)

		list, err := m.List(ctx, "alice", session.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("PruneIdle", func(t *testing.T) {
		m, b := manager(t)
		ctx := context.Background()

		old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Microsecond)
		require.NoError(t, b.SaveSession(ctx, &session.Session{
			ID:        "11111111-1111-1111-1111-111111111111",
			UserID:    "alice",
			CreatedAt: old,
			UpdatedAt: old,
		}))
		fresh, _, err := m.GetOrCreate(ctx, "alice", "")
		require.NoError(t, err)

		n, err := m.PruneIdle(ctx, time.Now().UTC().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		list, err := m.List(ctx, "alice", session.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, fresh.ID, list[0].ID)
	})
}
