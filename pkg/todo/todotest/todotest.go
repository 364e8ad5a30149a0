// Package todotest provides a conformance suite for todo.Store implementations.
package todotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/todo-assistant/pkg/todo"
)

// Run exercises the user-scoping and pagination contract of a store.
// newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) todo.Store) {
	t.Run("CreateAndList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Create(ctx, "alice", todo.Draft{Title: "buy milk", Description: "2 litres"})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "alice", created.UserID)
		assert.False(t, created.Completed)

		page, err := s.List(ctx, "alice", todo.ListOptions{})
		require.NoError(t, err)
		require.Len(t, page.Todos, 1)
		assert.Equal(t, "buy milk", page.Todos[0].Title)
		assert.Equal(t, 1, page.Total)
		assert.False(t, page.HasMore)
	})

	t.Run("RejectsInvalidDraft", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(context.Background(), "alice", todo.Draft{})
		assert.ErrorIs(t, err, todo.ErrInvalid)
	})

	t.Run("UserScoping", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mine, err := s.Create(ctx, "alice", todo.Draft{Title: "private"})
		require.NoError(t, err)

		page, err := s.List(ctx, "bob", todo.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, page.Todos)

		title := "hijacked"
		_, err = s.Update(ctx, "bob", mine.ID, todo.Patch{Title: &title})
		assert.ErrorIs(t, err, todo.ErrNotFound)

		_, err = s.Toggle(ctx, "bob", mine.ID)
		assert.ErrorIs(t, err, todo.ErrNotFound)

		_, err = s.Delete(ctx, "bob", mine.ID)
		assert.ErrorIs(t, err, todo.ErrNotFound)

		page, err = s.List(ctx, "alice", todo.ListOptions{})
		require.NoError(t, err)
		require.Len(t, page.Todos, 1)
		assert.Equal(t, "private", page.Todos[0].Title)
	})

	t.Run("UpdateToggleDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Create(ctx, "alice", todo.Draft{Title: "draft"})
		require.NoError(t, err)

		title := "final"
		updated, err := s.Update(ctx, "alice", created.ID, todo.Patch{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "final", updated.Title)

		toggled, err := s.Toggle(ctx, "alice", created.ID)
		require.NoError(t, err)
		assert.True(t, toggled.Completed)

		toggled, err = s.Toggle(ctx, "alice", created.ID)
		require.NoError(t, err)
		assert.False(t, toggled.Completed)

		deleted, err := s.Delete(ctx, "alice", created.ID)
		require.NoError(t, err)
		assert.Equal(t, "final", deleted.Title)

		_, err = s.Delete(ctx, "alice", created.ID)
		assert.ErrorIs(t, err, todo.ErrNotFound)
	})

	t.Run("FilterAndPaginate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var ids []string
		for _, title := range []string{"one", "two", "three", "four", "five"} {
			created, err := s.Create(ctx, "alice", todo.Draft{Title: title})
			require.NoError(t, err)
			ids = append(ids, created.ID)
			time.Sleep(2 * time.Millisecond)
		}
		done := true
		_, err := s.Update(ctx, "alice", ids[0], todo.Patch{Completed: &done})
		require.NoError(t, err)

		page, err := s.List(ctx, "alice", todo.ListOptions{Status: todo.StatusCompleted})
		require.NoError(t, err)
		require.Len(t, page.Todos, 1)
		assert.Equal(t, "one", page.Todos[0].Title)

		page, err = s.List(ctx, "alice", todo.ListOptions{Status: todo.StatusIncomplete, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, page.Todos, 2)
		assert.Equal(t, 4, page.Total)
		assert.True(t, page.HasMore)
		assert.Equal(t, "five", page.Todos[0].Title)

		page, err = s.List(ctx, "alice", todo.ListOptions{Status: todo.StatusIncomplete, Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, page.Todos, 2)
		assert.False(t, page.HasMore)
	})

	t.Run("Summary", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, title := range []string{"a", "b", "c"} {
			_, err := s.Create(ctx, "alice", todo.Draft{Title: title})
			require.NoError(t, err)
		}
		page, err := s.List(ctx, "alice", todo.ListOptions{})
		require.NoError(t, err)
		_, err = s.Toggle(ctx, "alice", page.Todos[0].ID)
		require.NoError(t, err)

		sum, err := s.Summary(ctx, "alice", 2)
		require.NoError(t, err)
		assert.Equal(t, 3, sum.Total)
		assert.Equal(t, 1, sum.Completed)
		assert.Equal(t, 2, sum.Pending)
		assert.Len(t, sum.Recent, 2)

		empty, err := s.Summary(ctx, "nobody", 5)
		require.NoError(t, err)
		assert.Zero(t, empty.Total)
		assert.Empty(t, empty.Recent)
	})
}
