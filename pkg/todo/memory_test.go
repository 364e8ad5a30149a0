package todo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aixgo-dev/todo-assistant/pkg/todo"
	"github.com/aixgo-dev/todo-assistant/pkg/todo/todotest"
)

func TestMemoryStore(t *testing.T) {
	todotest.Run(t, func(t *testing.T) todo.Store {
		return todo.NewMemoryStore()
	})
}

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   todo.ListOptions
		want todo.ListOptions
	}{
		{"defaults", todo.ListOptions{}, todo.ListOptions{Status: todo.StatusAll, Limit: 20}},
		{"clamps limit", todo.ListOptions{Limit: 500}, todo.ListOptions{Status: todo.StatusAll, Limit: 100}},
		{"negative offset", todo.ListOptions{Limit: 5, Offset: -3}, todo.ListOptions{Status: todo.StatusAll, Limit: 5}},
		{"keeps filter", todo.ListOptions{Status: todo.StatusCompleted, Limit: 1, Offset: 2}, todo.ListOptions{Status: todo.StatusCompleted, Limit: 1, Offset: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestPatch_Apply(t *testing.T) {
	long := string(make([]rune, todo.MaxTitleLength+1))
	empty := ""
	desc := "details"
	done := true

	t.Run("rejects empty title", func(t *testing.T) {
		err := todo.Patch{Title: &empty}.Apply(&todo.Todo{})
		assert.ErrorIs(t, err, todo.ErrInvalid)
	})

	t.Run("rejects long title", func(t *testing.T) {
		err := todo.Patch{Title: &long}.Apply(&todo.Todo{})
		assert.ErrorIs(t, err, todo.ErrInvalid)
	})

	t.Run("applies fields", func(t *testing.T) {
		item := &todo.Todo{Title: "x"}
		err := todo.Patch{Description: &desc, Completed: &done}.Apply(item)
		assert.NoError(t, err)
		assert.Equal(t, "x", item.Title)
		assert.Equal(t, "details", item.Description)
		assert.True(t, item.Completed)
	})

	assert.True(t, todo.Patch{}.Empty())
}
