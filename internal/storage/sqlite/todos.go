package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aixgo-dev/todo-assistant/pkg/todo"
)

const todoColumns = "id, user_id, title, description, completed, created_at, updated_at"

// TodoStore implements todo.Store.
type TodoStore struct {
	db  *sql.DB
	now func() time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*todo.Todo, error) {
	var (
		t                todo.Todo
		created, updated int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, todo.ErrNotFound
		}
		return nil, err
	}
	t.CreatedAt = fromMicros(created)
	t.UpdatedAt = fromMicros(updated)
	return &t, nil
}

func statusClause(f todo.StatusFilter) string {
	switch f {
	case todo.StatusCompleted:
		return " AND completed = 1"
	case todo.StatusIncomplete:
		return " AND completed = 0"
	}
	return ""
}

// List returns one page of the user's todos, newest first.
func (s *TodoStore) List(ctx context.Context, userID string, opts todo.ListOptions) (*todo.Page, error) {
	opts = opts.Normalize()
	filter := statusClause(opts.Status)

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM todos WHERE user_id = ?"+filter, userID,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count todos: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+todoColumns+" FROM todos WHERE user_id = ?"+filter+
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	var items []*todo.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return todo.NewPage(items, total, opts), nil
}

// Create inserts a todo owned by userID.
func (s *TodoStore) Create(ctx context.Context, userID string, draft todo.Draft) (*todo.Todo, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	now := s.now().Truncate(time.Microsecond)
	t := &todo.Todo{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       draft.Title,
		Description: draft.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO todos ("+todoColumns+") VALUES (?, ?, ?, ?, 0, ?, ?)",
		t.ID, t.UserID, t.Title, t.Description, micros(now), micros(now))
	if err != nil {
		return nil, fmt.Errorf("insert todo: %w", err)
	}
	return t, nil
}

// Update applies a patch to a todo owned by userID.
func (s *TodoStore) Update(ctx context.Context, userID, id string, patch todo.Patch) (*todo.Todo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTodo(tx.QueryRowContext(ctx,
		"SELECT "+todoColumns+" FROM todos WHERE id = ? AND user_id = ?", id, userID))
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = s.now().Truncate(time.Microsecond)

	if _, err := tx.ExecContext(ctx,
		"UPDATE todos SET title = ?, description = ?, completed = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		t.Title, t.Description, t.Completed, micros(t.UpdatedAt), id, userID); err != nil {
		return nil, fmt.Errorf("update todo: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

// Delete removes a todo owned by userID and returns it.
func (s *TodoStore) Delete(ctx context.Context, userID, id string) (*todo.Todo, error) {
	return scanTodo(s.db.QueryRowContext(ctx,
		"DELETE FROM todos WHERE id = ? AND user_id = ? RETURNING "+todoColumns, id, userID))
}

// Toggle flips the completed flag of a todo owned by userID.
func (s *TodoStore) Toggle(ctx context.Context, userID, id string) (*todo.Todo, error) {
	now := s.now().Truncate(time.Microsecond)
	return scanTodo(s.db.QueryRowContext(ctx,
		"UPDATE todos SET completed = 1 - completed, updated_at = ? WHERE id = ? AND user_id = ? RETURNING "+todoColumns,
		micros(now), id, userID))
}

// Summary returns counts and the most recently updated todos.
func (s *TodoStore) Summary(ctx context.Context, userID string, recent int) (*todo.Summary, error) {
	sum := &todo.Summary{Recent: []*todo.Todo{}}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(completed), 0) FROM todos WHERE user_id = ?", userID,
	).Scan(&sum.Total, &sum.Completed); err != nil {
		return nil, fmt.Errorf("summarize todos: %w", err)
	}
	sum.Pending = sum.Total - sum.Completed
	if recent <= 0 || sum.Total == 0 {
		return sum, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+todoColumns+" FROM todos WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ?",
		userID, recent)
	if err != nil {
		return nil, fmt.Errorf("recent todos: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		sum.Recent = append(sum.Recent, t)
	}
	return sum, rows.Err()
}

var _ todo.Store = (*TodoStore)(nil)
