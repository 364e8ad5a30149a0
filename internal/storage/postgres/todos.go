package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aixgo-dev/todo-assistant/pkg/todo"
)

// TodoStore implements todo.Store.
type TodoStore struct {
	db  *gorm.DB
	now func() time.Time
}

func (r *todoRecord) toTodo() *todo.Todo {
	return &todo.Todo{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Completed:   r.Completed,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func scoped(db *gorm.DB, userID string, f todo.StatusFilter) *gorm.DB {
	q := db.Model(&todoRecord{}).Where("user_id = ?", userID)
	switch f {
	case todo.StatusCompleted:
		q = q.Where("completed")
	case todo.StatusIncomplete:
		q = q.Where("NOT completed")
	}
	return q
}

// List returns one page of the user's todos, newest first.
func (s *TodoStore) List(ctx context.Context, userID string, opts todo.ListOptions) (*todo.Page, error) {
	opts = opts.Normalize()
	db := s.db.WithContext(ctx)

	var total int64
	if err := scoped(db, userID, opts.Status).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count todos: %w", err)
	}

	var records []todoRecord
	if err := scoped(db, userID, opts.Status).
		Order("created_at DESC, id DESC").
		Limit(opts.Limit).Offset(opts.Offset).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}

	items := make([]*todo.Todo, len(records))
	for i := range records {
		items[i] = records[i].toTodo()
	}
	return todo.NewPage(items, int(total), opts), nil
}

// Create inserts a todo owned by userID.
func (s *TodoStore) Create(ctx context.Context, userID string, draft todo.Draft) (*todo.Todo, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	rec := todoRecord{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       draft.Title,
		Description: draft.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("insert todo: %w", err)
	}
	return rec.toTodo(), nil
}

// mutate loads the user's todo under a row lock, applies fn and saves it.
func (s *TodoStore) mutate(ctx context.Context, userID, id string, fn func(*todo.Todo) error) (*todo.Todo, error) {
	var out *todo.Todo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec todoRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", id, userID).
			Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return todo.ErrNotFound
		}
		if err != nil {
			return err
		}

		t := rec.toTodo()
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		if err := tx.Model(&rec).Updates(map[string]any{
			"title":       t.Title,
			"description": t.Description,
			"completed":   t.Completed,
			"updated_at":  t.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("update todo: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

// Update applies a patch to a todo owned by userID.
func (s *TodoStore) Update(ctx context.Context, userID, id string, patch todo.Patch) (*todo.Todo, error) {
	return s.mutate(ctx, userID, id, patch.Apply)
}

// Toggle flips the completed flag of a todo owned by userID.
func (s *TodoStore) Toggle(ctx context.Context, userID, id string) (*todo.Todo, error) {
	return s.mutate(ctx, userID, id, func(t *todo.Todo) error {
		t.Completed = !t.Completed
		return nil
	})
}

// Delete removes a todo owned by userID and returns it.
func (s *TodoStore) Delete(ctx context.Context, userID, id string) (*todo.Todo, error) {
	var records []todoRecord
	err := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&records).Error
	if err != nil {
		return nil, fmt.Errorf("delete todo: %w", err)
	}
	if len(records) == 0 {
		return nil, todo.ErrNotFound
	}
	return records[0].toTodo(), nil
}

// Summary returns counts and the most recently updated todos.
func (s *TodoStore) Summary(ctx context.Context, userID string, recent int) (*todo.Summary, error) {
	db := s.db.WithContext(ctx)

	var counts struct {
		Total     int
		Completed int
	}
	if err := scoped(db, userID, todo.StatusAll).
		Select("COUNT(*) AS total, COUNT(*) FILTER (WHERE completed) AS completed").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("summarize todos: %w", err)
	}

	sum := &todo.Summary{
		Total:     counts.Total,
		Completed: counts.Completed,
		Pending:   counts.Total - counts.Completed,
		Recent:    []*todo.Todo{},
	}
	if recent <= 0 || sum.Total == 0 {
		return sum, nil
	}

	var records []todoRecord
	if err := scoped(db, userID, todo.StatusAll).
		Order("updated_at DESC, id DESC").
		Limit(recent).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("recent todos: %w", err)
	}
	for i := range records {
		sum.Recent = append(sum.Recent, records[i].toTodo())
	}
	return sum, nil
}

var _ todo.Store = (*TodoStore)(nil)
