// Package todo defines the user-scoped todo model and the storage contract the
// assistant's tools operate on. Every Store method takes the owning user id
// explicitly; implementations must never return or mutate another user's rows.
package todo

import (
	"context"
	"errors"
	"time"
)

// Common errors for todo storage.
var (
	// ErrNotFound is returned when a todo does not exist or is owned by another user.
	ErrNotFound = errors.New("todo not found")
	// ErrInvalid is returned when a todo fails model-level validation.
	ErrInvalid = errors.New("invalid todo")
)

// Field limits shared by stores and tool schemas.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
	DefaultPageSize      = 20
	MaxPageSize          = 100
)

// Todo is a single task owned by one user.
type Todo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusFilter narrows list results by completion state.
type StatusFilter string

const (
	StatusAll        StatusFilter = "all"
	StatusCompleted  StatusFilter = "completed"
	StatusIncomplete StatusFilter = "incomplete"
)

// Matches reports whether t passes the filter.
func (f StatusFilter) Matches(t *Todo) bool {
	switch f {
	case StatusCompleted:
		return t.Completed
	case StatusIncomplete:
		return !t.Completed
	default:
		return true
	}
}

// ListOptions controls filtering and pagination for List.
type ListOptions struct {
	Status StatusFilter
	Limit  int
	Offset int
}

// Normalize applies defaults and clamps pagination into range.
func (o ListOptions) Normalize() ListOptions {
	if o.Status == "" {
		o.Status = StatusAll
	}
	if o.Limit <= 0 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Page is one page of list results plus pagination metadata.
type Page struct {
	Todos   []*Todo `json:"todos"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"has_more"`
}

// NewPage assembles a page from an already-sliced result set.
func NewPage(items []*Todo, total int, opts ListOptions) *Page {
	if items == nil {
		items = []*Todo{}
	}
	return &Page{
		Todos:   items,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(items) < total,
	}
}

// Draft carries the fields for a new todo.
type Draft struct {
	Title       string
	Description string
}

// Validate checks the draft against the field limits.
func (d Draft) Validate() error {
	if d.Title == "" {
		return errors.Join(ErrInvalid, errors.New("title is required"))
	}
	if len([]rune(d.Title)) > MaxTitleLength {
		return errors.Join(ErrInvalid, errors.New("title too long"))
	}
	if len([]rune(d.Description)) > MaxDescriptionLength {
		return errors.Join(ErrInvalid, errors.New("description too long"))
	}
	return nil
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Completed   *bool
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil
}

// Apply writes the patch onto t.
func (p Patch) Apply(t *Todo) error {
	if p.Title != nil {
		if *p.Title == "" || len([]rune(*p.Title)) > MaxTitleLength {
			return errors.Join(ErrInvalid, errors.New("title must be 1-200 characters"))
		}
		t.Title = *p.Title
	}
	if p.Description != nil {
		if len([]rune(*p.Description)) > MaxDescriptionLength {
			return errors.Join(ErrInvalid, errors.New("description too long"))
		}
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return nil
}

// Summary is the lightweight overview returned to the model by get_user_context.
type Summary struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Pending   int     `json:"pending"`
	Recent    []*Todo `json:"recent"`
}

// Store is the user-scoped todo persistence boundary.
// Implementations must be safe for concurrent use.
type Store interface {
	// List returns one page of the user's todos, newest first.
	List(ctx context.Context, userID string, opts ListOptions) (*Page, error)

	// Create inserts a todo owned by userID.
	Create(ctx context.Context, userID string, draft Draft) (*Todo, error)

	// Update applies a patch. Returns ErrNotFound if the todo is not owned by userID.
	Update(ctx context.Context, userID, id string, patch Patch) (*Todo, error)

	// Delete removes a todo. Returns ErrNotFound if the todo is not owned by userID.
	Delete(ctx context.Context, userID, id string) (*Todo, error)

	// Toggle flips the completed flag. Returns ErrNotFound if not owned by userID.
	Toggle(ctx context.Context, userID, id string) (*Todo, error)

	// Summary returns counts plus up to recent most recently updated todos.
	Summary(ctx context.Context, userID string, recent int) (*Summary, error)
}
