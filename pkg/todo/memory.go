package todo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	todos map[string]*Todo
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		todos: make(map[string]*Todo),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) owned(userID string) []*Todo {
	out := make([]*Todo, 0)
	for _, t := range m.todos {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) get(userID, id string) (*Todo, error) {
	t, ok := m.todos[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns one page of the user's todos, newest first.
func (m *MemoryStore) List(ctx context.Context, userID string, opts ListOptions) (*Page, error) {
	opts = opts.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Todo, 0)
	for _, t := range m.owned(userID) {
		if opts.Status.Matches(t) {
			matched = append(matched, t)
		}
	}

	total := len(matched)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)

	items := make([]*Todo, 0, end-start)
	for _, t := range matched[start:end] {
		cp := *t
		items = append(items, &cp)
	}
	return NewPage(items, total, opts), nil
}

// Create inserts a todo owned by userID.
func (m *MemoryStore) Create(ctx context.Context, userID string, draft Draft) (*Todo, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	t := &Todo{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       draft.Title,
		Description: draft.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	m.todos[t.ID] = t
	m.mu.Unlock()

	cp := *t
	return &cp, nil
}

// Update applies a patch to a todo owned by userID.
func (m *MemoryStore) Update(ctx context.Context, userID, id string, patch Patch) (*Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.get(userID, id)
	if err != nil {
		return nil, err
	}

	next := *t
	if err := patch.Apply(&next); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.now()
	*t = next

	cp := next
	return &cp, nil
}

// Delete removes a todo owned by userID.
func (m *MemoryStore) Delete(ctx context.Context, userID, id string) (*Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.get(userID, id)
	if err != nil {
		return nil, err
	}
	delete(m.todos, id)

	cp := *t
	return &cp, nil
}

// Toggle flips the completed flag of a todo owned by userID.
func (m *MemoryStore) Toggle(ctx context.Context, userID, id string) (*Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.get(userID, id)
	if err != nil {
		return nil, err
	}
	t.Completed = !t.Completed
	t.UpdatedAt = m.now()

	cp := *t
	return &cp, nil
}

// Summary returns counts and the most recently updated todos.
func (m *MemoryStore) Summary(ctx context.Context, userID string, recent int) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := m.owned(userID)
	s := &Summary{Total: len(owned), Recent: []*Todo{}}
	for _, t := range owned {
		if t.Completed {
			s.Completed++
		}
	}
	s.Pending = s.Total - s.Completed

	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})
	for i := 0; i < len(owned) && i < recent; i++ {
		cp := *owned[i]
		s.Recent = append(s.Recent, &cp)
	}
	return s, nil
}

var _ Store = (*MemoryStore)(nil)
