package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements StorageBackend in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]*Message
	closed   bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]*Session),
		messages: make(map[string][]*Message),
	}
}

// SaveSession creates or replaces session metadata.
func (b *MemoryBackend) SaveSession(ctx context.Context, sess *Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}
	cp := *sess
	b.sessions[sess.ID] = &cp
	return nil
}

// LoadSession retrieves session metadata by ID.
func (b *MemoryBackend) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}
	sess, ok := b.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// DeleteSession removes a session and all its messages.
func (b *MemoryBackend) DeleteSession(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}
	delete(b.sessions, sessionID)
	delete(b.messages, sessionID)
	return nil
}

// ListSessions returns a user's sessions ordered by UpdatedAt descending.
func (b *MemoryBackend) ListSessions(ctx context.Context, opts ListOptions) ([]*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Session, 0)
	for _, sess := range b.sessions {
		if sess.UserID == opts.UserID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sortByUpdatedDesc(out)

	start, end := opts.window(len(out))
	return out[start:end], nil
}

// AppendMessage appends msg and advances the session under the write lock.
func (b *MemoryBackend) AppendMessage(ctx context.Context, sessionID string, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStorageClosed
	}
	sess, ok := b.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	sess.Advance(msg)
	mc := *msg
	b.messages[sessionID] = append(b.messages[sessionID], &mc)
	return nil
}

// LoadMessages returns the newest limit messages in append order.
func (b *MemoryBackend) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrStorageClosed
	}

	all := b.messages[sessionID]
	out := make([]*Message, 0, len(all))
	for _, m := range all[tail(len(all), limit):] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteIdleSessions removes sessions not updated since before.
func (b *MemoryBackend) DeleteIdleSessions(ctx context.Context, before time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrStorageClosed
	}

	n := 0
	for id, sess := range b.sessions {
		if sess.UpdatedAt.Before(before) {
			delete(b.sessions, id)
			delete(b.messages, id)
			n++
		}
	}
	return n, nil
}

// Close marks the backend closed.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func sortByUpdatedDesc(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}

var _ StorageBackend = (*MemoryBackend)(nil)
