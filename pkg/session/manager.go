package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Manager is the conversation store consumed by the assistant. It owns
// ownership checks and metadata bookkeeping on top of a StorageBackend.
// Manager is safe for concurrent use.
type Manager struct {
	backend StorageBackend
	now     func() time.Time
}

// NewManager creates a new session manager with the given storage backend.
func NewManager(backend StorageBackend) *Manager {
	return &Manager{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the session identified by sessionID, or creates a new one
// owned by userID when sessionID is empty. It fails with ErrForbidden when the
// session belongs to someone else. The bool result reports whether a session
// was created.
func (m *Manager) GetOrCreate(ctx context.Context, userID, sessionID string) (*Session, bool, error) {
	if sessionID != "" {
		sess, err := m.Get(ctx, userID, sessionID)
		return sess, false, err
	}

	now := m.now().Truncate(time.Microsecond)
	sess := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.backend.SaveSession(ctx, sess); err != nil {
		return nil, false, fmt.Errorf("save session: %w", err)
	}
	return sess, true, nil
}

// Get loads a session and checks that userID owns it.
func (m *Manager) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	sess, err := m.backend.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// Append validates msg, stamps its ID and timestamp and appends it to the
// session, bumping UpdatedAt and MessageCount. Timestamps are strictly
// increasing within a session.
func (m *Manager) Append(ctx context.Context, sessionID string, msg *Message) (*Message, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	stored := *msg
	stored.ID = uuid.New().String()
	stored.SessionID = sessionID
	stored.CreatedAt = m.now().Truncate(time.Microsecond)

	if err := m.backend.AppendMessage(ctx, sessionID, &stored); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &stored, nil
}

// History returns the newest limit messages of a session in append order.
// Use a limit <= 0 for the full log.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	msgs, err := m.backend.LoadMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

// List returns the user's sessions, most recently updated first.
func (m *Manager) List(ctx context.Context, userID string, opts ListOptions) ([]*Session, error) {
	opts.UserID = userID
	return m.backend.ListSessions(ctx, opts)
}

// Delete removes a session owned by userID together with its messages.
func (m *Manager) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := m.Get(ctx, userID, sessionID); err != nil {
		return err
	}
	return m.backend.DeleteSession(ctx, sessionID)
}

// PruneIdle deletes every session whose last activity is older than before.
func (m *Manager) PruneIdle(ctx context.Context, before time.Time) (int, error) {
	return m.backend.DeleteIdleSessions(ctx, before)
}

// Ping reports backend connectivity when the backend supports it.
func (m *Manager) Ping(ctx context.Context) error {
	if p, ok := m.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases resources held by the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

func validateMessage(msg *Message) error {
	if msg == nil || !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown role", ErrInvalidMessage)
	}
	if msg.Role == RoleTool && len(msg.ToolResults) == 0 {
		return fmt.Errorf("%w: tool message without results", ErrInvalidMessage)
	}
	if msg.Role != RoleTool && len(msg.ToolResults) > 0 {
		return fmt.Errorf("%w: results on %s message", ErrInvalidMessage, msg.Role)
	}
	if msg.Role == RoleUser && len(msg.ToolCalls) > 0 {
		return fmt.Errorf("%w: tool calls on user message", ErrInvalidMessage)
	}
	return nil
}
