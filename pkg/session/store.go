package session

import (
	"context"
	"errors"
	"time"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrForbidden is returned when a session is owned by another user.
	ErrForbidden = errors.New("session owned by another user")
	// ErrInvalidMessage is returned when a message violates the role/tool invariants.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)

// StorageBackend abstracts session persistence.
// Implementations must be safe for concurrent use. They hold no ownership
// logic; Manager enforces it.
type StorageBackend interface {
	// SaveSession creates or replaces session metadata.
	SaveSession(ctx context.Context, sess *Session) error

	// LoadSession retrieves session metadata by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadSession(ctx context.Context, sessionID string) (*Session, error)

	// DeleteSession removes a session and all its messages.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListSessions returns a user's sessions ordered by UpdatedAt descending.
	ListSessions(ctx context.Context, opts ListOptions) ([]*Session, error)

	// AppendMessage atomically appends msg to the session log and advances
	// the session metadata with Session.Advance in the same write, so
	// concurrent appends neither lose updates nor share a position.
	// msg.CreatedAt is updated to the stored timestamp.
	// Returns ErrSessionNotFound if the session doesn't exist.
	AppendMessage(ctx context.Context, sessionID string, msg *Message) error

	// LoadMessages returns the newest limit messages in append order.
	// A limit <= 0 returns every message.
	LoadMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// DeleteIdleSessions removes sessions not updated since before and
	// returns how many were removed.
	DeleteIdleSessions(ctx context.Context, before time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Pinger is implemented by backends that can report connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ListOptions provides filtering for session listing.
type ListOptions struct {
	// UserID filters sessions by owner. Required.
	UserID string
	// Limit caps the number of results.
	Limit int
	// Offset skips the first N results.
	Offset int
}

// window applies offset/limit to n already-sorted results.
func (o ListOptions) window(n int) (start, end int) {
	start = min(max(o.Offset, 0), n)
	end = n
	if o.Limit > 0 && start+o.Limit < end {
		end = start + o.Limit
	}
	return start, end
}

// tail returns the bounds of the newest limit items out of n.
func tail(n, limit int) int {
	if limit <= 0 || limit >= n {
		return 0
	}
	return n - limit
}
