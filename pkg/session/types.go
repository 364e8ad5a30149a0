// Package session provides user-owned conversation persistence for the assistant.
// A session is a chat thread owned by exactly one user; its messages form an
// append-only log that is only ever removed by deleting the whole session.
package session

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// Role identifies who produced a message.
type Role string

const (
	// RoleUser is a message typed by the end user.
	RoleUser Role = "user"
	// RoleAssistant is a reply produced by the model or the fallback responder.
	RoleAssistant Role = "assistant"
	// RoleTool carries the results of the tool calls made during a turn.
	RoleTool Role = "tool"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Session is a persisted conversation thread.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// UserID is the owner. It never changes after creation.
	UserID string `json:"user_id"`
	// Title is derived from the first user message.
	Title string `json:"title"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every appended message.
	UpdatedAt time.Time `json:"updated_at"`
	// MessageCount is the number of messages in the session.
	MessageCount int `json:"message_count"`
}

// ToolCall is a structured request emitted by the model.
type ToolCall struct {
	ID        string          `json:"call_id"`
	Name      string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolResult is the outcome of one tool call, matched back by CallID.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	Name    string          `json:"tool_name,omitempty"`
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Message is one immutable entry of a session.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

const maxTitleRunes = 60

// DeriveTitle builds a session title from the first user message.
func DeriveTitle(text string) string {
	title := strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return strings.TrimSpace(string(runes[:maxTitleRunes-1])) + "…"
}

// Advance records msg as the next entry of s. msg.CreatedAt is moved past
// s.UpdatedAt when needed so timestamps stay strictly increasing; UpdatedAt,
// MessageCount and an empty Title follow from msg. Backends call it inside
// the same atomic write that stores msg.
func (s *Session) Advance(msg *Message) {
	if s.MessageCount > 0 && !msg.CreatedAt.After(s.UpdatedAt) {
		msg.CreatedAt = s.UpdatedAt.Add(time.Microsecond)
	}
	s.UpdatedAt = msg.CreatedAt
	s.MessageCount++
	if s.Title == "" && msg.Role == RoleUser {
		s.Title = DeriveTitle(msg.Content)
	}
}
