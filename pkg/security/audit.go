package security

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit event types.
const (
	EventAuthFailure         = "auth.failure"
	EventAccessDenied        = "access.denied"
	EventConversationDeleted = "conversation.deleted"
	EventRateLimited         = "rate_limit.exceeded"
)

// AuditEvent represents a security-relevant event
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Result    string         `json:"result"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditLogger records audit events. Implementations must be safe for
// concurrent use.
type AuditLogger interface {
	Log(ctx context.Context, event *AuditEvent)
}

// NewAuditEvent stamps an event, filling user and address from the
// request's AuthContext when present.
func NewAuditEvent(ctx context.Context, eventType, result string) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    result,
	}
	if authCtx, err := GetAuthContext(ctx); err == nil {
		if authCtx.Principal != nil {
			event.UserID = authCtx.Principal.ID
		}
		event.IPAddress = authCtx.IPAddress
	}
	return event
}

// LogAuthFailure records a rejected credential.
func LogAuthFailure(ctx context.Context, l AuditLogger, ip string, err error) {
	event := NewAuditEvent(ctx, EventAuthFailure, "denied")
	event.Action = "authenticate"
	event.IPAddress = ip
	event.Error = ScrubError(err)
	l.Log(ctx, event)
}

// LogAccessDenied records an authenticated caller reaching for a resource
// that is not theirs.
func LogAccessDenied(ctx context.Context, l AuditLogger, resource, action string) {
	event := NewAuditEvent(ctx, EventAccessDenied, "denied")
	event.Resource = resource
	event.Action = action
	l.Log(ctx, event)
}

// SlogAuditLogger writes events as structured log records.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger on top of logger.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("audit", true)}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event *AuditEvent) {
	attrs := []any{
		"event_type", event.EventType,
		"result", event.Result,
	}
	for _, kv := range [][2]string{
		{"user_id", event.UserID},
		{"ip_address", event.IPAddress},
		{"resource", event.Resource},
		{"action", event.Action},
		{"error", event.Error},
	} {
		if kv[1] != "" {
			attrs = append(attrs, kv[0], kv[1])
		}
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.InfoContext(ctx, "audit event", attrs...)
}

// InMemoryAuditLogger stores audit events in memory (for testing)
type InMemoryAuditLogger struct {
	events []AuditEvent
	mu     sync.RWMutex
}

// NewInMemoryAuditLogger creates a new in-memory audit logger
func NewInMemoryAuditLogger() *InMemoryAuditLogger {
	return &InMemoryAuditLogger{}
}

// Log records an audit event
func (l *InMemoryAuditLogger) Log(_ context.Context, event *AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
}

// Events returns a copy of the recorded events.
func (l *InMemoryAuditLogger) Events() []AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]AuditEvent(nil), l.events...)
}

// NoOpAuditLogger discards events.
type NoOpAuditLogger struct{}

// Log implements AuditLogger.
func (NoOpAuditLogger) Log(context.Context, *AuditEvent) {}
