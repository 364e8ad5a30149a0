package security

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditEvent_UsesAuthContext(t *testing.T) {
	ctx := WithAuthContext(context.Background(), &AuthContext{
		Principal: &Principal{ID: "alice"},
		IPAddress: "10.0.0.1:5000",
	})
	event := NewAuditEvent(ctx, EventAccessDenied, "denied")
	if event.UserID != "alice" || event.IPAddress != "10.0.0.1:5000" {
		t.Errorf("unexpected event %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestLogHelpers(t *testing.T) {
	audit := NewInMemoryAuditLogger()
	ctx := WithAuthContext(context.Background(), &AuthContext{Principal: &Principal{ID: "bob"}})

	LogAccessDenied(ctx, audit, "conversation:123", "chat")
	LogAuthFailure(context.Background(), audit, "1.2.3.4:1", errors.New("bad token=secretvalue"))

	events := audit.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].UserID != "bob" || events[0].Resource != "conversation:123" {
		t.Errorf("access denied event = %+v", events[0])
	}
	if strings.Contains(events[1].Error, "secretvalue") {
		t.Errorf("auth failure leaked secret: %q", events[1].Error)
	}
}

func TestSlogAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	logger.Log(context.Background(), &AuditEvent{
		EventType: EventConversationDeleted,
		UserID:    "carol",
		Resource:  "conversation:9",
		Result:    "success",
	})

	out := buf.String()
	for _, want := range []string{`"audit":true`, `"event_type":"conversation.deleted"`, `"user_id":"carol"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}
	if strings.Contains(out, `"error"`) {
		t.Errorf("empty fields should be omitted: %q", out)
	}
}
