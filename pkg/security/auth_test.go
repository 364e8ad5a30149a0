package security

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc.def":  "abc.def",
		"bearer  abc.def": "abc.def",
		"Basic Zm9vOmJhcg": "",
		"Bearer":           "",
		"":                 "",
	}
	for header, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := BearerToken(r); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestExtractAuthContext(t *testing.T) {
	a, err := NewJWTAuthenticator(testSecret, "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := a.Issue("user-7", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	audit := NewInMemoryAuditLogger()

	var seen string
	handler := ExtractAuthContext(a, audit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		if err != nil {
			t.Errorf("GetPrincipal() error = %v", err)
			return
		}
		seen = p.ID
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user-7/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen != "user-7" {
		t.Fatalf("authorized request: status %d, principal %q", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user-7/conversations", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous request: status %d, want 401", rec.Code)
	}
	var body SecureError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeUnauthorized)
	}

	events := audit.Events()
	if len(events) != 1 || events[0].EventType != EventAuthFailure {
		t.Errorf("expected one auth failure event, got %+v", events)
	}
}

func TestGetPrincipal_Missing(t *testing.T) {
	if _, err := GetPrincipal(context.Background()); err == nil {
		t.Error("expected error without auth context")
	}
	ctx := WithAuthContext(context.Background(), &AuthContext{})
	if _, err := GetPrincipal(ctx); err == nil {
		t.Error("expected error without principal")
	}
}
