package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("dial tcp 10.0.0.5:5432: connection refused") }

func TestHealthChecker_Status(t *testing.T) {
	tests := []struct {
		name   string
		checks []*HealthCheck
		want   HealthStatus
	}{
		{"no checks", nil, HealthStatusHealthy},
		{"all passing", []*HealthCheck{StorageCheck("sessions", ok)}, HealthStatusHealthy},
		{"optional failing", []*HealthCheck{
			StorageCheck("sessions", ok),
			ExternalServiceCheck("llm", failing),
		}, HealthStatusDegraded},
		{"critical failing", []*HealthCheck{
			StorageCheck("sessions", failing),
			ExternalServiceCheck("llm", ok),
		}, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("test")
			for _, c := range tt.checks {
				hc.RegisterCheck(c)
			}
			resp := hc.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
			assert.Equal(t, "test", resp.Version)
		})
	}
}

func TestHealthChecker_HidesErrorDetail(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck(StorageCheck("todos", failing))

	resp := hc.Check(context.Background())
	assert.Equal(t, "check failed", resp.Checks["todos"].Message)
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck(&HealthCheck{
		Name:     "slow",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Equal(t, "check timed out", resp.Checks["slow"].Message)
}

func TestRoutes(t *testing.T) {
	InitMetrics()

	healthy := NewHealthChecker("test")
	healthy.RegisterCheck(StorageCheck("sessions", ok))
	broken := NewHealthChecker("test")
	broken.RegisterCheck(StorageCheck("sessions", failing))

	tests := []struct {
		name    string
		checker *HealthChecker
		path    string
		code    int
		status  string
	}{
		{"health ok", healthy, "/health", http.StatusOK, "healthy"},
		{"health down", broken, "/health", http.StatusServiceUnavailable, "unhealthy"},
		{"live", broken, "/health/live", http.StatusOK, "alive"},
		{"ready", healthy, "/health/ready", http.StatusOK, "ready"},
		{"not ready", broken, "/health/ready", http.StatusServiceUnavailable, "not ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			RegisterRoutes(mux, tt.checker)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.code, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body["status"])
		})
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, healthy)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "todo_assistant_")
}
