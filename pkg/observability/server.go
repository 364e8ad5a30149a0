package observability

import (
	"net/http"
)

// RegisterRoutes mounts the unauthenticated health and metrics endpoints
// on mux.
func RegisterRoutes(mux *http.ServeMux, hc *HealthChecker) {
	mux.HandleFunc("GET /health", hc.HealthHandler())
	mux.HandleFunc("GET /health/live", LivenessHandler())
	mux.HandleFunc("GET /health/ready", hc.ReadinessHandler())
	mux.Handle("GET /metrics", MetricsHandler())
}
