package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_assistant_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "todo_assistant_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Chat turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_assistant_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "todo_assistant_turn_duration_seconds",
			Help:    "End-to-end chat turn duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	fallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_assistant_fallback_responses_total",
			Help: "Total number of replies produced by the fallback responder",
		},
		[]string{"reason"},
	)

	// LLM metrics
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_assistant_llm_calls_total",
			Help: "Total number of model completion calls",
		},
		[]string{"provider", "status"},
	)

	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "todo_assistant_llm_call_duration_seconds",
			Help:    "Model completion call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)

	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_assistant_llm_tokens_total",
			Help: "Total number of tokens reported by providers",
		},
		[]string{"provider", "kind"},
	)

	llmCostUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_assistant_llm_cost_usd_total",
			Help: "Estimated model spend in USD",
		},
		[]string{"provider", "model"},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_assistant_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "todo_assistant_tool_call_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Retention metrics
	sessionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "todo_assistant_sessions_pruned_total",
			Help: "Total number of idle conversations removed by retention",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			turnsTotal,
			turnDuration,
			fallbackTotal,
			llmCallsTotal,
			llmCallDuration,
			llmTokensTotal,
			llmCostUSD,
			toolCallsTotal,
			toolCallDuration,
			sessionsPrunedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics. route is the mux pattern,
// not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTurn records a finished chat turn.
func RecordTurn(outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFallback counts a reply produced without the model.
func RecordFallback(reason string) {
	fallbackTotal.WithLabelValues(reason).Inc()
}

// RecordLLMCall records one completion call.
func RecordLLMCall(provider, status string, duration time.Duration) {
	llmCallsTotal.WithLabelValues(provider, status).Inc()
	llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordLLMTokens adds provider-reported token usage.
func RecordLLMTokens(provider string, prompt, completion int) {
	if prompt > 0 {
		llmTokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		llmTokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
	}
}

// RecordLLMCost adds an estimated spend for one call.
func RecordLLMCost(provider, model string, usd float64) {
	if usd > 0 {
		llmCostUSD.WithLabelValues(provider, model).Add(usd)
	}
}

// RecordToolCall records tool invocation metrics
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordSessionsPruned adds n removed conversations.
func RecordSessionsPruned(n int) {
	sessionsPrunedTotal.Add(float64(n))
}
