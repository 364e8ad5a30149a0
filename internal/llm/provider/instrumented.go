package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aixgo-dev/todo-assistant/internal/llm/cost"
	"github.com/aixgo-dev/todo-assistant/internal/observability"
	metrics "github.com/aixgo-dev/todo-assistant/pkg/observability"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
)

// InstrumentedProvider wraps a Provider with tracing, metrics, cost
// estimation and an optional circuit breaker.
type InstrumentedProvider struct {
	provider   Provider
	calculator *cost.Calculator
	breaker    *security.CircuitBreaker
	model      string
	logger     *slog.Logger
}

// InstrumentedConfig contains configuration for instrumented providers
type InstrumentedConfig struct {
	// Calculator for cost tracking. Nil disables cost attributes.
	Calculator *cost.Calculator

	// Breaker short-circuits calls after repeated upstream failures.
	Breaker *security.CircuitBreaker

	// Model labels cost when requests leave Model empty.
	Model string

	Logger *slog.Logger
}

// NewInstrumentedProvider wraps a provider with automatic observability
func NewInstrumentedProvider(provider Provider, config InstrumentedConfig) *InstrumentedProvider {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedProvider{
		provider:   provider,
		calculator: config.Calculator,
		breaker:    config.Breaker,
		model:      config.Model,
		logger:     logger.With("component", "llm", "provider", provider.Name()),
	}
}

// Name returns the underlying provider name
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// Unwrap returns the wrapped provider.
func (p *InstrumentedProvider) Unwrap() Provider {
	return p.provider
}

// CreateCompletion creates a completion with automatic instrumentation
func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	name := p.provider.Name()
	model := request.Model
	if model == "" {
		model = p.model
	}

	ctx, span := observability.StartSpan(ctx, fmt.Sprintf("llm.%s.completion", name),
		attribute.String("llm.provider", name),
		attribute.String("llm.model", model),
		attribute.Float64("llm.temperature", request.Temperature),
		attribute.Int("llm.max_tokens", request.MaxTokens),
		attribute.Int("llm.messages_count", len(request.Messages)),
		attribute.Int("llm.tools_count", len(request.Tools)),
	)

	start := time.Now()
	var response *CompletionResponse
	call := func() error {
		var err error
		response, err = p.provider.CreateCompletion(ctx, request)
		return err
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(call, countsAgainstBreaker)
		if errors.Is(err, security.ErrCircuitOpen) {
			err = NewProviderError(name, ErrorCodeCircuitOpen, "model temporarily disabled after repeated failures", err)
		}
	} else {
		err = call()
	}
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
		attribute.Bool("llm.success", err == nil),
	)

	if err != nil {
		code := ErrorCode(err)
		span.SetAttributes(attribute.String("llm.error_code", code))
		observability.EndSpan(span, err)
		metrics.RecordLLMCall(name, code, duration)
		p.logger.Warn("model call failed", "code", code, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", response.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", response.Usage.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", response.Usage.TotalTokens),
		attribute.String("llm.finish_reason", response.FinishReason),
		attribute.Int("llm.tool_calls_count", len(response.ToolCalls)),
	)
	metrics.RecordLLMCall(name, "ok", duration)
	metrics.RecordLLMTokens(name, response.Usage.PromptTokens, response.Usage.CompletionTokens)

	if p.calculator != nil && model != "" {
		usage := cost.Usage{
			Model:        model,
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
		}
		if c, cerr := p.calculator.Calculate(usage); cerr == nil {
			span.SetAttributes(attribute.Float64("llm.cost.total_usd", c.TotalCost))
			metrics.RecordLLMCost(name, model, c.TotalCost)
		}
	}

	observability.EndSpan(span, nil)
	p.logger.Debug("model call succeeded",
		"duration_ms", duration.Milliseconds(),
		"tool_calls", len(response.ToolCalls),
		"total_tokens", response.Usage.TotalTokens,
	)
	return response, nil
}

// countsAgainstBreaker reports whether err says the upstream is unhealthy.
// Rejected requests and caller cancellations do not trip the circuit.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch ErrorCode(err) {
	case ErrorCodeInvalidRequest, ErrorCodeContentFiltered:
		return false
	}
	return true
}
