// Package provider adapts hosted chat models with function calling to a
// single request/response shape.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// CreateCompletion sends the conversation and tool catalog to the model.
	// The response holds either text, tool calls, or both.
	CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g., "openai", "gemini")
	Name() string
}

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name identify the call a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Tool represents a function/tool that can be called by the LLM
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema for parameters
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	// Messages is the conversation history, system prompt first.
	Messages []Message `json:"messages"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`

	// Temperature controls randomness (0.0-2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`

	// Tools available for the model to call
	Tools []Tool `json:"tools,omitempty"`
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	// Content is the generated text
	Content string `json:"content"`

	// FinishReason explains why generation stopped
	FinishReason string `json:"finish_reason"`

	// Usage contains token usage information
	Usage Usage `json:"usage"`

	// ToolCalls if the model called any tools
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCall represents a function call made by the model
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall represents a function call
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ProviderError represents a provider-specific error. Message may contain
// upstream detail and must not be shown to end users.
type ProviderError struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return e.Provider + " error: " + e.Message
}

// Unwrap returns the original error
func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// Common error codes
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeAuthentication    = "authentication_error"
	ErrorCodeRateLimit         = "rate_limit_exceeded"
	ErrorCodeServerError       = "server_error"
	ErrorCodeTimeout           = "timeout"
	ErrorCodeModelNotFound     = "model_not_found"
	ErrorCodeContentFiltered   = "content_filtered"
	ErrorCodeMalformedResponse = "malformed_response"
	ErrorCodeCircuitOpen       = "circuit_open"
	ErrorCodeUnknown           = "unknown_error"
)

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, original error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   isRetryableError(code),
	}
}

// isRetryableError determines if an error code is retryable
func isRetryableError(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// ErrorCode returns the ProviderError code in err's chain, or
// ErrorCodeUnknown.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	return ErrorCodeUnknown
}

// codeForStatus maps an HTTP status from an upstream API to an error code.
func codeForStatus(status int) string {
	switch {
	case status == 400 || status == 422:
		return ErrorCodeInvalidRequest
	case status == 401 || status == 403:
		return ErrorCodeAuthentication
	case status == 404:
		return ErrorCodeModelNotFound
	case status == 408:
		return ErrorCodeTimeout
	case status == 429:
		return ErrorCodeRateLimit
	case status >= 500:
		return ErrorCodeServerError
	}
	return ErrorCodeUnknown
}

// contextError wraps cancellation and deadline errors so they keep their
// identity for errors.Is while carrying a provider code.
func contextError(provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(provider, ErrorCodeTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewProviderError(provider, ErrorCodeTimeout, "request canceled", err)
	}
	return nil
}

// NormalizeArguments returns tool-call arguments that are always valid
// JSON. Empty arguments become an empty object. Malformed text, such as
// arguments cut off by the token limit, is kept as a JSON string so it can
// be stored and echoed back while still failing argument validation.
func NormalizeArguments(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

// argumentsObject decodes tool-call arguments for providers that need a
// structured object. Anything that is not a JSON object, including text
// kept as a JSON string because the model emitted malformed arguments,
// becomes an empty object.
func argumentsObject(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil || args == nil {
			return map[string]any{}
		}
	}
	return args
}

// argumentsText returns tool-call arguments as the model originally sent
// them, unwrapping text that was kept as a JSON string.
func argumentsText(raw json.RawMessage) string {
	var text string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &text) == nil {
		return text
	}
	return string(raw)
}
