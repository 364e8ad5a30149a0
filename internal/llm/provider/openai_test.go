package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockChatClient replays canned go-openai responses.
type MockChatClient struct {
	mu        sync.Mutex
	responses []openai.ChatCompletionResponse
	errors    []error
	calls     []openai.ChatCompletionRequest
}

func (m *MockChatClient) AddResponse(resp openai.ChatCompletionResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errors = append(m.errors, err)
}

func (m *MockChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.calls)
	m.calls = append(m.calls, req)
	if i >= len(m.responses) {
		return openai.ChatCompletionResponse{}, nil
	}
	return m.responses[i], m.errors[i]
}

func (m *MockChatClient) Calls() []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), m.calls...)
}

var testTools = []Tool{{
	Name:        "list_todos",
	Description: "List todos",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"status":{"type":"string"}},"required":[]}`),
}}

func toolRoundTrip() []Message {
	return []Message{
		{Role: RoleSystem, Content: "You manage todos."},
		{Role: RoleUser, Content: "Show me my todos"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: FunctionCall{Name: "list_todos", Arguments: json.RawMessage(`{"status":"all"}`)},
		}}},
		{Role: RoleTool, ToolCallID: "call_1", Name: "list_todos", Content: `{"todos":[]}`},
	}
}

func TestOpenAIProvider_HTTPRoundTrip(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_2", "type": "function", "function": {"name": "add_todo", "arguments": "{\"title\":\"buy milk\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages:    toolRoundTrip(),
		Tools:       testTools,
		Temperature: 0.2,
		MaxTokens:   256,
	})
	require.NoError(t, err)

	assert.Equal(t, defaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "call_1", got.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "call_1", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "list_todos", got.Tools[0].Function.Name)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_2", resp.ToolCalls[0].ID)
	assert.Equal(t, "add_todo", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"title":"buy milk"}`, string(resp.ToolCalls[0].Function.Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, 49, resp.Usage.TotalTokens)
}

func TestOpenAIProvider_HTTPErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode string
	}{
		{"rate limited", http.StatusTooManyRequests, ErrorCodeRateLimit},
		{"bad key", http.StatusUnauthorized, ErrorCodeAuthentication},
		{"unknown model", http.StatusNotFound, ErrorCodeModelNotFound},
		{"upstream down", http.StatusBadGateway, ErrorCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"upstream says no","type":"error"}}`))
			}))
			defer srv.Close()

			p := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", MaxRetries: 0})
			_, err := p.CreateCompletion(context.Background(), CompletionRequest{
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			})

			var pe *ProviderError
			require.True(t, errors.As(err, &pe), "want ProviderError, got %v", err)
			assert.Equal(t, tt.wantCode, pe.Code)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestOpenAIProvider_RetriesRetryableErrors(t *testing.T) {
	client := &MockChatClient{}
	client.AddResponse(openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"})
	client.AddResponse(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "Done."}}},
	}, nil)

	p := NewOpenAIProviderWithClient(client, Config{MaxRetries: 1, RetryDelay: 1})
	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	require.NoError(t, err)
	assert.Equal(t, "Done.", resp.Content)
	assert.Len(t, client.Calls(), 2)
}

func TestOpenAIProvider_DoesNotRetryInvalidRequest(t *testing.T) {
	client := &MockChatClient{}
	client.AddResponse(openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: 400, Message: "bad"})

	p := NewOpenAIProviderWithClient(client, Config{MaxRetries: 3, RetryDelay: 1})
	_, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	assert.Equal(t, ErrorCodeInvalidRequest, ErrorCode(err))
	assert.Len(t, client.Calls(), 1)
}

func TestOpenAIProvider_MalformedResponse(t *testing.T) {
	client := &MockChatClient{}
	client.AddResponse(openai.ChatCompletionResponse{}, nil)

	p := NewOpenAIProviderWithClient(client, Config{})
	_, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	assert.Equal(t, ErrorCodeMalformedResponse, ErrorCode(err))
}

func TestOpenAIProvider_ContextDeadline(t *testing.T) {
	client := &MockChatClient{}
	client.AddResponse(openai.ChatCompletionResponse{}, context.DeadlineExceeded)

	p := NewOpenAIProviderWithClient(client, Config{})
	_, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	assert.Equal(t, ErrorCodeTimeout, ErrorCode(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIProvider_TruncatedToolArguments(t *testing.T) {
	client := &MockChatClient{}
	client.AddResponse(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: openai.FinishReasonToolCalls,
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "create_todo", Arguments: `{"title":"buy`},
				}},
			},
		}},
	}, nil)
	client.AddResponse(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "Which title?"}}},
	}, nil)

	p := NewOpenAIProviderWithClient(client, Config{})
	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "add buy milk"}}})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)

	args := resp.ToolCalls[0].Function.Arguments
	require.True(t, json.Valid(args))
	var text string
	require.NoError(t, json.Unmarshal(args, &text))
	assert.Equal(t, `{"title":"buy`, text)

	_, err = json.Marshal(resp)
	require.NoError(t, err)

	// The follow-up request replays the original text to the model.
	_, err = p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{
		{Role: RoleUser, Content: "add buy milk"},
		{Role: RoleAssistant, ToolCalls: resp.ToolCalls},
		{Role: RoleTool, ToolCallID: "call_1", Content: `{"error":"invalid arguments"}`},
	}})
	require.NoError(t, err)
	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, `{"title":"buy`, calls[1].Messages[1].ToolCalls[0].Function.Arguments)
}
