package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/todo-assistant/internal/llm/cost"
	"github.com/aixgo-dev/todo-assistant/pkg/security"
)

// MockProvider is a testify mock of Provider.
type MockProvider struct {
	mock.Mock
	name string
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*CompletionResponse)
	return resp, args.Error(1)
}

func TestInstrumentedProvider_PassesThrough(t *testing.T) {
	inner := &MockProvider{name: "openai"}
	inner.On("CreateCompletion", mock.Anything, mock.Anything).Return(&CompletionResponse{
		Content: "ok",
		Usage:   Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}, nil).Once()

	p := NewInstrumentedProvider(inner, InstrumentedConfig{Calculator: cost.NewCalculator(), Model: "gpt-4o-mini"})
	assert.Equal(t, "openai", p.Name())
	assert.Same(t, inner, p.Unwrap())

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	inner.AssertExpectations(t)
}

func TestInstrumentedProvider_ReturnsProviderErrors(t *testing.T) {
	inner := &MockProvider{name: "instrumented-failure"}
	inner.On("CreateCompletion", mock.Anything, mock.Anything).
		Return(nil, NewProviderError("instrumented-failure", ErrorCodeRateLimit, "slow down", nil))

	p := NewInstrumentedProvider(inner, InstrumentedConfig{})
	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{})
	assert.Nil(t, resp)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCodeRateLimit, pe.Code)
	assert.True(t, pe.IsRetryable)
}

func TestInstrumentedProvider_CircuitOpens(t *testing.T) {
	inner := &MockProvider{name: "openai"}
	inner.On("CreateCompletion", mock.Anything, mock.Anything).
		Return(nil, NewProviderError("openai", ErrorCodeServerError, "boom", nil)).Times(2)

	breaker := security.NewCircuitBreaker(2, time.Minute)
	p := NewInstrumentedProvider(inner, InstrumentedConfig{Breaker: breaker})

	for range 2 {
		_, err := p.CreateCompletion(context.Background(), CompletionRequest{})
		assert.Equal(t, ErrorCodeServerError, ErrorCode(err))
	}

	_, err := p.CreateCompletion(context.Background(), CompletionRequest{})
	assert.Equal(t, ErrorCodeCircuitOpen, ErrorCode(err))
	assert.True(t, errors.Is(err, security.ErrCircuitOpen))
	inner.AssertNumberOfCalls(t, "CreateCompletion", 2)
}

func TestInstrumentedProvider_RejectedRequestsDoNotTrip(t *testing.T) {
	inner := &MockProvider{name: "openai"}
	inner.On("CreateCompletion", mock.Anything, mock.Anything).
		Return(nil, NewProviderError("openai", ErrorCodeInvalidRequest, "bad schema", nil))

	breaker := security.NewCircuitBreaker(1, time.Minute)
	p := NewInstrumentedProvider(inner, InstrumentedConfig{Breaker: breaker})

	for range 3 {
		_, err := p.CreateCompletion(context.Background(), CompletionRequest{})
		assert.Equal(t, ErrorCodeInvalidRequest, ErrorCode(err))
	}
	assert.Equal(t, security.CircuitClosed, breaker.GetState())
}

func TestCountsAgainstBreaker(t *testing.T) {
	assert.True(t, countsAgainstBreaker(NewProviderError("x", ErrorCodeTimeout, "", nil)))
	assert.True(t, countsAgainstBreaker(errors.New("network")))
	assert.False(t, countsAgainstBreaker(context.Canceled))
	assert.False(t, countsAgainstBreaker(NewProviderError("x", ErrorCodeContentFiltered, "", nil)))
}
