package provider

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	responses []*genai.GenerateContentResponse
	errs      []error

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	calls    int
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.model, f.contents, f.config = model, contents, config
	if i >= len(f.responses) {
		return nil, f.errs[len(f.errs)-1]
	}
	return f.responses[i], f.errs[i]
}

func geminiText(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 3,
			TotalTokenCount:      15,
		},
	}
}

func TestBuildGeminiContents(t *testing.T) {
	msgs := append(toolRoundTrip(),
		Message{Role: RoleTool, ToolCallID: "call_9", Name: "get_user_context", Content: "not json"},
		Message{Role: RoleAssistant, Content: "You have no todos."},
	)

	contents, system, err := buildGeminiContents(msgs)
	require.NoError(t, err)

	require.NotNil(t, system)
	assert.Equal(t, "You manage todos.", system.Parts[0].Text)

	require.Len(t, contents, 4)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)

	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	call := contents[1].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, map[string]any{"status": "all"}, call.Args)

	// Both tool messages land in one user turn.
	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "list_todos", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, map[string]any{"todos": []any{}}, contents[2].Parts[0].FunctionResponse.Response)
	assert.Equal(t, map[string]any{"output": "not json"}, contents[2].Parts[1].FunctionResponse.Response)

	assert.Equal(t, "You have no todos.", contents[3].Parts[0].Text)
}

func TestBuildGeminiContents_RejectsUnknownRole(t *testing.T) {
	_, _, err := buildGeminiContents([]Message{{Role: "narrator", Content: "x"}})
	assert.Error(t, err)
}

func TestGeminiProvider_CreateCompletion(t *testing.T) {
	models := &fakeModels{
		responses: []*genai.GenerateContentResponse{geminiText("Hello!")},
		errs:      []error{nil},
	}
	p := NewGeminiProviderWithModels(models, "gemini", Config{})

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		Tools:       testTools,
		Temperature: 0.3,
		MaxTokens:   128,
	})
	require.NoError(t, err)

	assert.Equal(t, defaultGeminiModel, models.model)
	assert.Equal(t, int32(128), models.config.MaxOutputTokens)
	require.Len(t, models.config.Tools, 1)
	decl := models.config.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "list_todos", decl.Name)
	assert.JSONEq(t, string(testTools[0].Parameters), string(decl.ParametersJsonSchema.(json.RawMessage)))

	assert.Equal(t, "Hello!", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestGeminiProvider_FunctionCalls(t *testing.T) {
	models := &fakeModels{
		responses: []*genai.GenerateContentResponse{{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Role: string(genai.RoleModel), Parts: []*genai.Part{
					{Text: "thinking about it", Thought: true},
					{FunctionCall: &genai.FunctionCall{Name: "add_todo", Args: map[string]any{"title": "walk dog"}}},
					{FunctionCall: &genai.FunctionCall{ID: "fc-2", Name: "get_user_context"}},
				}},
			}},
		}},
		errs: []error{nil},
	}
	p := NewGeminiProviderWithModels(models, "gemini", Config{})

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "add walk dog"}}})
	require.NoError(t, err)

	assert.Empty(t, resp.Content)
	require.Len(t, resp.ToolCalls, 2)
	assert.True(t, strings.HasPrefix(resp.ToolCalls[0].ID, "call_"))
	assert.JSONEq(t, `{"title":"walk dog"}`, string(resp.ToolCalls[0].Function.Arguments))
	assert.Equal(t, "fc-2", resp.ToolCalls[1].ID)
	assert.JSONEq(t, `{}`, string(resp.ToolCalls[1].Function.Arguments))
}

func TestGeminiProvider_Errors(t *testing.T) {
	tests := []struct {
		name     string
		resp     *genai.GenerateContentResponse
		err      error
		wantCode string
	}{
		{
			name:     "no candidates",
			resp:     &genai.GenerateContentResponse{},
			wantCode: ErrorCodeMalformedResponse,
		},
		{
			name: "safety block",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonSafety,
			}}},
			wantCode: ErrorCodeContentFiltered,
		},
		{
			name:     "quota",
			err:      genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"},
			wantCode: ErrorCodeRateLimit,
		},
		{
			name:     "bad request",
			err:      genai.APIError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad"},
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantCode: ErrorCodeTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{
				responses: []*genai.GenerateContentResponse{tt.resp},
				errs:      []error{tt.err},
			}
			p := NewGeminiProviderWithModels(models, "vertexai", Config{})

			_, err := p.CreateCompletion(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ErrorCode(err))
			assert.Equal(t, 1, models.calls)
		})
	}
}
