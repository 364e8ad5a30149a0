package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel    = "gemini-2.5-flash"
	geminiClientTimeout   = 30 * time.Second
	defaultVertexLocation = "us-central1"
)

func init() {
	RegisterFactory("gemini", func(ctx context.Context, cfg Config) (Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini: api key not set (GEMINI_API_KEY)")
		}
		return NewGeminiProvider(ctx, cfg)
	})
	RegisterFactory("vertexai", func(ctx context.Context, cfg Config) (Provider, error) {
		if cfg.Project == "" {
			return nil, fmt.Errorf("vertexai: project not set (GOOGLE_CLOUD_PROJECT)")
		}
		cfg.APIKey = ""
		return NewGeminiProvider(ctx, cfg)
	})
}

// GenerateContentAPI is the subset of genai.Models the provider uses.
type GenerateContentAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements Provider for Gemini through the Gen AI SDK,
// either against the Gemini API (API key) or Vertex AI (ADC).
type GeminiProvider struct {
	models GenerateContentAPI
	name   string
	model  string
	retry  RetryPolicy
}

// NewGeminiProvider creates a Gemini provider. With an API key it talks to
// the Gemini API; otherwise to Vertex AI in cfg.Project.
func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiClientTimeout)
	defer cancel()

	clientCfg := &genai.ClientConfig{}
	name := "gemini"
	if cfg.APIKey != "" {
		clientCfg.APIKey = cfg.APIKey
		clientCfg.Backend = genai.BackendGeminiAPI
	} else {
		location := cfg.Location
		if location == "" {
			location = defaultVertexLocation
		}
		clientCfg.Project = cfg.Project
		clientCfg.Location = location
		clientCfg.Backend = genai.BackendVertexAI
		name = "vertexai"
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gen AI client: %w", err)
	}
	return NewGeminiProviderWithModels(client.Models, name, cfg), nil
}

// NewGeminiProviderWithModels creates a provider around an existing client.
func NewGeminiProviderWithModels(models GenerateContentAPI, name string, cfg Config) *GeminiProvider {
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{
		models: models,
		name:   name,
		model:  model,
		retry:  cfg.retryPolicy(),
	}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return p.name
}

// CreateCompletion creates a completion using the Gen AI SDK
func (p *GeminiProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents, system, err := buildGeminiContents(req.Messages)
	if err != nil {
		return nil, NewProviderError(p.name, ErrorCodeInvalidRequest, err.Error(), err)
	}
	config.SystemInstruction = system
	if len(req.Tools) > 0 {
		config.Tools = buildGeminiTools(req.Tools)
	}

	var resp *genai.GenerateContentResponse
	err = p.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = p.models.GenerateContent(ctx, model, contents, config)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.parseResponse(resp)
}

// buildGeminiContents converts messages to Gen AI contents. Consecutive
// tool messages are merged into one user turn of function responses.
func buildGeminiContents(messages []Message) ([]*genai.Content, *genai.Content, error) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)

		case RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))

		case RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := argumentsObject(tc.Function.Arguments)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: args,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})

		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: toolResponseMap(m.Content),
			}}
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{part}})

		default:
			return nil, nil, fmt.Errorf("unsupported role %q", m.Role)
		}
	}
	return contents, system, nil
}

func isFunctionResponseTurn(c *genai.Content) bool {
	return c.Role == string(genai.RoleUser) && len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

// toolResponseMap wraps a tool message body in the object Gemini expects.
func toolResponseMap(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"output": content}
}

func buildGeminiTools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.Parameters,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *GeminiProvider) parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, NewProviderError(p.name, ErrorCodeMalformedResponse, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	out := &CompletionResponse{FinishReason: strings.ToLower(string(candidate.FinishReason))}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, NewProviderError(p.name, ErrorCodeContentFiltered, "response blocked by safety filters", nil)
	}

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text.WriteString(part.Text)
			if part.FunctionCall == nil {
				continue
			}
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, NewProviderError(p.name, ErrorCodeMalformedResponse, "unencodable function call arguments", err)
			}
			if part.FunctionCall.Args == nil {
				args = json.RawMessage("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   id,
				Type: "function",
				Function: FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: args,
				},
			})
		}
	}
	out.Content = text.String()

	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// wrapError converts Gen AI errors to ProviderError
func (p *GeminiProvider) wrapError(err error) error {
	if ce := contextError(p.name, err); ce != nil {
		return ce
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return p.apiError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return p.apiError(*apiErrPtr, err)
	}

	return NewProviderError(p.name, ErrorCodeServerError, err.Error(), err)
}

func (p *GeminiProvider) apiError(apiErr genai.APIError, original error) *ProviderError {
	code := codeForStatus(apiErr.Code)
	if apiErr.Status == "RESOURCE_EXHAUSTED" {
		code = ErrorCodeRateLimit
	}
	pe := NewProviderError(p.name, code, apiErr.Message, original)
	pe.StatusCode = apiErr.Code
	return pe
}
