package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultBedrockModel = "anthropic.claude-3-5-haiku-20241022-v1:0"

func init() {
	RegisterFactory("bedrock", func(ctx context.Context, cfg Config) (Provider, error) {
		return NewBedrockProvider(ctx, cfg)
	})
}

// ConverseAPI is the subset of the Bedrock runtime client the provider uses.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockProvider implements Provider for AWS Bedrock through the Converse API.
type BedrockProvider struct {
	client ConverseAPI
	model  string
	retry  RetryPolicy
}

// NewBedrockProvider loads AWS credentials from the default chain.
func NewBedrockProvider(ctx context.Context, cfg Config) (*BedrockProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region not set (AWS_REGION)")
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
		// Retries are handled by RetryPolicy.
		o.RetryMaxAttempts = 1
	})
	return NewBedrockProviderWithClient(client, cfg), nil
}

// NewBedrockProviderWithClient creates a provider around an existing client.
func NewBedrockProviderWithClient(client ConverseAPI, cfg Config) *BedrockProvider {
	model := cfg.Model
	if model == "" {
		model = defaultBedrockModel
	}
	return &BedrockProvider{
		client: client,
		model:  model,
		retry:  cfg.retryPolicy(),
	}
}

// Name returns the provider name
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// CreateCompletion creates a completion through Converse.
func (p *BedrockProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages, system, err := buildBedrockMessages(req.Messages)
	if err != nil {
		return nil, NewProviderError(p.Name(), ErrorCodeInvalidRequest, err.Error(), err)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: messages,
		System:   system,
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		input.ToolConfig, err = buildBedrockTools(req.Tools)
		if err != nil {
			return nil, NewProviderError(p.Name(), ErrorCodeInvalidRequest, err.Error(), err)
		}
	}

	var out *bedrockruntime.ConverseOutput
	err = p.retry.do(ctx, func() error {
		var callErr error
		out, callErr = p.client.Converse(ctx, input)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.parseResponse(out)
}

// buildBedrockMessages converts messages to Converse messages. Tool
// results travel in a user message; consecutive ones are merged.
func buildBedrockMessages(msgs []Message) ([]types.Message, []types.SystemContentBlock, error) {
	var system []types.SystemContentBlock
	out := make([]types.Message, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Content})

		case RoleUser:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})

		case RoleAssistant:
			var blocks []types.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := argumentsObject(tc.Function.Arguments)
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Function.Name),
					Input:     document.NewLazyDocument(args),
				}})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})

		case RoleTool:
			block := &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: m.Content},
				},
			}}
			if n := len(out); n > 0 && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{block},
			})

		default:
			return nil, nil, fmt.Errorf("unsupported role %q", m.Role)
		}
	}
	return out, system, nil
}

func isToolResultTurn(m types.Message) bool {
	if m.Role != types.ConversationRoleUser || len(m.Content) == 0 {
		return false
	}
	_, ok := m.Content[0].(*types.ContentBlockMemberToolResult)
	return ok
}

func buildBedrockTools(tools []Tool) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		specs[i] = &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}}
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func (p *BedrockProvider) parseResponse(out *bedrockruntime.ConverseOutput) (*CompletionResponse, error) {
	if out == nil {
		return nil, NewProviderError(p.Name(), ErrorCodeMalformedResponse, "empty response", nil)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, NewProviderError(p.Name(), ErrorCodeMalformedResponse, "response carries no message", nil)
	}
	if out.StopReason == types.StopReasonContentFiltered || out.StopReason == types.StopReasonGuardrailIntervened {
		return nil, NewProviderError(p.Name(), ErrorCodeContentFiltered, "response blocked by content filters", nil)
	}

	resp := &CompletionResponse{FinishReason: string(out.StopReason)}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *types.ContentBlockMemberToolUse:
			args := json.RawMessage("{}")
			if b.Value.Input != nil {
				var decoded any
				if err := b.Value.Input.UnmarshalSmithyDocument(&decoded); err != nil {
					return nil, NewProviderError(p.Name(), ErrorCodeMalformedResponse, "undecodable tool input", err)
				}
				if decoded != nil {
					raw, err := json.Marshal(decoded)
					if err != nil {
						return nil, NewProviderError(p.Name(), ErrorCodeMalformedResponse, "unencodable tool input", err)
					}
					args = raw
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   aws.ToString(b.Value.ToolUseId),
				Type: "function",
				Function: FunctionCall{
					Name:      aws.ToString(b.Value.Name),
					Arguments: args,
				},
			})
		}
	}
	resp.Content = text.String()

	if out.Usage != nil {
		resp.Usage = Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

// wrapError converts Bedrock runtime exceptions to ProviderError
func (p *BedrockProvider) wrapError(err error) error {
	if ce := contextError(p.Name(), err); ce != nil {
		return ce
	}

	var (
		throttling  *types.ThrottlingException
		validation  *types.ValidationException
		denied      *types.AccessDeniedException
		notFound    *types.ResourceNotFoundException
		timeout     *types.ModelTimeoutException
		internal    *types.InternalServerException
		unavailable *types.ServiceUnavailableException
	)

	code := ErrorCodeServerError
	switch {
	case errors.As(err, &throttling):
		code = ErrorCodeRateLimit
	case errors.As(err, &validation):
		code = ErrorCodeInvalidRequest
	case errors.As(err, &denied):
		code = ErrorCodeAuthentication
	case errors.As(err, &notFound):
		code = ErrorCodeModelNotFound
	case errors.As(err, &timeout):
		code = ErrorCodeTimeout
	case errors.As(err, &internal), errors.As(err, &unavailable):
		code = ErrorCodeServerError
	}
	return NewProviderError(p.Name(), code, err.Error(), err)
}
