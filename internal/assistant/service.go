// Package assistant runs chat turns: it persists the user's message, asks
// the model for a reply, executes at most one round of requested tools
// against the user's todos and persists the outcome.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aixgo-dev/todo-assistant/internal/llm/provider"
	"github.com/aixgo-dev/todo-assistant/internal/logging"
	"github.com/aixgo-dev/todo-assistant/internal/observability"
	metrics "github.com/aixgo-dev/todo-assistant/pkg/observability"
	"github.com/aixgo-dev/todo-assistant/pkg/session"
	"github.com/aixgo-dev/todo-assistant/pkg/tools"
)

// reasonEmptyReply marks a model response with neither text nor tool calls.
const reasonEmptyReply = "empty_reply"

// ChatResult is the outcome of one turn.
type ChatResult struct {
	SessionID     string               `json:"conversation_id"`
	MessageID     string               `json:"message_id"`
	Reply         string               `json:"response"`
	ToolCalls     []session.ToolCall   `json:"tool_calls"`
	ToolResults   []session.ToolResult `json:"tool_results"`
	Timestamp     time.Time            `json:"timestamp"`
	UsingFallback bool                 `json:"using_fallback"`

	// Failure is set when UsingFallback is true.
	Failure *ModelFailure `json:"-"`
}

// Service is the orchestration loop. It keeps no per-session state; every
// turn reads fresh history, so any instance can serve any turn.
type Service struct {
	cfg      Config
	sessions *session.Manager
	executor *tools.Executor
	model    provider.Provider
	fallback FallbackResponder
	logger   *slog.Logger

	system string
	tools  []provider.Tool
}

// Option configures a Service.
type Option func(*Service)

// WithFallback replaces the StaticFallback responder.
func WithFallback(f FallbackResponder) Option {
	return func(s *Service) { s.fallback = f }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires the loop to its collaborators.
func NewService(cfg Config, sessions *session.Manager, executor *tools.Executor, model provider.Provider, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sessions == nil || executor == nil || model == nil {
		return nil, errors.New("assistant: sessions, executor and model are required")
	}

	defs := executor.Registry().List()
	s := &Service{
		cfg:      cfg,
		sessions: sessions,
		executor: executor,
		model:    model,
		fallback: StaticFallback{},
		logger:   slog.Default(),
		system:   systemPrompt(cfg.SystemPrompt, defs),
		tools:    providerTools(defs),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "assistant")
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Sessions returns the conversation store the service writes to.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// HandleTurn processes one user message. An empty sessionID starts a new
// conversation owned by userID.
//
// Model failures do not fail the turn when fallback is enabled: the reply
// comes from the FallbackResponder and UsingFallback is set. Conversation
// store failures are returned as *StorageError. Once input validation
// passes the turn runs to completion even if ctx is canceled.
func (s *Service) HandleTurn(ctx context.Context, userID, text, sessionID string) (*ChatResult, error) {
	start := time.Now()
	res, err := s.handleTurn(ctx, userID, text, sessionID)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong), errors.Is(err, ErrInvalidSessionID):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	case res.UsingFallback:
		outcome = "fallback"
	}
	metrics.RecordTurn(outcome, time.Since(start))
	return res, err
}

func (s *Service) handleTurn(ctx context.Context, userID, text, sessionID string) (*ChatResult, error) {
	if userID == "" {
		return nil, session.ErrForbidden
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxMessageLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", ErrMessageTooLong, n, s.cfg.MaxMessageLength)
	}
	if sessionID != "" {
		if _, err := uuid.Parse(sessionID); err != nil {
			return nil, ErrInvalidSessionID
		}
	}
	text = strings.TrimSpace(text)

	ctx = context.WithoutCancel(ctx)
	ctx, span := observability.StartSpan(ctx, "assistant.turn",
		observability.Attr("user.id", userID),
		observability.Attr("message.runes", utf8.RuneCountInString(text)),
	)
	res, err := s.runTurn(ctx, userID, text, sessionID)
	if res != nil {
		span.SetAttributes(
			observability.Attr("session.id", res.SessionID),
			observability.Attr("turn.tool_calls", len(res.ToolCalls)),
			observability.Attr("turn.fallback", res.UsingFallback),
		)
	}
	observability.EndSpan(span, err)
	return res, err
}

func (s *Service) runTurn(ctx context.Context, userID, text, sessionID string) (*ChatResult, error) {
	started := time.Now()
	log := logging.FromContext(ctx, s.logger)
	if logging.UserID(ctx) != userID {
		log = log.With("user_id", userID)
	}

	sess, created, err := s.sessions.GetOrCreate(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrForbidden) || errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
		return nil, &StorageError{Op: "resolve session", Err: err}
	}
	log = log.With("session_id", sess.ID)
	if created {
		log.Info("conversation started")
	}

	if _, err := s.sessions.Append(ctx, sess.ID, &session.Message{Role: session.RoleUser, Content: text}); err != nil {
		return nil, &StorageError{Op: "append user message", Err: err}
	}

	history, err := s.sessions.History(ctx, sess.ID, s.cfg.HistoryLimit)
	if err != nil {
		return nil, &StorageError{Op: "load history", Err: err}
	}
	prompt := buildPrompt(s.system, history)

	res := &ChatResult{SessionID: sess.ID}
	resp, failure := s.complete(ctx, StageInitial, prompt)

	switch {
	case failure != nil:
		if err := s.degrade(res, failure, log); err != nil {
			return nil, err
		}

	case len(resp.ToolCalls) == 0:
		res.Reply = resp.Content

	default:
		calls := s.normalizeCalls(resp.ToolCalls)
		results := s.runTools(ctx, userID, calls)
		res.ToolCalls = calls
		res.ToolResults = results

		if _, err := s.sessions.Append(ctx, sess.ID, &session.Message{
			Role:        session.RoleTool,
			ToolResults: results,
		}); err != nil {
			return nil, &StorageError{Op: "append tool results", Err: err}
		}

		followUp := append(prompt, toolExchange(calls, results)...)
		resp, failure = s.complete(ctx, StageFollowUp, followUp)
		switch {
		case failure != nil:
			if err := s.degrade(res, failure, log); err != nil {
				return nil, err
			}
		default:
			if len(resp.ToolCalls) > 0 {
				log.Warn("ignoring tool calls from follow-up response", "tool_calls", len(resp.ToolCalls))
			}
			res.Reply = resp.Content
		}
	}

	stored, err := s.sessions.Append(ctx, sess.ID, &session.Message{
		Role:      session.RoleAssistant,
		Content:   res.Reply,
		ToolCalls: res.ToolCalls,
	})
	if err != nil {
		return nil, &StorageError{Op: "append reply", Err: err}
	}
	res.MessageID = stored.ID
	res.Timestamp = stored.CreatedAt

	log.Info("turn completed",
		"tool_calls", len(res.ToolCalls),
		"fallback", res.UsingFallback,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

// complete calls the model with the tool catalog under the per-call
// timeout. A response with neither text nor tool calls is a failure.
func (s *Service) complete(ctx context.Context, stage FailureStage, msgs []provider.Message) (*provider.CompletionResponse, *ModelFailure) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	resp, err := s.model.CreateCompletion(ctx, provider.CompletionRequest{
		Messages:    msgs,
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Tools:       s.tools,
	})
	if err != nil {
		return nil, &ModelFailure{Stage: stage, Reason: provider.ErrorCode(err), Err: err}
	}
	if resp == nil {
		return nil, &ModelFailure{Stage: stage, Reason: provider.ErrorCodeMalformedResponse}
	}
	if strings.TrimSpace(resp.Content) == "" && (stage == StageFollowUp || len(resp.ToolCalls) == 0) {
		return nil, &ModelFailure{Stage: stage, Reason: reasonEmptyReply}
	}
	return resp, nil
}

// degrade fills res from the fallback responder, or reports
// ErrModelUnavailable when fallback is disabled.
func (s *Service) degrade(res *ChatResult, failure *ModelFailure, log *slog.Logger) error {
	log.Warn("model call failed", "stage", failure.Stage, "reason", failure.Reason, "error", failure.Err)
	if !s.cfg.FallbackEnabled {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, failure)
	}
	metrics.RecordFallback(failure.Reason)
	res.Reply = s.fallback.Respond(failure, res.ToolResults)
	res.UsingFallback = true
	res.Failure = failure
	return nil
}

// normalizeCalls converts model tool calls, filling in missing call ids and
// keeping arguments valid JSON so the turn can always be persisted.
func (s *Service) normalizeCalls(calls []provider.ToolCall) []session.ToolCall {
	out := make([]session.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" || seen[id] {
			id = "call_" + uuid.NewString()
		}
		seen[id] = true
		out[i] = session.ToolCall{ID: id, Name: c.Function.Name, Arguments: provider.NormalizeArguments(c.Function.Arguments)}
	}
	return out
}

// runTools executes the first MaxToolCalls calls as a batch. The rest are
// answered with an error so every call id still gets a result.
func (s *Service) runTools(ctx context.Context, userID string, calls []session.ToolCall) []session.ToolResult {
	n := min(len(calls), s.cfg.MaxToolCalls)
	batch := make([]tools.Call, n)
	for i, c := range calls[:n] {
		batch[i] = tools.Call{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}

	results := make([]session.ToolResult, 0, len(calls))
	for _, r := range s.executor.ExecuteBatch(ctx, userID, batch) {
		results = append(results, r.ToolResult())
	}
	for _, c := range calls[n:] {
		results = append(results, session.ToolResult{
			CallID: c.ID,
			Name:   c.Name,
			Status: session.StatusError,
			Error:  "too many tool calls in one turn; this call was skipped",
		})
	}
	return results
}
