package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/todo-assistant/internal/observability"
	metrics "github.com/aixgo-dev/todo-assistant/pkg/observability"
	"github.com/aixgo-dev/todo-assistant/pkg/session"
	"github.com/aixgo-dev/todo-assistant/pkg/todo"
)

// recentLimit is how many todos get_user_context returns.
const recentLimit = 5

// userIDKeys are argument keys a model may use to smuggle another identity.
var userIDKeys = []string{"user_id", "userId"}

// Call is one tool invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result is the outcome of a Call. Error holds a sanitized message that is
// safe to show to the model and the client.
type Result struct {
	CallID  string
	Name    string
	Status  string
	Payload json.RawMessage
	Error   string
	Kind    ErrorKind
}

// ToolResult converts r to its persisted form.
func (r Result) ToolResult() session.ToolResult {
	return session.ToolResult{
		CallID:  r.CallID,
		Name:    r.Name,
		Status:  r.Status,
		Payload: r.Payload,
		Error:   r.Error,
	}
}

type handler func(ctx context.Context, userID string, args Args) (any, error)

// Options tunes an Executor.
type Options struct {
	// Concurrency bounds parallel calls in ExecuteBatch. Values below 1 mean 1.
	Concurrency int
	// Timeout bounds a single call. Zero disables the per-call deadline.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Executor validates model-issued tool calls and runs them against the
// todo store, always scoped to the authenticated user.
type Executor struct {
	registry *Registry
	store    todo.Store
	handlers map[Name]handler
	opts     Options
	logger   *slog.Logger
}

// NewExecutor binds every registered tool to its store operation.
func NewExecutor(registry *Registry, store todo.Store, opts Options) *Executor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		registry: registry,
		store:    store,
		opts:     opts,
		logger:   logger.With("component", "tools"),
	}
	e.handlers = map[Name]handler{
		ListTodos:      e.listTodos,
		AddTodo:        e.addTodo,
		UpdateTodo:     e.updateTodo,
		DeleteTodo:     e.deleteTodo,
		ToggleTodo:     e.toggleTodo,
		GetUserContext: e.getUserContext,
	}
	return e
}

// Registry returns the catalog the executor dispatches over.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Invoke runs a single tool and returns its raw payload. Errors are
// ErrUnknownTool, *InvalidArgumentsError or whatever the store returned.
func (e *Executor) Invoke(ctx context.Context, userID, name string, raw json.RawMessage) (any, error) {
	def, ok := e.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	h, ok := e.handlers[def.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	args, err := decodeArgs(raw)
	if err != nil {
		return nil, err
	}
	e.stripUserID(userID, def.Name, args)

	if err := def.Schema.Validate(args); err != nil {
		return nil, err
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	return h(ctx, userID, args)
}

// Execute runs call and folds any failure into the Result.
func (e *Executor) Execute(ctx context.Context, userID string, call Call) Result {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "tool.execute",
		observability.Attr("tool.name", call.Name),
		observability.Attr("tool.call_id", call.ID),
	)

	res := Result{CallID: call.ID, Name: call.Name}
	payload, err := e.Invoke(ctx, userID, call.Name, call.Arguments)
	if err == nil {
		res.Payload, err = json.Marshal(payload)
	}

	if err != nil {
		res.Status = session.StatusError
		res.Kind, res.Error = classify(err)
		e.logger.Warn("tool call failed",
			"tool", call.Name,
			"user_id", userID,
			"call_id", call.ID,
			"kind", res.Kind,
			"error", err,
		)
	} else {
		res.Status = session.StatusSuccess
		e.logger.Debug("tool call succeeded", "tool", call.Name, "user_id", userID, "call_id", call.ID)
	}

	span.SetAttributes(observability.Attr("tool.status", res.Status))
	observability.EndSpan(span, err)
	metrics.RecordToolCall(metricName(call.Name, res.Kind), res.Status, time.Since(start))
	return res
}

// ExecuteBatch runs calls with bounded concurrency. Results come back in
// call order and each carries the CallID it answers.
func (e *Executor) ExecuteBatch(ctx context.Context, userID string, calls []Call) []Result {
	results := make([]Result, len(calls))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, userID, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func decodeArgs(raw json.RawMessage) (Args, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Args{}, nil
	}
	// Some models double-encode arguments as a JSON string.
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, invalidArg("", "arguments are not valid JSON")
		}
		return decodeArgs(json.RawMessage(inner))
	}
	if trimmed[0] != '{' {
		return nil, invalidArg("", "arguments must be a JSON object")
	}

	var args Args
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, invalidArg("", "arguments are not valid JSON")
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

func (e *Executor) stripUserID(userID string, tool Name, args Args) {
	for _, key := range userIDKeys {
		v, ok := args[key]
		if !ok {
			continue
		}
		delete(args, key)
		if s, isString := v.(string); !isString || s != userID {
			e.logger.Warn("ignoring user id supplied in tool arguments",
				"tool", tool,
				"user_id", userID,
				"argument", key,
				"suspected_injection", true,
			)
		}
	}
}

// classify maps an error to its kind and a message safe to hand back.
func classify(err error) (ErrorKind, string) {
	var invalid *InvalidArgumentsError
	switch {
	case errors.Is(err, ErrUnknownTool):
		return KindUnknownTool, "unknown tool"
	case errors.As(err, &invalid):
		return KindInvalidArguments, invalid.Error()
	case errors.Is(err, todo.ErrNotFound):
		return KindNotFound, "todo not found"
	case errors.Is(err, todo.ErrInvalid):
		return KindConstraint, "todo violates a field constraint"
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, "tool timed out"
	default:
		return KindInternal, "internal error while running tool"
	}
}

// metricName keeps label cardinality bounded when the model invents names.
func metricName(name string, kind ErrorKind) string {
	if kind == KindUnknownTool {
		return "unknown"
	}
	return name
}

func (e *Executor) listTodos(ctx context.Context, userID string, args Args) (any, error) {
	opts := todo.ListOptions{
		Status: todo.StatusFilter(args.String("status")),
		Limit:  args.Int("limit", todo.DefaultPageSize),
		Offset: args.Int("offset", 0),
	}.Normalize()

	page, err := e.store.List(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"todos": page.Todos,
		"pagination": map[string]any{
			"total":    page.Total,
			"limit":    page.Limit,
			"offset":   page.Offset,
			"has_more": page.HasMore,
		},
	}, nil
}

func (e *Executor) addTodo(ctx context.Context, userID string, args Args) (any, error) {
	return e.store.Create(ctx, userID, todo.Draft{
		Title:       args.String("title"),
		Description: args.String("description"),
	})
}

func (e *Executor) updateTodo(ctx context.Context, userID string, args Args) (any, error) {
	patch := todo.Patch{
		Title:       args.OptString("title"),
		Description: args.OptString("description"),
		Completed:   args.OptBool("completed"),
	}
	if patch.Empty() {
		return nil, invalidArg("", "at least one of title, description or completed is required")
	}
	return e.store.Update(ctx, userID, args.String("todo_id"), patch)
}

func (e *Executor) deleteTodo(ctx context.Context, userID string, args Args) (any, error) {
	deleted, err := e.store.Delete(ctx, userID, args.String("todo_id"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"deleted": true,
		"todo_id": deleted.ID,
		"title":   deleted.Title,
	}, nil
}

func (e *Executor) toggleTodo(ctx context.Context, userID string, args Args) (any, error) {
	return e.store.Toggle(ctx, userID, args.String("todo_id"))
}

func (e *Executor) getUserContext(ctx context.Context, userID string, _ Args) (any, error) {
	return e.store.Summary(ctx, userID, recentLimit)
}
