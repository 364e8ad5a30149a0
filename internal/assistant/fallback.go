package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aixgo-dev/todo-assistant/pkg/session"
	"github.com/aixgo-dev/todo-assistant/pkg/tools"
)

// FailureStage says which model call of a turn went wrong.
type FailureStage string

const (
	StageInitial  FailureStage = "initial"
	StageFollowUp FailureStage = "follow_up"
)

// ModelFailure describes why the model path produced no usable reply.
// Reason is a provider error code, or "empty_reply" when the follow-up
// call returned no text.
type ModelFailure struct {
	Stage  FailureStage
	Reason string
	Err    error
}

func (f *ModelFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("model %s call: %s", f.Stage, f.Reason)
	}
	return fmt.Sprintf("model %s call: %s: %v", f.Stage, f.Reason, f.Err)
}

func (f *ModelFailure) Unwrap() error {
	return f.Err
}

// FallbackResponder produces a deterministic reply when the model fails.
// results holds the tool results of the turn, if tools already ran.
type FallbackResponder interface {
	Respond(failure *ModelFailure, results []session.ToolResult) string
}

// StaticFallback apologizes and, when tools ran, summarizes what they did.
type StaticFallback struct{}

const (
	apology      = "Sorry, I can't reach the assistant model right now. Please try again in a moment."
	partialIntro = "I couldn't finish my reply, but here is what I did:"
)

// Respond implements FallbackResponder.
func (StaticFallback) Respond(_ *ModelFailure, results []session.ToolResult) string {
	if len(results) == 0 {
		return apology
	}

	var b strings.Builder
	b.WriteString(partialIntro)
	for _, r := range results {
		b.WriteString("\n- ")
		b.WriteString(describeResult(r))
	}
	return b.String()
}

func describeResult(r session.ToolResult) string {
	if r.Status != session.StatusSuccess {
		return fmt.Sprintf("%s failed: %s.", r.Name, r.Error)
	}

	switch tools.Name(r.Name) {
	case tools.ListTodos:
		var page struct {
			Todos []struct {
				Title     string `json:"title"`
				Completed bool   `json:"completed"`
			} `json:"todos"`
			Pagination struct {
				Total int `json:"total"`
			} `json:"pagination"`
		}
		if json.Unmarshal(r.Payload, &page) != nil {
			break
		}
		if page.Pagination.Total == 0 {
			return "You have no matching todos."
		}
		titles := make([]string, len(page.Todos))
		for i, t := range page.Todos {
			mark := " "
			if t.Completed {
				mark = "x"
			}
			titles[i] = fmt.Sprintf("[%s] %s", mark, t.Title)
		}
		return fmt.Sprintf("Found %d todo(s): %s", page.Pagination.Total, strings.Join(titles, "; "))

	case tools.AddTodo, tools.UpdateTodo, tools.ToggleTodo:
		var t struct {
			Title     string `json:"title"`
			Completed bool   `json:"completed"`
		}
		if json.Unmarshal(r.Payload, &t) != nil {
			break
		}
		switch tools.Name(r.Name) {
		case tools.AddTodo:
			return fmt.Sprintf("Added %q.", t.Title)
		case tools.ToggleTodo:
			if t.Completed {
				return fmt.Sprintf("Marked %q as completed.", t.Title)
			}
			return fmt.Sprintf("Marked %q as not completed.", t.Title)
		default:
			return fmt.Sprintf("Updated %q.", t.Title)
		}

	case tools.DeleteTodo:
		var d struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(r.Payload, &d) != nil {
			break
		}
		return fmt.Sprintf("Deleted %q.", d.Title)

	case tools.GetUserContext:
		var s struct {
			Total     int `json:"total"`
			Completed int `json:"completed"`
			Pending   int `json:"pending"`
		}
		if json.Unmarshal(r.Payload, &s) != nil {
			break
		}
		return fmt.Sprintf("You have %d todo(s): %d completed, %d pending.", s.Total, s.Completed, s.Pending)
	}
	return fmt.Sprintf("%s succeeded.", r.Name)
}
