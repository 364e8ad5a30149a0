// Package tools holds the closed catalog of operations the model may invoke
// and the executor that runs them against a user-scoped todo store.
package tools

import (
	"encoding/json"

	"github.com/aixgo-dev/todo-assistant/pkg/todo"
)

// Name is the closed set of tool names.
type Name string

const (
	ListTodos      Name = "list_todos"
	AddTodo        Name = "add_todo"
	UpdateTodo     Name = "update_todo"
	DeleteTodo     Name = "delete_todo"
	ToggleTodo     Name = "toggle_todo"
	GetUserContext Name = "get_user_context"
)

// Definition advertises one tool to the model and validates its arguments.
type Definition struct {
	Name        Name
	Description string
	Schema      Schema
}

// Parameters returns the JSON Schema of the tool arguments.
func (d Definition) Parameters() json.RawMessage {
	return d.Schema.JSONSchema()
}

var todoIDField = Field{
	Type:        "string",
	Description: "ID of the todo, as returned by list_todos",
	Required:    true,
	MinLength:   1,
	MaxLength:   64,
}

// catalog is the registry content in advertised order.
var catalog = []Definition{
	{
		Name:        ListTodos,
		Description: "List the user's todos, newest first, optionally filtered by completion status.",
		Schema: Schema{
			"status": {
				Type:        "string",
				Description: "Which todos to include",
				Enum:        []string{string(todo.StatusAll), string(todo.StatusCompleted), string(todo.StatusIncomplete)},
				Default:     string(todo.StatusAll),
			},
			"limit": {
				Type:        "integer",
				Description: "Maximum number of todos to return",
				Minimum:     Float(1),
				Maximum:     Float(todo.MaxPageSize),
				Default:     todo.DefaultPageSize,
			},
			"offset": {
				Type:        "integer",
				Description: "Number of todos to skip",
				Minimum:     Float(0),
			},
		},
	},
	{
		Name:        AddTodo,
		Description: "Create a new todo for the user.",
		Schema: Schema{
			"title": {
				Type:        "string",
				Description: "Short title of the task",
				Required:    true,
				MinLength:   1,
				MaxLength:   todo.MaxTitleLength,
			},
			"description": {
				Type:        "string",
				Description: "Optional longer description",
				MaxLength:   todo.MaxDescriptionLength,
			},
		},
	},
	{
		Name:        UpdateTodo,
		Description: "Change the title, description or completion state of an existing todo.",
		Schema: Schema{
			"todo_id": todoIDField,
			"title": {
				Type:        "string",
				Description: "New title",
				MinLength:   1,
				MaxLength:   todo.MaxTitleLength,
			},
			"description": {
				Type:        "string",
				Description: "New description",
				MaxLength:   todo.MaxDescriptionLength,
			},
			"completed": {
				Type:        "boolean",
				Description: "New completion state",
			},
		},
	},
	{
		Name:        DeleteTodo,
		Description: "Permanently delete a todo.",
		Schema: Schema{
			"todo_id": todoIDField,
		},
	},
	{
		Name:        ToggleTodo,
		Description: "Flip a todo between completed and not completed.",
		Schema: Schema{
			"todo_id": todoIDField,
		},
	},
	{
		Name:        GetUserContext,
		Description: "Summarize the user's todos: counts and the most recently updated items.",
		Schema:      Schema{},
	},
}

// Registry is the static tool catalog. It is read-only and safe for concurrent use.
type Registry struct {
	defs   []Definition
	byName map[Name]int
}

// NewRegistry returns the catalog of todo tools.
func NewRegistry() *Registry {
	r := &Registry{
		defs:   catalog,
		byName: make(map[Name]int, len(catalog)),
	}
	for i, d := range catalog {
		r.byName[d.Name] = i
	}
	return r
}

// List returns the definitions in stable advertised order.
func (r *Registry) List() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Lookup resolves a model-supplied name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.byName[Name(name)]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}
