package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"
)

// Schema describes the arguments of a tool, keyed by argument name.
type Schema map[string]Field

// Field represents a single argument in the schema.
type Field struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"-"`
	MaxLength   int      `json:"maxLength,omitempty"` // Max length for strings, in characters
	MinLength   int      `json:"minLength,omitempty"` // Min length for strings, in characters
	Enum        []string `json:"enum,omitempty"`      // Allowed string values
	Minimum     *float64 `json:"minimum,omitempty"`   // Minimum for numbers
	Maximum     *float64 `json:"maximum,omitempty"`   // Maximum for numbers
	Default     any      `json:"default,omitempty"`
}

// Float returns a pointer to v, for Minimum/Maximum literals.
func Float(v float64) *float64 { return &v }

// RequiredFields returns the required argument names in sorted order.
func (s Schema) RequiredFields() []string {
	out := make([]string, 0)
	for name, f := range s {
		if f.Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// JSONSchema renders the schema as a JSON Schema object. Output is
// deterministic: encoding/json sorts map keys.
func (s Schema) JSONSchema() json.RawMessage {
	props := make(map[string]Field, len(s))
	for name, f := range s {
		props[name] = f
	}
	doc := struct {
		Type       string           `json:"type"`
		Properties map[string]Field `json:"properties"`
		Required   []string         `json:"required"`
	}{
		Type:       "object",
		Properties: props,
		Required:   s.RequiredFields(),
	}

	data, err := json.Marshal(doc)
	if err != nil {
		// Field only holds JSON-safe values.
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	return data
}

// Validate checks args against the schema. Keys not present in the schema
// are ignored.
func (s Schema) Validate(args Args) error {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := s[name]
		val, exists := args[name]
		if !exists || val == nil {
			if field.Required {
				return invalidArg(name, "missing required field")
			}
			continue
		}
		if err := validateField(name, val, field); err != nil {
			return err
		}
	}
	return nil
}

func validateField(name string, val any, field Field) error {
	switch field.Type {
	case "string":
		str, ok := val.(string)
		if !ok {
			return invalidArg(name, fmt.Sprintf("expected string, got %s", jsonType(val)))
		}
		n := utf8.RuneCountInString(str)
		if field.MinLength > 0 && n < field.MinLength {
			return invalidArg(name, fmt.Sprintf("string too short (min %d)", field.MinLength))
		}
		if field.MaxLength > 0 && n > field.MaxLength {
			return invalidArg(name, fmt.Sprintf("string too long (max %d)", field.MaxLength))
		}
		if len(field.Enum) > 0 {
			for _, allowed := range field.Enum {
				if allowed == str {
					return nil
				}
			}
			return invalidArg(name, fmt.Sprintf("value not in allowed list %v", field.Enum))
		}

	case "number", "integer":
		num, ok := val.(float64)
		if !ok {
			return invalidArg(name, fmt.Sprintf("expected %s, got %s", field.Type, jsonType(val)))
		}
		if field.Type == "integer" && num != math.Trunc(num) {
			return invalidArg(name, "expected integer")
		}
		if field.Minimum != nil && num < *field.Minimum {
			return invalidArg(name, fmt.Sprintf("value below minimum %v", *field.Minimum))
		}
		if field.Maximum != nil && num > *field.Maximum {
			return invalidArg(name, fmt.Sprintf("value above maximum %v", *field.Maximum))
		}

	case "boolean":
		if _, ok := val.(bool); !ok {
			return invalidArg(name, fmt.Sprintf("expected boolean, got %s", jsonType(val)))
		}
	}
	return nil
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// Args provides typed access to decoded tool arguments.
type Args map[string]any

// String returns a string argument, or "" if absent.
func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer argument, or def if absent.
func (a Args) Int(key string, def int) int {
	if v, ok := a[key].(float64); ok {
		return int(v)
	}
	return def
}

// OptString returns a pointer to a string argument when present.
func (a Args) OptString(key string) *string {
	if v, ok := a[key].(string); ok {
		return &v
	}
	return nil
}

// OptBool returns a pointer to a boolean argument when present.
func (a Args) OptBool(key string) *bool {
	if v, ok := a[key].(bool); ok {
		return &v
	}
	return nil
}
