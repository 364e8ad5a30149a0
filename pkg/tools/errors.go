package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when the model names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// InvalidArgumentsError reports arguments that do not satisfy a tool schema.
type InvalidArgumentsError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentsError) Error() string {
	if e.Field == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid arguments: field %s: %s", e.Field, e.Reason)
}

func invalidArg(field, reason string) error {
	return &InvalidArgumentsError{Field: field, Reason: reason}
}

// ErrorKind classifies a failed tool call for logs, metrics and the model.
type ErrorKind string

const (
	KindUnknownTool      ErrorKind = "unknown_tool"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindNotFound         ErrorKind = "not_found"
	KindConstraint       ErrorKind = "constraint_violation"
	KindTimeout          ErrorKind = "timeout"
	KindInternal         ErrorKind = "internal"
)
