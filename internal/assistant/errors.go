package assistant

import (
	"errors"
	"fmt"
)

// Input and availability errors returned by HandleTurn. Ownership errors
// come straight from the session package (session.ErrForbidden,
// session.ErrSessionNotFound).
var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrMessageTooLong   = errors.New("message too long")
	ErrInvalidSessionID = errors.New("invalid conversation id")
	ErrModelUnavailable = errors.New("model unavailable")
)

// StorageError reports a conversation store failure that aborted a turn.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("conversation store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
