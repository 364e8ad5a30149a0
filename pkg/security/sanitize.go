package security

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

// ErrorCode represents a standardized error code for API responses
type ErrorCode string

const (
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	ErrCodeToolExecution      ErrorCode = "TOOL_EXECUTION_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
)

// SecureError is an error safe to return to clients. It serializes as
// {"error": Message, "code": Code}.
type SecureError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"error"`
}

// Error implements the error interface
func (e *SecureError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewSecureError creates a SecureError.
func NewSecureError(code ErrorCode, message string) *SecureError {
	return &SecureError{Code: code, Message: message}
}

// InternalError is the generic reply for failures whose detail must stay
// server-side.
func InternalError() *SecureError {
	return NewSecureError(ErrCodeInternal, "an internal error occurred")
}

// WriteError writes e as a JSON body with the given status.
func WriteError(w http.ResponseWriter, status int, e *SecureError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

var (
	secretPattern = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9_\-]{8,}|AIza[0-9A-Za-z_\-]{20,}|(api[_-]?key|token|secret|password)=[^\s&]+|Bearer\s+[A-Za-z0-9._\-]+)`)
	pathPattern   = regexp.MustCompile(`(?:/[A-Za-z0-9._\-]+){2,}/?`)
	goFilePattern = regexp.MustCompile(`\S+\.go:\d+`)
	addrPattern   = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	stackPattern  = regexp.MustCompile(`goroutine \d+ \[[^\]]+\]:[\s\S]*?(?:\n\n|\z)`)
)

// ScrubMessage removes secrets, stack fragments and file paths from an
// error message before it is logged.
func ScrubMessage(msg string) string {
	msg = stackPattern.ReplaceAllString(msg, "[STACK_TRACE_REMOVED]")
	msg = secretPattern.ReplaceAllString(msg, "[REDACTED]")
	msg = goFilePattern.ReplaceAllString(msg, "[FILE:LINE]")
	msg = addrPattern.ReplaceAllString(msg, "[ADDR]")
	msg = pathPattern.ReplaceAllStringFunc(msg, func(p string) string {
		// URL paths stay readable.
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/v1/") {
			return p
		}
		return "[PATH]"
	})
	return msg
}

// ScrubError is ScrubMessage for an error; nil yields "".
func ScrubError(err error) string {
	if err == nil {
		return ""
	}
	return ScrubMessage(err.Error())
}

// MaskSecret masks a secret for logging purposes
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}

	if len(secret) <= 8 {
		return "****"
	}

	return secret[:4] + "****" + secret[len(secret)-4:]
}
