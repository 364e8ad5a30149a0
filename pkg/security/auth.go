package security

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Authentication errors. Both map to 401 at the HTTP boundary.
var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Principal represents an authenticated user.
type Principal struct {
	ID    string
	Name  string
	Email string
}

// AuthContext contains authentication information for one request.
type AuthContext struct {
	Principal   *Principal
	IPAddress   string
	UserAgent   string
	RequestTime time.Time
}

// Authenticator verifies a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// contextKey is a private type for context keys
type contextKey string

const (
	authContextKey contextKey = "auth_context"
)

// WithAuthContext adds authentication context to the context
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// GetAuthContext retrieves authentication context from the context
func GetAuthContext(ctx context.Context) (*AuthContext, error) {
	authCtx, ok := ctx.Value(authContextKey).(*AuthContext)
	if !ok || authCtx == nil {
		return nil, fmt.Errorf("no authentication context found")
	}
	return authCtx, nil
}

// GetPrincipal retrieves the principal from the context
func GetPrincipal(ctx context.Context) (*Principal, error) {
	authCtx, err := GetAuthContext(ctx)
	if err != nil {
		return nil, err
	}
	if authCtx.Principal == nil {
		return nil, fmt.Errorf("no principal in authentication context")
	}
	return authCtx.Principal, nil
}
