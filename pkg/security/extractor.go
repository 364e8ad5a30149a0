package security

import (
	"net/http"
	"strings"
	"time"
)

// BearerToken returns the token of an "Authorization: Bearer" header, or
// an empty string.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ExtractAuthContext is a middleware that authenticates the bearer token
// and stores the AuthContext. Failures are answered with 401 and reported
// to audit.
func ExtractAuthContext(auth Authenticator, audit AuditLogger) func(http.Handler) http.Handler {
	if audit == nil {
		audit = NoOpAuditLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := auth.Authenticate(r.Context(), BearerToken(r))
			if err != nil {
				LogAuthFailure(r.Context(), audit, r.RemoteAddr, err)
				WriteError(w, http.StatusUnauthorized, NewSecureError(ErrCodeUnauthorized, "authentication required"))
				return
			}

			authCtx := &AuthContext{
				Principal:   principal,
				IPAddress:   r.RemoteAddr,
				UserAgent:   r.UserAgent(),
				RequestTime: time.Now(),
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), authCtx)))
		})
	}
}
