package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vendaflow/broker-auth-service/internal/http/response"
	"github.com/vendaflow/broker-auth-service/internal/service"
)

type contextKey string

const (
	identityContextKey contextKey = "session_identity"
	tokenContextKey    contextKey = "session_token"
)

// SessionAuth resolves the opaque bearer token through the session manager.
// A missing or unresolvable token is a 401; handlers behind this middleware
// can rely on an identity being present.
func SessionAuth(auth service.AuthServiceInterface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token", nil)
				return
			}
			identity, err := auth.VerifyFromDevice(r.Context(), token, ClientIP(r))
			if err != nil {
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "session verification unavailable", nil)
				return
			}
			if identity == nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired session", nil)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func IdentityFromContext(ctx context.Context) (*service.SessionIdentity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*service.SessionIdentity)
	return identity, ok
}

func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok
}
