package middleware

import (
	"context"
	"net/http"
	"strings"

	"student-records-service/internal/http/response"
	"student-records-service/internal/service"
)

type contextKey string

const (
	authContextKey  contextKey = "auth"
	tokenContextKey contextKey = "access_token"
)

// TokenVerifier resolves a bearer token to the account behind it.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, accessToken string) (*service.AuthContext, error)
}

// Auth rejects requests without a valid bearer token and stashes the
// verified identity plus the raw token in the request context.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing access token", nil)
				return
			}
			authCtx, err := verifier.VerifyToken(r.Context(), raw)
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token", nil)
				return
			}
			ctx := context.WithValue(r.Context(), authContextKey, authCtx)
			ctx = context.WithValue(ctx, tokenContextKey, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireWrite blocks read-only accounts from mutating endpoints.
func RequireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := AuthFromContext(r.Context())
		if !ok {
			response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing auth context", nil)
			return
		}
		if authCtx.IsReadOnly {
			response.Error(w, r, http.StatusForbidden, response.CodeForbidden, "account is read-only", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func AuthFromContext(ctx context.Context) (*service.AuthContext, bool) {
	a, ok := ctx.Value(authContextKey).(*service.AuthContext)
	return a, ok
}

func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenContextKey).(string)
	return t, ok
}
