package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cloo-solutions/repomem/internal/api"
	"github.com/cloo-solutions/repomem/internal/domain"
)

type contextKey string

const AuthenticatedKey contextKey = "authenticated"

// APIKeyAuth requires "Authorization: Bearer <key>" on every request.
// An empty key disables the check.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		expected := []byte(key)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				api.HandleError(w, domain.ErrInvalidAPIKey)
				return
			}

			ctx := context.WithValue(r.Context(), AuthenticatedKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsAuthenticated reports whether the request passed APIKeyAuth with a key configured.
func IsAuthenticated(ctx context.Context) bool {
	ok, _ := ctx.Value(AuthenticatedKey).(bool)
	return ok
}
