package middleware

import (
	"context"
	"net/http"
	"strings"

	"mirrorchat/internal/auth"
)

// context key type for storing auth claims in context
type authContextKey struct{}

// ClaimsFromContext extracts auth claims from the request context, if present.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	v := ctx.Value(authContextKey{})
	if v == nil {
		return nil, false
	}
	c, ok := v.(*auth.Claims)
	return c, ok
}

// Authenticate wraps a handler with JWT verification. The token is taken
// from the Authorization header, or from a "token" query parameter for
// websocket clients that cannot set headers. Valid claims are attached to
// the request context for handlers.
func Authenticate(j *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("Authorization"))
		if rest, ok := strings.CutPrefix(token, "Bearer "); ok {
			token = strings.TrimSpace(rest)
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "missing authorization token", http.StatusUnauthorized)
			return
		}

		claims, err := j.VerifyToken(token)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
