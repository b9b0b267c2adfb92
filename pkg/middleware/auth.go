// Package middleware provides HTTP middleware for authentication and
// request instrumentation.
package middleware

import (
	"net/http"
	"strings"

	"github.com/vortexhq/vortex/pkg/httputil"
	"github.com/vortexhq/vortex/pkg/session"
)

// Auth resolves bearer tokens to sessions and stores them on the request
// context. When optional is true, unauthenticated requests pass through
// without a session; endpoints that require authentication fail closed on
// their own.
type Auth struct {
	sessions session.Resolver
	optional bool
}

// NewAuth creates authentication middleware.
func NewAuth(sessions session.Resolver, optional bool) *Auth {
	return &Auth{sessions: sessions, optional: optional}
}

// Handler wraps an HTTP handler with bearer-token authentication.
func (m *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		sess, ok := m.sessions.Resolve(r.Context(), parts[1])
		if !ok {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "invalid or expired session")
			return
		}

		ctx := session.WithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
