// Package middleware provides net/http integration for authkeep. It stays
// framework-free: anything that speaks http.Handler can mount it.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/authkeep/authkeep"
)

// Authenticator is the slice of the engine the guard needs.
type Authenticator interface {
	ValidateAccess(ctx context.Context, token string) (authkeep.AuthResult, error)
}

type authResultContextKey struct{}

// Guard wraps next with bearer-token authentication. Requests without a
// valid access token get 401 with no detail about why. On success the
// [authkeep.AuthResult] plus the caller's IP and user agent are attached to
// the request context before next runs.
func Guard(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := Annotate(r.Context(), r)
		result, err := auth.ValidateAccess(ctx, token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx = context.WithValue(ctx, authResultContextKey{}, result)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Annotate attaches the request's client IP and user agent to ctx, the way
// the engine expects them. Unauthenticated endpoints (login, register)
// should call this themselves before invoking the engine.
func Annotate(ctx context.Context, r *http.Request) context.Context {
	ctx = authkeep.WithClientIP(ctx, clientIP(r))
	return authkeep.WithUserAgent(ctx, r.UserAgent())
}

// AuthResultFromContext returns the identity attached by [Guard].
func AuthResultFromContext(ctx context.Context) (authkeep.AuthResult, bool) {
	result, ok := ctx.Value(authResultContextKey{}).(authkeep.AuthResult)
	return result, ok
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// transport peer. Deployments not behind a trusted proxy should strip the
// header at the edge.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
