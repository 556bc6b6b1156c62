package middleware

import (
	"context"
	"net/http"
)

type userIDContextKey struct{}

// UserIDKey carries the authenticated user id through the request context.
var UserIDKey = userIDContextKey{}

// UserID extracts the caller identity set by the authenticating reverse
// proxy in front of this service. Requests without one still pass; handlers
// that need an owner reject them.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get("X-User-ID")
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), UserIDKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the caller identity, or empty when anonymous.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}
