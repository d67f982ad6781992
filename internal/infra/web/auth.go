package web

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "X-API-KEY"

// RequireAPIKey rejects requests whose X-API-KEY does not match key.
// An empty key disables the check.
func RequireAPIKey(key string) Middleware {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		want := []byte(key)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
