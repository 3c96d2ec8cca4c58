package httpapi

import (
	"crypto/subtle"
	"net/http"
)

const apiKeyHeader = "X-API-Key"

// APIKeyMiddleware rejects requests whose X-API-Key header does not match
// the server's key. The comparison is constant-time.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(apiKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"status":  "error",
					"message": "invalid API key",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
