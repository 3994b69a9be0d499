package auth

import (
	"encoding/json"
	"net/http"
)

// QueryParam carries the key for clients that cannot set headers, such as a
// browser opening a WebSocket.
const QueryParam = "api_key"

// APIKeyMiddleware wraps next with the same check APIKeyInterceptor applies
// to gRPC calls. The key is read from header, or from the api_key query
// parameter when the header is absent. Rejected requests get a JSON 401.
func APIKeyMiddleware(mode, header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enforced(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" {
				got = r.URL.Query().Get(QueryParam)
			}
			if got == "" || !match(got, key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
