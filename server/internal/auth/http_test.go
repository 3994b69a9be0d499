package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		mode   string
		key    string
		header string
		query  string
		want   int
	}{
		{"disabled", "none", "secret", "", "", http.StatusNoContent},
		{"no key configured", "apikey", "", "", "", http.StatusNoContent},
		{"header", "apikey", "secret", "secret", "", http.StatusNoContent},
		{"query param", "apikey", "secret", "", "?api_key=secret", http.StatusNoContent},
		{"header wins over query", "apikey", "secret", "wrong", "?api_key=secret", http.StatusUnauthorized},
		{"missing", "apikey", "secret", "", "", http.StatusUnauthorized},
		{"wrong", "apikey", "secret", "nope", "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := APIKeyMiddleware(tc.mode, "X-Api-Key", tc.key)(ok)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/hosts"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("X-Api-Key", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Errorf("status: got %d, want %d", rr.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && rr.Header().Get("Content-Type") != "application/json" {
				t.Errorf("content-type: got %q", rr.Header().Get("Content-Type"))
			}
		})
	}
}
