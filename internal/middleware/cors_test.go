package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantStatus  int
		wantOrigin  string
		wantCredits string
	}{
		{"wildcard", []string{"*"}, "https://app.example.com", http.MethodGet, http.StatusTeapot, "https://app.example.com", ""},
		{"explicit origin", []string{"https://app.example.com"}, "https://app.example.com", http.MethodPost, http.StatusTeapot, "https://app.example.com", "true"},
		{"unknown origin", []string{"https://app.example.com"}, "https://evil.example.com", http.MethodGet, http.StatusTeapot, "", ""},
		{"preflight", []string{"*"}, "https://app.example.com", http.MethodOptions, http.StatusOK, "https://app.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/messages", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredits, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.wantOrigin != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-User-ID")
			}
		})
	}
}
