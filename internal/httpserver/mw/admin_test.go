package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrSnakeDoc/skyembed/internal/logger"
)

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	tests := []struct {
		name   string
		cfg    AdminConfig
		remote string
		auth   string
		want   int
	}{
		{name: "unconfigured", cfg: AdminConfig{}, remote: "10.0.0.1:1", want: http.StatusForbidden},
		{name: "token ok", cfg: AdminConfig{Token: "t"}, remote: "8.8.8.8:1", auth: "Bearer t", want: http.StatusNoContent},
		{name: "token case-insensitive scheme", cfg: AdminConfig{Token: "t"}, remote: "8.8.8.8:1", auth: "bearer t", want: http.StatusNoContent},
		{name: "token missing", cfg: AdminConfig{Token: "t"}, remote: "8.8.8.8:1", want: http.StatusUnauthorized},
		{name: "token wrong", cfg: AdminConfig{Token: "t"}, remote: "8.8.8.8:1", auth: "Bearer x", want: http.StatusUnauthorized},
		{name: "cidr only ok", cfg: AdminConfig{CIDRS: []string{"10.0.0.0/8"}}, remote: "10.1.2.3:1", want: http.StatusNoContent},
		{name: "cidr only rejected", cfg: AdminConfig{CIDRS: []string{"10.0.0.0/8"}}, remote: "8.8.8.8:1", want: http.StatusForbidden},
		{name: "cidr and token", cfg: AdminConfig{Token: "t", CIDRS: []string{"10.0.0.0/8"}}, remote: "10.1.2.3:1", auth: "Bearer t", want: http.StatusNoContent},
		{name: "cidr ok token wrong", cfg: AdminConfig{Token: "t", CIDRS: []string{"10.0.0.0/8"}}, remote: "10.1.2.3:1", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/posts", nil)
			req.RemoteAddr = tt.remote
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			RequireAdmin(tt.cfg, logger.Nop())(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/embed", nil)
	req.Header.Set("Origin", "https://blog.example")
	CORS([]string{"https://blog.example/"})(next).ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://blog.example" || rec.Header().Get("Vary") != "Origin" {
		t.Errorf("headers = %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	req.Header.Set("Origin", "https://evil.example")
	CORS([]string{"https://blog.example"})(next).ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
}
