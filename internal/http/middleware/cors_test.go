package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	tests := []struct {
		origins []string
		origin  string
		allowed bool
	}{
		{origins: nil, origin: "http://localhost:5173", allowed: true},
		{origins: nil, origin: "https://evil.example", allowed: false},
		{origins: []string{"https://learn.example"}, origin: "https://learn.example", allowed: true},
		{origins: []string{"https://learn.example"}, origin: "http://localhost:5173", allowed: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.origin, func(t *testing.T) {
			t.Parallel()
			r := gin.New()
			r.Use(CORS(tt.origins))
			r.OPTIONS("/api/learn/shifu/s1/run", func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodOptions, "/api/learn/shifu/s1/run", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.allowed && got != tt.origin {
				t.Fatalf("unexpected allow-origin header: got=%q want=%q", got, tt.origin)
			}
			if !tt.allowed && got != "" {
				t.Fatalf("origin %q should be refused, got allow-origin %q", tt.origin, got)
			}
		})
	}
}
