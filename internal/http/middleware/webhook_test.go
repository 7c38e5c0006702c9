package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWebhookSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	captureLogger(t)

	hook := func(secret string) *gin.Engine {
		r := gin.New()
		r.Use(WebhookSecret(secret))
		r.POST("/hook", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}
	cases := []struct {
		name, secret, header string
		code                 int
	}{
		{"disabled", "", "", http.StatusOK},
		{"match", "s3cr3t", "s3cr3t", http.StatusOK},
		{"mismatch", "s3cr3t", "guess", http.StatusUnauthorized},
		{"prefix", "s3cr3t", "s3cr", http.StatusUnauthorized},
		{"missing", "s3cr3t", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		if tc.header != "" {
			req.Header.Set(WebhookSecretHeader, tc.header)
		}
		hook(tc.secret).ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Fatalf("%s: code = %d, want %d", tc.name, w.Code, tc.code)
		}
	}
}
