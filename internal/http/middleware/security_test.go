package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(opt SecurityOptions, pre gin.HandlerFunc, req *http.Request) http.Header {
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_BaselineAndExpose(t *testing.T) {
	gin.SetMode(gin.TestMode)
	withRID := func(c *gin.Context) { c.Header(headerRequestID, "rid-1"); c.Next() }

	h := serveSecurity(SecurityOptions{}, withRID, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	if h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected optional headers: %#v", h)
	}
	if h.Get("Access-Control-Expose-Headers") != headerRequestID {
		t.Fatalf("expose header = %q", h.Get("Access-Control-Expose-Headers"))
	}

	appendPre := func(c *gin.Context) {
		c.Header(headerRequestID, "rid-2")
		c.Header("Access-Control-Expose-Headers", "ETag")
		c.Next()
	}
	h = serveSecurity(SecurityOptions{}, appendPre, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if got := h.Get("Access-Control-Expose-Headers"); got != "ETag, X-Request-ID" {
		t.Fatalf("expose header = %q", got)
	}
}

func TestSecurityHeaders_NoStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := serveSecurity(SecurityOptions{NoStore: true}, nil, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" {
		t.Fatalf("cache headers = %#v", h)
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	opt := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}

	plain := serveSecurity(opt, nil, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if plain.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS sent over plain HTTP")
	}

	direct := httptest.NewRequest(http.MethodGet, "/ok", nil)
	direct.TLS = &tls.ConnectionState{}
	want := "max-age=" + strconv.Itoa(3600)
	if got := serveSecurity(opt, nil, direct).Get("Strict-Transport-Security"); !strings.HasPrefix(got, want) {
		t.Fatalf("TLS HSTS = %q", got)
	}

	proxied := httptest.NewRequest(http.MethodGet, "/ok", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	def := serveSecurity(SecurityOptions{EnableHSTS: true}, nil, proxied).Get("Strict-Transport-Security")
	if !strings.HasPrefix(def, "max-age="+strconv.Itoa(int((180*24*time.Hour).Seconds()))) {
		t.Fatalf("proxied default HSTS = %q", def)
	}
}
