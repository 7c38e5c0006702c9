package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RedactOptions configures RedactingLogger. MaskHeaders adds header names
// (case-insensitive) whose values are dropped entirely, on top of
// Authorization, Cookie, Set-Cookie and X-Webhook-Secret.
type RedactOptions struct {
	MaskHeaders []string
}

// piiPatterns run in order; ids go before phones so the phone pattern
// cannot eat UUID digit runs.
var piiPatterns = []struct {
	re   *regexp.Regexp
	mask string
}{
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func redact(s string) string {
	for _, p := range piiPatterns {
		if s == "" {
			break
		}
		s = p.re.ReplaceAllString(s, p.mask)
	}
	return s
}

type scrubber struct {
	masked map[string]bool
}

func newScrubber(extra []string) scrubber {
	s := scrubber{masked: map[string]bool{
		"authorization":                       true,
		"cookie":                              true,
		"set-cookie":                          true,
		strings.ToLower(WebhookSecretHeader): true,
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.masked[h] = true
		}
	}
	return s
}

func (s scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if s.masked[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redact(strings.Join(vv, ", "))
	}
	return out
}

// routeOf prefers the registered pattern; raw paths may carry email keys.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return redact(c.Request.URL.Path)
}

func accessEvent(lg *zerolog.Logger, c *gin.Context) *zerolog.Event {
	status := c.Writer.Status()
	switch {
	case len(c.Errors) > 0:
		return lg.Error().Str("errors", c.Errors.String())
	case status >= http.StatusInternalServerError:
		return lg.Error()
	case status >= http.StatusBadRequest:
		return lg.Warn()
	}
	return lg.Info()
}

// RedactingLogger writes one "http_request" line per request once the chain
// returns: ERROR on 5xx or collected Gin errors, WARN on 4xx, INFO otherwise.
// Bodies are never logged. Query strings, unmatched paths and header values
// have emails, phone numbers and UUIDs masked.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	sc := newScrubber(opts.MaskHeaders)
	return func(c *gin.Context) {
		start := time.Now()
		hdrs := sc.headers(c.Request.Header)
		query := redact(truncate(c.Request.URL.RawQuery, maxQueryLogLength))

		c.Next()

		accessEvent(LoggerFrom(c), c).
			Str("method", c.Request.Method).
			Str("path", routeOf(c)).
			Str("query", query).
			Str("user_id", c.GetString(userIDKey)).
			Str("remote_ip", c.ClientIP()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", c.Writer.Status()).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", hdrs).
			Msg("http_request")
	}
}
