package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// WebhookSecretHeader is the header the mail provider sends the shared secret in.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret rejects webhook deliveries whose X-Webhook-Secret does not
// match secret. An empty secret disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(WebhookSecretHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			LoggerFrom(c).Warn().Str("remote_ip", c.ClientIP()).Msg("webhook secret mismatch")
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
			return
		}
		c.Next()
	}
}
