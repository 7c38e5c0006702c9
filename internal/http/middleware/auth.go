package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// userIDKey is the Gin context key holding the authenticated user.
const userIDKey = "userID"

// devUserHeader carries the caller's user ID when no JWT secret is configured.
const devUserHeader = "X-User-ID"

// Auth authenticates app API callers.
//
// With a secret, requests must carry "Authorization: Bearer <jwt>" signed
// HS256 with that secret; the token's subject becomes the user ID. With an
// empty secret (local development only) the X-User-ID header is trusted.
// Either way the user ID is stored under "userID" for handlers and the rate
// limiter, and a missing identity is answered with 401.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		var uid string
		if secret == "" {
			uid = strings.TrimSpace(c.GetHeader(devUserHeader))
		} else {
			sub, err := bearerSubject(parser, key, c.GetHeader("Authorization"))
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("auth rejected")
			}
			uid = sub
		}
		if uid == "" {
			unauthorized(c)
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

func bearerSubject(p *jwt.Parser, key []byte, header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("missing bearer token")
	}
	var claims jwt.RegisteredClaims
	if _, err := p.ParseWithClaims(strings.TrimSpace(parts[1]), &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
}
