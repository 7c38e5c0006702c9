package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pet-mail-ingest/internal/http/middleware"
)

// ErrorResponse is the app API error envelope.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"approval not found"`
}

// Fail aborts c with the error envelope. Server-side failures are also logged
// on the request logger; client errors are left to the access log.
func Fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("route", c.FullPath()).
			Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

func fail(c *gin.Context, status int, code, msg string) { Fail(c, status, code, msg) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
