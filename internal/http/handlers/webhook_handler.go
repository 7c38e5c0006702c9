package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/http/middleware"
	"github.com/tbourn/pet-mail-ingest/internal/mailparse"
	"github.com/tbourn/pet-mail-ingest/internal/services"
)

// errTooLarge is reported when a webhook body exceeds MaxBodyBytes.
var errTooLarge = errors.New("request body too large")

// InboundEmail godoc
// @ID          inboundEmail
// @Summary     Receive an inbound email (JSON)
// @Description Runs the email through the ingestion pipeline. The status code tells the mail provider whether to retry: 2xx/4xx are final, 5xx should be retried.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string              false "Shared secret (when configured)"
// @Param       body              body    mailparse.Payload   true  "Inbound email"
//
// @Success     200  {object}  services.Response  "Processed or duplicate"
// @Success     202  {object}  services.Response  "Awaiting owner approval"
// @Failure     400  {object}  services.Response  "Invalid payload"
// @Failure     403  {object}  services.Response  "Sender blocked"
// @Failure     404  {object}  services.Response  "No such pet"
// @Failure     413  {object}  services.Response  "Body too large"
// @Failure     500  {object}  services.Response  "Retryable failure"
// @Router      /webhooks/inbound-email [post]
func (h *Handlers) InboundEmail(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opt.MaxBodyBytes)

	var p mailparse.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		h.reject(c, err)
		return
	}
	email, err := mailparse.FromPayload(p, h.opt.InboundDomain)
	if err != nil {
		h.reject(c, err)
		return
	}
	h.process(c, email)
}

// InboundEmailRaw godoc
// @ID          inboundEmailRaw
// @Summary     Receive an inbound email (raw MIME)
// @Description Same as the JSON webhook but the body is an RFC 5322 message.
// @Tags        Webhooks
// @Accept      message/rfc822
// @Produce     json
// @Success     200  {object}  services.Response
// @Success     202  {object}  services.Response
// @Failure     400  {object}  services.Response
// @Failure     413  {object}  services.Response
// @Failure     500  {object}  services.Response
// @Router      /webhooks/inbound-email/raw [post]
func (h *Handlers) InboundEmailRaw(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, h.opt.MaxBodyBytes)
	// Read fully first so an oversized body is a 413 rather than a parse error.
	raw, err := io.ReadAll(body)
	if err != nil {
		h.reject(c, err)
		return
	}
	email, err := mailparse.ParseRaw(bytes.NewReader(raw), h.opt.InboundDomain)
	if err != nil {
		h.reject(c, err)
		return
	}
	h.process(c, email)
}

func (h *Handlers) process(c *gin.Context, email *domain.ParsedEmail) {
	resp := h.ingester.Process(c.Request.Context(), email)
	lg := middleware.LoggerFrom(c)
	ev := lg.Info()
	if resp.Code() >= http.StatusInternalServerError {
		ev = lg.Error()
	}
	ev.Str("email_key", resp.EmailKey).
		Str("status", string(resp.Status)).
		Str("pet_id", resp.PetID).
		Int("attachments", resp.AttachmentCount).
		Msg("inbound email")
	c.JSON(resp.Code(), resp)
}

// reject answers a delivery that could not be decoded.
func (h *Handlers) reject(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		resp := services.Rejected(errTooLarge)
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, resp)
		return
	}
	middleware.LoggerFrom(c).Warn().Err(err).Msg("inbound email rejected")
	resp := services.Rejected(err)
	c.AbortWithStatusJSON(resp.Code(), resp)
}
