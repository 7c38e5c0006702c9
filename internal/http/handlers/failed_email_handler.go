package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/services"
)

// FailedEmail is an ingestion that stored nothing.
type FailedEmail struct {
	EmailKey        string     `json:"email_key"`
	PetID           string     `json:"pet_id,omitempty"`
	SenderEmail     string     `json:"sender_email"`
	Subject         string     `json:"subject"`
	AttachmentCount int        `json:"attachment_count"`
	FailureReason   string     `json:"failure_reason"`
	DocumentType    string     `json:"document_type,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toFailedEmail(e domain.ProcessedEmail) FailedEmail {
	f := FailedEmail{
		EmailKey:        e.EmailKey,
		SenderEmail:     e.SenderEmail,
		Subject:         e.Subject,
		AttachmentCount: e.AttachmentCount,
		CompletedAt:     e.CompletedAt,
	}
	if e.PetID != nil {
		f.PetID = *e.PetID
	}
	if e.FailureReason != nil {
		f.FailureReason = *e.FailureReason
	}
	if e.DocumentType != nil {
		f.DocumentType = *e.DocumentType
	}
	return f
}

// ListFailedEmailsResponse wraps a page of failed emails.
type ListFailedEmailsResponse struct {
	FailedEmails []FailedEmail `json:"failed_emails"`
	Pagination   Pagination    `json:"pagination"`
}

// ListFailedEmails godoc
// @ID          listFailedEmails
// @Summary     List emails that produced no records (paginated)
// @Tags        FailedEmails
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListFailedEmailsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse
// @Router      /failed-emails [get]
func (h *Handlers) ListFailedEmails(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	if notModified(c, "failed-emails", uid, func() (int64, *time.Time, error) { return h.failed.Version(ctx, uid) }) {
		return
	}

	items, total, err := h.failed.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list failed emails")
		return
	}
	out := make([]FailedEmail, 0, len(items))
	for _, e := range items {
		out = append(out, toFailedEmail(e))
	}
	c.JSON(http.StatusOK, ListFailedEmailsResponse{FailedEmails: out, Pagination: newPagination(page, pageSize, total)})
}

// DismissFailedEmail godoc
// @ID          dismissFailedEmail
// @Summary     Dismiss a failed email
// @Tags        FailedEmails
// @Security    BearerAuth
// @Param       key  path  string  true  "Email key"
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /failed-emails/{key} [delete]
func (h *Handlers) DismissFailedEmail(c *gin.Context) {
	// Message IDs may contain "/", so the key is a catch-all parameter.
	key := strings.TrimPrefix(c.Param("key"), "/")
	err := h.failed.Dismiss(c.Request.Context(), userID(c), key)
	switch {
	case errors.Is(err, services.ErrFailedEmailNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "failed email not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeDismissFailed, "could not dismiss failed email")
	default:
		noContent(c)
	}
}
