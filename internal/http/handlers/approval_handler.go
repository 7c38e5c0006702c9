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

// Approval is the app's view of an email held for owner approval.
type Approval struct {
	ID          string    `json:"id"`
	PetID       string    `json:"pet_id"`
	SenderEmail string    `json:"sender_email"`
	Subject     string    `json:"subject"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func toApproval(a domain.PendingApproval) Approval {
	return Approval{
		ID:          a.ID,
		PetID:       a.PetID,
		SenderEmail: a.SenderEmail,
		Subject:     a.Subject,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
	}
}

// ListApprovalsResponse wraps a page of approvals.
type ListApprovalsResponse struct {
	Approvals  []Approval `json:"approvals"`
	Pagination Pagination `json:"pagination"`
}

// ApproveResponse reports the replay of an approved email.
type ApproveResponse struct {
	Approval Approval                     `json:"approval"`
	Results  []services.AttachmentOutcome `json:"results"`
	ThreadID string                       `json:"thread_id,omitempty"`
}

// ListApprovals godoc
// @ID          listApprovals
// @Summary     List emails awaiting approval (paginated)
// @Tags        Approvals
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListApprovalsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     500  {object} handlers.ErrorResponse
// @Router      /approvals [get]
func (h *Handlers) ListApprovals(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	if notModified(c, "approvals", uid, func() (int64, *time.Time, error) { return h.approvals.Version(ctx, uid) }) {
		return
	}

	items, total, err := h.approvals.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list approvals")
		return
	}
	out := make([]Approval, 0, len(items))
	for _, a := range items {
		out = append(out, toApproval(a))
	}
	c.JSON(http.StatusOK, ListApprovalsResponse{Approvals: out, Pagination: newPagination(page, pageSize, total)})
}

// ApproveEmail godoc
// @ID          approveEmail
// @Summary     Approve a held email
// @Description Trusts the sender for this pet and ingests the held email as if it came from a known sender.
// @Tags        Approvals
// @Produce     json
// @Security    BearerAuth
// @Param       id   path  string  true  "Approval ID"
// @Success     200  {object} handlers.ApproveResponse
// @Failure     404  {object} handlers.ErrorResponse "Approval not found"
// @Failure     409  {object} handlers.ErrorResponse "Approval being processed"
// @Failure     410  {object} handlers.ErrorResponse "Held email no longer stored"
// @Failure     502  {object} handlers.ErrorResponse "Replay stored nothing; retry later"
// @Router      /approvals/{id}/approve [post]
func (h *Handlers) ApproveEmail(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	res, err := h.approvals.Approve(c.Request.Context(), userID(c), id)
	if err != nil {
		h.approvalError(c, err, ErrCodeApproveFailed)
		return
	}
	out := ApproveResponse{Approval: toApproval(res.Approval)}
	if res.Result != nil {
		out.Results = res.Result.Attachments
		if res.Result.Thread != nil {
			out.ThreadID = res.Result.Thread.Thread.ID
		}
	}
	c.JSON(http.StatusOK, out)
}

// RejectEmail godoc
// @ID          rejectEmail
// @Summary     Reject a held email
// @Description Blocks the sender for this pet and discards the held email.
// @Tags        Approvals
// @Security    BearerAuth
// @Param       id   path  string  true  "Approval ID"
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse
// @Router      /approvals/{id}/reject [post]
func (h *Handlers) RejectEmail(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.approvals.Reject(c.Request.Context(), userID(c), id); err != nil {
		h.approvalError(c, err, ErrCodeRejectFailed)
		return
	}
	noContent(c)
}

func (h *Handlers) approvalError(c *gin.Context, err error, code string) {
	switch {
	case errors.Is(err, services.ErrApprovalNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "approval not found")
	case errors.Is(err, services.ErrApprovalBusy):
		fail(c, http.StatusConflict, ErrCodeConflict, "approval is already being processed")
	case errors.Is(err, services.ErrPendingEmailMissing):
		fail(c, http.StatusGone, ErrCodeEmailExpired, "held email is no longer available")
	case errors.Is(err, services.ErrReplayFailed):
		fail(c, http.StatusBadGateway, ErrCodeReplayFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, code, "could not resolve approval")
	}
}
