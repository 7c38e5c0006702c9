package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/services"
	"github.com/tbourn/pet-mail-ingest/internal/utils"
)

//
// Service contracts (context-aware)
//

// Ingester runs one inbound email through the pipeline. It never returns nil.
type Ingester interface {
	Process(ctx context.Context, email *domain.ParsedEmail) *services.Response
}

// ApprovalService resolves emails from unknown senders.
type ApprovalService interface {
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PendingApproval, int64, error)
	Version(ctx context.Context, userID string) (int64, *time.Time, error)
	Approve(ctx context.Context, userID, id string) (*services.ApprovalResult, error)
	Reject(ctx context.Context, userID, id string) error
}

// FailedEmailService lists and dismisses ingestions that stored nothing.
type FailedEmailService interface {
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ProcessedEmail, int64, error)
	Version(ctx context.Context, userID string) (int64, *time.Time, error)
	Dismiss(ctx context.Context, userID, emailKey string) error
}

//
// Handler wiring
//

// Options tunes the webhook endpoints.
type Options struct {
	// InboundDomain is the pets' mail domain, used to pick the recipient.
	InboundDomain string
	// MaxBodyBytes caps a webhook body; <= 0 means 30 MiB.
	MaxBodyBytes int64
}

// Handlers groups the webhook and app API endpoints.
type Handlers struct {
	ingester  Ingester
	approvals ApprovalService
	failed    FailedEmailService
	opt       Options
}

// New constructs Handlers bound to the given services.
func New(ing Ingester, approvals ApprovalService, failed FailedEmailService, opt Options) *Handlers {
	if opt.MaxBodyBytes <= 0 {
		opt.MaxBodyBytes = 30 << 20
	}
	return &Handlers{ingester: ing, approvals: approvals, failed: failed, opt: opt}
}

// userID returns the authenticated user set by middleware.Auth.
func userID(c *gin.Context) string {
	return c.GetString("userID")
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination reads the page and page_size query parameters.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// notModified sets a weak ETag built from (kind, user, count, latest change)
// and reports whether the client's If-None-Match already matches it. Stats
// errors skip the check; the list query that follows surfaces them.
func notModified(c *gin.Context, kind, uid string, version func() (int64, *time.Time, error)) bool {
	count, latest, err := version()
	if err != nil {
		return false
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, uid, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
