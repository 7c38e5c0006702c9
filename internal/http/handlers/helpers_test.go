package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/services"
)

const testDomain = "pets.example.com"

type fakeIngester struct {
	mu    sync.Mutex
	resp  *services.Response
	calls []*domain.ParsedEmail
}

func (f *fakeIngester) Process(_ context.Context, email *domain.ParsedEmail) *services.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, email)
	if f.resp != nil {
		return f.resp
	}
	return &services.Response{Status: services.StatusSuccess, EmailKey: email.EmailKey, AttachmentCount: len(email.Attachments)}
}

func (f *fakeIngester) last() *domain.ParsedEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type fakeApprovals struct {
	items      []domain.PendingApproval
	version    time.Time
	approveErr error
	rejectErr  error
	result     *services.IngestResult

	gotUser, gotID string
	listCalls      int
}

func (f *fakeApprovals) ListPage(_ context.Context, userID string, page, pageSize int) ([]domain.PendingApproval, int64, error) {
	f.gotUser = userID
	f.listCalls++
	return f.items, int64(len(f.items)), nil
}

func (f *fakeApprovals) Version(context.Context, string) (int64, *time.Time, error) {
	return int64(len(f.items)), &f.version, nil
}

func (f *fakeApprovals) Approve(_ context.Context, userID, id string) (*services.ApprovalResult, error) {
	f.gotUser, f.gotID = userID, id
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	return &services.ApprovalResult{Approval: domain.PendingApproval{ID: id}, Result: f.result}, nil
}

func (f *fakeApprovals) Reject(_ context.Context, userID, id string) error {
	f.gotUser, f.gotID = userID, id
	return f.rejectErr
}

type fakeFailed struct {
	items      []domain.ProcessedEmail
	versionErr error
	listErr    error
	dismissErr error

	gotUser, gotKey string
}

func (f *fakeFailed) ListPage(_ context.Context, userID string, page, pageSize int) ([]domain.ProcessedEmail, int64, error) {
	f.gotUser = userID
	return f.items, int64(len(f.items)), f.listErr
}

func (f *fakeFailed) Version(context.Context, string) (int64, *time.Time, error) {
	return 0, nil, f.versionErr
}

func (f *fakeFailed) Dismiss(_ context.Context, userID, key string) error {
	f.gotUser, f.gotKey = userID, key
	return f.dismissErr
}

var errDB = errors.New("db down")

// testRouter mounts the handlers the way the real router does, with a fixed
// user instead of bearer auth.
func testRouter(ing Ingester, ap ApprovalService, fe FailedEmailService, maxBody int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(ing, ap, fe, Options{InboundDomain: testDomain, MaxBodyBytes: maxBody})
	r := gin.New()
	r.POST("/webhooks/inbound-email", h.InboundEmail)
	r.POST("/webhooks/inbound-email/raw", h.InboundEmailRaw)

	api := r.Group("/api/v1", func(c *gin.Context) { c.Set("userID", "user-1"); c.Next() })
	api.GET("/approvals", h.ListApprovals)
	api.POST("/approvals/:id/approve", h.ApproveEmail)
	api.POST("/approvals/:id/reject", h.RejectEmail)
	api.GET("/failed-emails", h.ListFailedEmails)
	api.DELETE("/failed-emails/*key", h.DismissFailedEmail)
	return r
}
