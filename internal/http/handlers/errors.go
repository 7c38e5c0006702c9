// Package handlers holds the HTTP endpoints: the inbound mail webhooks and
// the app API for pending approvals and failed emails.
//
// Error responses use the envelope
//
//	{"request_id": "...", "code": "not_found", "message": "approval not found"}
//
// where code is one of the constants below. Clients branch on code, not on
// message. Webhook endpoints are the exception: they always answer with the
// pipeline's own response body so the mail provider can decide on retries.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeListFailed    = "list_failed"
	ErrCodeReplayFailed  = "replay_failed"
	ErrCodeEmailExpired  = "pending_email_missing"
	ErrCodeApproveFailed = "approve_failed"
	ErrCodeRejectFailed  = "reject_failed"
	ErrCodeDismissFailed = "dismiss_failed"
)
