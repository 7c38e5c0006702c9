// Package services implements the inbound email pipeline: ledger claims,
// pet and sender resolution, attachment routing, thread linkage, the
// approval workflow, and the response returned to the mail webhook.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes is performed by the handler layer and
// by the response builder for the webhook.
package services

import "errors"

// Pipeline errors.
var (
	// ErrInvalidRecipient is returned when the recipient address has no
	// local-part or no "@". It is a validation failure, never a not-found.
	ErrInvalidRecipient = errors.New("recipient address is malformed")

	// ErrMissingSender is returned when an email carries no sender address.
	ErrMissingSender = errors.New("sender address is required")

	// ErrPetNotFound indicates that no live pet matches the recipient.
	ErrPetNotFound = errors.New("no pet matches recipient")

	// ErrReplayFailed is returned when an approved email could not be
	// processed; the approval and its stored email are kept for a retry.
	ErrReplayFailed = errors.New("approved email could not be processed")
)

// Approval and failed-email errors.
var (
	// ErrApprovalNotFound indicates that the pending approval does not exist
	// or belongs to another user.
	ErrApprovalNotFound = errors.New("pending approval not found")

	// ErrApprovalBusy is returned when another request is already resolving
	// the same approval.
	ErrApprovalBusy = errors.New("pending approval is being processed")

	// ErrPendingEmailMissing is returned when the stored copy of a deferred
	// email cannot be found.
	ErrPendingEmailMissing = errors.New("stored email for approval is missing")

	// ErrFailedEmailNotFound indicates that no dismissible failed email
	// matches the key for the current user.
	ErrFailedEmailNotFound = errors.New("failed email not found")
)
