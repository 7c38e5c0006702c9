package services

import "net/http"

// Status is the outcome reported to the mail webhook. Together with its HTTP
// code it tells the mail provider whether to retry.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusDuplicate       Status = "duplicate"
	StatusPendingApproval Status = "pending_approval"
	StatusBlocked         Status = "blocked"
	StatusValidationError Status = "validation_error"
	StatusNotFound        Status = "not_found"
	StatusError           Status = "error"
)

// HTTPCode maps a status to its HTTP status code.
func (s Status) HTTPCode() int {
	switch s {
	case StatusSuccess, StatusDuplicate:
		return http.StatusOK
	case StatusPendingApproval:
		return http.StatusAccepted
	case StatusBlocked:
		return http.StatusForbidden
	case StatusValidationError:
		return http.StatusBadRequest
	case StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Response is the body returned to the mail webhook.
type Response struct {
	Status            Status              `json:"status"`
	Message           string              `json:"message"`
	EmailKey          string              `json:"email_key,omitempty"`
	PetID             string              `json:"pet_id,omitempty"`
	LedgerStatus      string              `json:"ledger_status,omitempty"`
	AttachmentCount   int                 `json:"attachment_count"`
	Results           []AttachmentOutcome `json:"results,omitempty"`
	ThreadID          string              `json:"thread_id,omitempty"`
	PendingApprovalID string              `json:"pending_approval_id,omitempty"`
}

// Code returns the HTTP status code for r.
func (r *Response) Code() int { return r.Status.HTTPCode() }

// Rejected reports a delivery that could not be parsed into an email at all.
func Rejected(err error) *Response {
	ingestOutcomes.WithLabelValues(string(StatusValidationError)).Inc()
	return validationResponse(err)
}

func validationResponse(err error) *Response {
	return &Response{Status: StatusValidationError, Message: err.Error()}
}

func notFoundResponse(email *emailRef) *Response {
	return &Response{
		Status:          StatusNotFound,
		Message:         ErrPetNotFound.Error(),
		EmailKey:        email.key,
		AttachmentCount: email.attachments,
	}
}

func errorResponse(email *emailRef, msg string) *Response {
	return &Response{
		Status:          StatusError,
		Message:         msg,
		EmailKey:        email.key,
		AttachmentCount: email.attachments,
	}
}

func blockedResponse(email *emailRef, petID string) *Response {
	return &Response{
		Status:          StatusBlocked,
		Message:         "sender is blocked for this pet",
		EmailKey:        email.key,
		PetID:           petID,
		AttachmentCount: email.attachments,
	}
}

func duplicateResponse(email *emailRef, petID, ledgerStatus string) *Response {
	return &Response{
		Status:          StatusDuplicate,
		Message:         "email already received",
		EmailKey:        email.key,
		PetID:           petID,
		LedgerStatus:    ledgerStatus,
		AttachmentCount: email.attachments,
	}
}

func pendingResponse(email *emailRef, petID, approvalID string) *Response {
	return &Response{
		Status:            StatusPendingApproval,
		Message:           "sender needs approval from the pet owner",
		EmailKey:          email.key,
		PetID:             petID,
		AttachmentCount:   email.attachments,
		PendingApprovalID: approvalID,
	}
}

// resultResponse reports a processed email. An email where nothing was
// stored only because of infrastructure errors is an error, so the mail
// provider retries; one that simply held nothing storable is a success with
// per-attachment diagnostics.
func resultResponse(email *emailRef, petID string, res *IngestResult) *Response {
	r := &Response{
		Status:          StatusSuccess,
		Message:         "email processed",
		EmailKey:        email.key,
		PetID:           petID,
		AttachmentCount: email.attachments,
		Results:         res.Attachments,
	}
	if res.Thread != nil {
		r.ThreadID = res.Thread.Thread.ID
	}
	if res.Failed() {
		r.Status = StatusError
		r.Message = res.FailureReason()
	}
	return r
}

// emailRef is the part of an email every response echoes.
type emailRef struct {
	key         string
	attachments int
}
