package domain

import "time"

// Ledger statuses. A row moves from processing to completed exactly once.
const (
	LedgerProcessing = "processing"
	LedgerCompleted  = "completed"
)

// Ledger outcomes recorded on completion.
const (
	OutcomeProcessed       = "processed"
	OutcomePendingApproval = "pending_approval"
	OutcomeFailed          = "failed"
)

// ProcessedEmail is the idempotency ledger row for one inbound message,
// keyed by EmailKey. The unique index on email_key is the only concurrency
// control of the ingestion pipeline: the second of two concurrent inserts
// fails deterministically.
//
// Success, Outcome and CompletedAt are set only when Status is completed.
// Rows are an audit trail and are never deleted, except when the owner
// dismisses a failed entry.
type ProcessedEmail struct {
	ID              string     `json:"id"                       gorm:"type:char(36);primaryKey"`
	EmailKey        string     `json:"email_key"                gorm:"type:varchar(512);not null;uniqueIndex:ux_processed_emails_key"`
	Status          string     `json:"status"                   gorm:"type:varchar(16);not null;index:idx_processed_status_started,priority:1;check:status IN ('processing','completed')"`
	PetID           *string    `json:"pet_id,omitempty"         gorm:"type:char(36);index:idx_processed_pet_sender,priority:1"`
	UserID          *string    `json:"user_id,omitempty"        gorm:"type:varchar(64);index"`
	SenderEmail     string     `json:"sender_email"             gorm:"type:varchar(320);not null;default:'';index:idx_processed_pet_sender,priority:2"`
	Subject         string     `json:"subject"                  gorm:"type:text;not null;default:''"`
	AttachmentCount int        `json:"attachment_count"         gorm:"not null;default:0"`
	Success         *bool      `json:"success,omitempty"`
	Outcome         string     `json:"outcome,omitempty"        gorm:"type:varchar(32);not null;default:''"`
	FailureReason   *string    `json:"failure_reason,omitempty" gorm:"type:text"`
	DocumentType    *string    `json:"document_type,omitempty"  gorm:"type:varchar(255)"`
	Diagnostics     string     `json:"diagnostics,omitempty"    gorm:"type:text;not null;default:''"`
	StartedAt       time.Time  `json:"started_at"               gorm:"not null;index:idx_processed_status_started,priority:2"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TableName returns the database table name for ProcessedEmail.
func (ProcessedEmail) TableName() string { return "processed_emails" }
