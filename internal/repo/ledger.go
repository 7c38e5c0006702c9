package repo

// The ledger (processed_emails) is claimed with a single INSERT against a
// unique index; callers never read before writing. A unique violation means
// another delivery of the same email already owns or finished the key.

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// LedgerEntry carries the diagnostic metadata written with a new ledger row.
type LedgerEntry struct {
	EmailKey        string
	PetID           string
	UserID          string
	SenderEmail     string
	Subject         string
	AttachmentCount int
}

// LedgerCompletion is the outcome recorded when a row is completed.
type LedgerCompletion struct {
	PetID           string
	UserID          string
	AttachmentCount int
	Success         bool
	Outcome         string
	FailureReason   string
	DocumentType    string
	Diagnostics     string
}

// InsertProcessing inserts a ledger row in the processing state. It returns
// ErrDuplicate when a row for the key already exists; any other error is a
// store failure.
func InsertProcessing(ctx context.Context, db *gorm.DB, e LedgerEntry) (*domain.ProcessedEmail, error) {
	rec := &domain.ProcessedEmail{
		ID:              uuid.NewString(),
		EmailKey:        e.EmailKey,
		Status:          domain.LedgerProcessing,
		PetID:           optString(e.PetID),
		UserID:          optString(e.UserID),
		SenderEmail:     normEmail(e.SenderEmail),
		Subject:         e.Subject,
		AttachmentCount: e.AttachmentCount,
		StartedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetLedger returns the ledger row for key, or ErrNotFound.
func GetLedger(ctx context.Context, db *gorm.DB, key string) (*domain.ProcessedEmail, error) {
	var rec domain.ProcessedEmail
	err := db.WithContext(ctx).Where("email_key = ?", key).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CompleteLedger moves the row for key from processing to completed and
// records the outcome. The WHERE clause pins the source state, so a row
// that is already completed is never rewritten. It returns the number of
// rows affected (0 or 1).
func CompleteLedger(ctx context.Context, db *gorm.DB, key string, c LedgerCompletion) (int64, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":           domain.LedgerCompleted,
		"success":          c.Success,
		"outcome":          c.Outcome,
		"attachment_count": c.AttachmentCount,
		"failure_reason":   optString(c.FailureReason),
		"document_type":    optString(c.DocumentType),
		"diagnostics":      c.Diagnostics,
		"completed_at":     now,
	}
	if c.PetID != "" {
		updates["pet_id"] = c.PetID
	}
	if c.UserID != "" {
		updates["user_id"] = c.UserID
	}
	res := db.WithContext(ctx).
		Model(&domain.ProcessedEmail{}).
		Where("email_key = ? AND status = ?", key, domain.LedgerProcessing).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// InsertCompleted writes an already-completed ledger row in one statement.
// It is used for approval replays, which are audited under their own key.
// A duplicate key is reported as ErrDuplicate.
func InsertCompleted(ctx context.Context, db *gorm.DB, e LedgerEntry, c LedgerCompletion) error {
	now := time.Now().UTC()
	success := c.Success
	rec := &domain.ProcessedEmail{
		ID:              uuid.NewString(),
		EmailKey:        e.EmailKey,
		Status:          domain.LedgerCompleted,
		PetID:           optString(e.PetID),
		UserID:          optString(e.UserID),
		SenderEmail:     normEmail(e.SenderEmail),
		Subject:         e.Subject,
		AttachmentCount: c.AttachmentCount,
		Success:         &success,
		Outcome:         c.Outcome,
		FailureReason:   optString(c.FailureReason),
		DocumentType:    optString(c.DocumentType),
		Diagnostics:     c.Diagnostics,
		StartedAt:       now,
		CompletedAt:     &now,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// HasSuccessfulIngestion reports whether sender has at least one completed,
// successful, processed email for petID.
func HasSuccessfulIngestion(ctx context.Context, db *gorm.DB, petID, sender string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ProcessedEmail{}).
		Where("pet_id = ? AND sender_email = ? AND status = ? AND success = ? AND outcome = ?",
			petID, normEmail(sender), domain.LedgerCompleted, true, domain.OutcomeProcessed).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// ListStaleProcessing returns processing rows started before cutoff, oldest
// first. A non-positive limit returns every match.
func ListStaleProcessing(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.ProcessedEmail, error) {
	var out []domain.ProcessedEmail
	q := db.WithContext(ctx).
		Where("status = ? AND started_at < ?", domain.LedgerProcessing, cutoff).
		Order("started_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountFailedEmails returns how many failed ingestions userID can see.
func CountFailedEmails(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := failedScope(db.WithContext(ctx), userID).
		Model(&domain.ProcessedEmail{}).
		Count(&total).Error
	return total, err
}

// ListFailedEmailsPage returns a page of userID's failed ingestions, most
// recent first.
func ListFailedEmailsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ProcessedEmail, error) {
	var out []domain.ProcessedEmail
	err := failedScope(db.WithContext(ctx), userID).
		Order("completed_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DismissFailedEmail deletes a failed ingestion owned by userID. This is the
// only deletion the ledger allows; processing and successful rows are never
// removed. Returns ErrNotFound if nothing matched.
func DismissFailedEmail(ctx context.Context, db *gorm.DB, userID, key string) error {
	res := failedScope(db.WithContext(ctx), userID).
		Where("email_key = ?", key).
		Delete(&domain.ProcessedEmail{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func failedScope(db *gorm.DB, userID string) *gorm.DB {
	return db.Where("user_id = ? AND status = ? AND outcome = ?",
		userID, domain.LedgerCompleted, domain.OutcomeFailed)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IsNotFound reports whether err is a not-found error from this package.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
