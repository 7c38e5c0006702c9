package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// rowsVersion reports how many rows q matches and the newest value of col
// among them, or (0, nil) for an empty set. The handlers derive ETags from it.
func rowsVersion(q *gorm.DB, col string) (int64, *time.Time, error) {
	q = q.Session(&gorm.Session{})

	var n int64
	if err := q.Count(&n).Error; err != nil || n == 0 {
		return 0, nil, err
	}
	// ORDER BY rather than MAX(): SQLite hands MAX() of a timestamp back as TEXT.
	var newest []*time.Time
	if err := q.Order(col+" DESC").Limit(1).Pluck(col, &newest).Error; err != nil {
		return 0, nil, err
	}
	if len(newest) == 0 {
		return n, nil, nil
	}
	return n, newest[0], nil
}

// ApprovalsStats is the version of a user's pending approvals, keyed on updated_at.
func ApprovalsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return rowsVersion(db.WithContext(ctx).Model(&domain.PendingApproval{}).Where("user_id = ?", userID), "updated_at")
}

// FailedEmailsStats is the version of a user's failed ingestions, keyed on
// completed_at.
func FailedEmailsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return rowsVersion(failedScope(db.WithContext(ctx), userID).Model(&domain.ProcessedEmail{}), "completed_at")
}
