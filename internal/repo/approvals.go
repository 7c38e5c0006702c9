package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// CreatePendingApproval inserts a pending approval. If one already exists
// for the same (pet, sender, email key) the existing row is returned and
// created is false.
func CreatePendingApproval(ctx context.Context, db *gorm.DB, a *domain.PendingApproval) (out *domain.PendingApproval, created bool, err error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.SenderEmail = normEmail(a.SenderEmail)
	if a.Status == "" {
		a.Status = domain.ApprovalPending
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if !isDuplicate(err) {
			return nil, false, err
		}
		var existing domain.PendingApproval
		if err := db.WithContext(ctx).
			Where("pet_id = ? AND sender_email = ? AND email_key = ?", a.PetID, a.SenderEmail, a.EmailKey).
			First(&existing).Error; err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return a, true, nil
}

// GetApprovalForUser returns an approval owned by userID, or ErrNotFound.
func GetApprovalForUser(ctx context.Context, db *gorm.DB, userID, id string) (*domain.PendingApproval, error) {
	var a domain.PendingApproval
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetApproval returns an approval by ID regardless of owner.
func GetApproval(ctx context.Context, db *gorm.DB, id string) (*domain.PendingApproval, error) {
	var a domain.PendingApproval
	if err := db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// CountApprovals returns the number of approvals owned by userID.
func CountApprovals(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.PendingApproval{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListApprovalsPage returns a page of userID's approvals, newest first.
func ListApprovalsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.PendingApproval, error) {
	var out []domain.PendingApproval
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimApproval moves an approval from pending to approving. A claim older
// than staleBefore is treated as abandoned and may be taken again. It
// reports false when another caller holds a live claim or the row is gone.
func ClaimApproval(ctx context.Context, db *gorm.DB, id string, now, staleBefore time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PendingApproval{}).
		Where("id = ? AND (status = ? OR (status = ? AND claimed_at < ?))",
			id, domain.ApprovalPending, domain.ApprovalApproving, staleBefore).
		Updates(map[string]any{
			"status":     domain.ApprovalApproving,
			"claimed_at": now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// ReleaseApproval returns a claimed approval to pending.
func ReleaseApproval(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.PendingApproval{}).
		Where("id = ? AND status = ?", id, domain.ApprovalApproving).
		Updates(map[string]any{
			"status":     domain.ApprovalPending,
			"claimed_at": nil,
			"updated_at": time.Now().UTC(),
		}).Error
}

// DeleteApproval removes an approval row. Deleting a missing row is not an
// error.
func DeleteApproval(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Delete(&domain.PendingApproval{}, "id = ?", id).Error
}
