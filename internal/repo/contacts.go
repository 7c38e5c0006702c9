package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// IsCareContact reports whether email belongs to the pet's care team.
func IsCareContact(ctx context.Context, db *gorm.DB, petID, email string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CareContact{}).
		Where("pet_id = ? AND email = ?", petID, normEmail(email)).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// AddCareContact adds email to the pet's care team. An existing contact is
// left untouched and is not an error.
func AddCareContact(ctx context.Context, db *gorm.DB, petID, email, name, role string) error {
	c := &domain.CareContact{
		ID:    uuid.NewString(),
		PetID: petID,
		Email: normEmail(email),
		Name:  name,
		Role:  role,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil && !isDuplicate(err) {
		return err
	}
	return nil
}

// IsBlockedSender reports whether the owner rejected sender for petID.
func IsBlockedSender(ctx context.Context, db *gorm.DB, petID, sender string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.BlockedSender{}).
		Where("pet_id = ? AND sender_email = ?", petID, normEmail(sender)).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

// BlockSender records sender as blocked for petID. Blocking twice is a no-op.
func BlockSender(ctx context.Context, db *gorm.DB, petID, sender string) error {
	b := &domain.BlockedSender{
		ID:          uuid.NewString(),
		PetID:       petID,
		SenderEmail: normEmail(sender),
	}
	if err := db.WithContext(ctx).Create(b).Error; err != nil && !isDuplicate(err) {
		return err
	}
	return nil
}
