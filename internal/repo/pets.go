package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// FindPetByEmailID returns the live pet whose inbound local-part matches
// emailID case-insensitively. Soft-deleted pets are excluded by GORM's
// default scope.
func FindPetByEmailID(ctx context.Context, db *gorm.DB, emailID string) (*domain.Pet, error) {
	var p domain.Pet
	err := db.WithContext(ctx).
		Where("lower(email_id) = ?", strings.ToLower(strings.TrimSpace(emailID))).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPet returns a live pet by ID.
func GetPet(ctx context.Context, db *gorm.DB, id string) (*domain.Pet, error) {
	var p domain.Pet
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePet inserts a pet. A live pet with the same email_id (any case)
// yields ErrDuplicate.
func CreatePet(ctx context.Context, db *gorm.DB, p *domain.Pet) error {
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
