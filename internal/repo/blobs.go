package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// PutBlob writes (or overwrites) the object at (bucket, path).
func PutBlob(ctx context.Context, db *gorm.DB, bucket, path, contentType string, data []byte) error {
	b := &domain.Blob{
		Bucket:      bucket,
		Path:        path,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"content_type", "data", "created_at"}),
	}).Create(b).Error
}

// GetBlob returns the object at (bucket, path), or ErrNotFound.
func GetBlob(ctx context.Context, db *gorm.DB, bucket, path string) (*domain.Blob, error) {
	var b domain.Blob
	err := db.WithContext(ctx).
		Where("bucket = ? AND path = ?", bucket, path).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBlob removes the object at (bucket, path). Missing objects are not
// an error.
func DeleteBlob(ctx context.Context, db *gorm.DB, bucket, path string) error {
	return db.WithContext(ctx).
		Where("bucket = ? AND path = ?", bucket, path).
		Delete(&domain.Blob{}).Error
}
