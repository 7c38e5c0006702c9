package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

// GormStore keeps objects in the blobs table. It backs local development and
// tests, where no object store is available.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore on db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Upload writes data at (bucket, path).
func (s *GormStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	return repo.PutBlob(ctx, s.db, bucket, path, contentType, data)
}

// Download reads the object at (bucket, path).
func (s *GormStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	b, err := repo.GetBlob(ctx, s.db, bucket, path)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b.Data, nil
}

// Delete removes the object at (bucket, path).
func (s *GormStore) Delete(ctx context.Context, bucket, path string) error {
	return repo.DeleteBlob(ctx, s.db, bucket, path)
}
