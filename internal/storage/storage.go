// Package storage provides the object store used for uploaded attachments
// and for emails deferred pending approval.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Download when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Store uploads, downloads and deletes objects addressed by (bucket, path).
// Upload overwrites an existing object; Delete of a missing object succeeds.
type Store interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Delete(ctx context.Context, bucket, path string) error
}
