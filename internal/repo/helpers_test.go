package repo

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// newTestDB opens a private in-memory database with only the given models
// migrated, so tests can also exercise missing-table paths.
func newTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedApproval(t *testing.T, db *gorm.DB, id, userID string, at time.Time) {
	t.Helper()
	a := &domain.PendingApproval{
		ID:          id,
		PetID:       "p-" + userID,
		UserID:      userID,
		SenderEmail: id + "@x.example",
		EmailKey:    "k-" + id,
		S3Bucket:    "b",
		S3Key:       "pending-emails/" + id + ".json",
		Status:      domain.ApprovalPending,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("seed approval %s: %v", id, err)
	}
}
