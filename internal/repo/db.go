// Package repo is the GORM persistence layer: pets and their contacts, the
// processed-email ledger, pending approvals, threads and the four health
// record tables. SQLite (pure Go) serves development and tests, PostgreSQL
// production.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// ErrNotFound aliases gorm.ErrRecordNotFound.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert hit a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// Open connects to the configured database driver ("sqlite" or "postgres"),
// installs the OpenTelemetry GORM plugin, and tunes the connection pool.
func Open(driver, dsn string) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		db, err = OpenSQLite(dsn)
	case "postgres", "postgresql":
		db, err = OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("install tracing plugin: %w", err)
	}
	return db, nil
}

// sqlitePragmas run on every new SQLite handle.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

type pool struct {
	maxOpen, maxIdle int
}

func (p pool) apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return nil
}

// OpenSQLite opens or creates the database file at path. The parent
// directory must already exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, pool{maxOpen: 10, maxIdle: 10}.apply(db)
}

// OpenPostgres connects with a libpq keyword DSN or a postgres:// URL.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return db, pool{maxOpen: 20, maxIdle: 5}.apply(db)
}

// AutoMigrate creates or updates every table used by the service, plus the
// partial expression index that keeps pet inbound addresses unique among
// live pets regardless of case. The index statement is valid in both SQLite
// and PostgreSQL.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Pet{},
		&domain.CareContact{},
		&domain.BlockedSender{},
		&domain.ProcessedEmail{},
		&domain.PendingApproval{},
		&domain.MessageThread{},
		&domain.ThreadMessage{},
		&domain.Vaccination{},
		&domain.Medicine{},
		&domain.LabResult{},
		&domain.ClinicalExam{},
		&domain.Blob{},
	); err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_pets_email_id_live ON pets (lower(email_id)) WHERE deleted_at IS NULL`).Error
}

// isDuplicate detects unique-constraint violations across drivers, whether
// or not GORM translated them to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite: "UNIQUE constraint failed" / "constraint failed: UNIQUE"
	// Postgres: "duplicate key value violates unique constraint"
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// normEmail lower-cases and trims an email address for storage and lookup.
func normEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
