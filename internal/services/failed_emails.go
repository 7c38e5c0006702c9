package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
	"github.com/tbourn/pet-mail-ingest/internal/utils"
)

// FailedEmailService lists and dismisses a user's failed ingestions.
type FailedEmailService struct {
	DB *gorm.DB
}

// ListPage returns a page of userID's failed ingestions, most recent first.
func (s *FailedEmailService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ProcessedEmail, int64, error) {
	tr := otel.Tracer("services/FailedEmailService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize, offset := utils.Window(page, pageSize)

	total, err := repo.CountFailedEmails(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ProcessedEmail{}, 0, nil
	}
	items, err := repo.ListFailedEmailsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Version returns the number of userID's failed ingestions and the latest
// completion time, for conditional GETs.
func (s *FailedEmailService) Version(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.FailedEmailsStats(ctx, s.DB, userID)
}

// Dismiss deletes the failed ingestion with the given email key.
func (s *FailedEmailService) Dismiss(ctx context.Context, userID, emailKey string) error {
	tr := otel.Tracer("services/FailedEmailService")
	ctx, span := tr.Start(ctx, "Dismiss",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	emailKey = strings.TrimSpace(emailKey)
	if emailKey == "" {
		return ErrFailedEmailNotFound
	}
	err := repo.DismissFailedEmail(ctx, s.DB, userID, emailKey)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrFailedEmailNotFound
	}
	return err
}
