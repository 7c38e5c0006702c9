// Package services – ApprovalService
//
// ApprovalService owns emails from senders a pet does not know yet. Defer
// stores the parsed email verbatim and opens a PendingApproval. Approve
// replays the stored email through the same ingestion path with the sender
// trusted and, once the replay holds, forgets the approval. Reject blocks
// the sender for the pet. Approvals are independent: resolving one never
// touches another.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/mailparse"
	"github.com/tbourn/pet-mail-ingest/internal/notify"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
	"github.com/tbourn/pet-mail-ingest/internal/utils"
	"github.com/tbourn/pet-mail-ingest/internal/storage"
)

// pendingPrefix is the storage folder for deferred emails.
const pendingPrefix = "pending-emails/"

// Replayer re-runs ingestion for a stored email with the sender trusted.
type Replayer interface {
	Replay(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet) (*IngestResult, error)
}

// ApprovalResult is returned by Approve.
type ApprovalResult struct {
	Approval domain.PendingApproval
	Result   *IngestResult
}

// ApprovalService implements the pending-approval workflow.
type ApprovalService struct {
	DB       *gorm.DB
	Store    storage.Store
	Events   notify.Publisher
	Replayer Replayer

	// Bucket holds deferred emails.
	Bucket string
	// StaleClaim is how long an approve attempt may hold an approval before
	// another attempt can take it over.
	StaleClaim time.Duration

	now func() time.Time
}

// PendingEmailPath returns the storage path of a deferred email. The path
// only depends on the email key, so redelivery overwrites the same object.
func PendingEmailPath(emailKey string) string {
	return pendingPrefix + mailparse.SanitizeKey(emailKey) + ".json"
}

// Defer stores email and records a pending approval for (pet, sender,
// email). Deferring the same email again returns the existing approval.
func (s *ApprovalService) Defer(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet) (*domain.PendingApproval, error) {
	tr := otel.Tracer("services/ApprovalService")
	ctx, span := tr.Start(ctx, "Defer",
		trace.WithAttributes(
			attribute.String("pet.id", pet.ID),
			attribute.String("email.key", email.EmailKey),
		),
	)
	defer span.End()

	raw, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("encode email: %w", err)
	}
	path := PendingEmailPath(email.EmailKey)
	if err := s.Store.Upload(ctx, s.Bucket, path, raw, "application/json"); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store pending email: %w", err)
	}

	a, created, err := repo.CreatePendingApproval(ctx, s.DB, &domain.PendingApproval{
		PetID:       pet.ID,
		UserID:      pet.UserID,
		SenderEmail: email.From,
		EmailKey:    email.EmailKey,
		Subject:     email.Subject,
		S3Bucket:    s.Bucket,
		S3Key:       path,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create pending approval: %w", err)
	}
	span.SetAttributes(attribute.String("approval.id", a.ID), attribute.Bool("approval.created", created))

	if created {
		s.publish(ctx, notify.Event{
			Type:        notify.EventPendingApproval,
			UserID:      a.UserID,
			PetID:       a.PetID,
			EmailKey:    a.EmailKey,
			SenderEmail: a.SenderEmail,
			Subject:     a.Subject,
			ApprovalID:  a.ID,
		})
	}
	return a, nil
}

// ListPage returns a page of userID's pending approvals, newest first.
func (s *ApprovalService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PendingApproval, int64, error) {
	tr := otel.Tracer("services/ApprovalService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize, offset := utils.Window(page, pageSize)

	total, err := repo.CountApprovals(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.PendingApproval{}, 0, nil
	}
	items, err := repo.ListApprovalsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Version returns the number of userID's approvals and the latest change
// time, for conditional GETs.
func (s *ApprovalService) Version(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.ApprovalsStats(ctx, s.DB, userID)
}

// Approve replays the approval's stored email with the sender trusted. On
// success the sender becomes an approved care contact and the approval and
// stored email are deleted. On failure both are kept and the claim is
// released so the owner can retry.
//
// userID scopes the lookup to the pet owner; an empty userID skips the
// ownership check (operator tooling).
func (s *ApprovalService) Approve(ctx context.Context, userID, id string) (*ApprovalResult, error) {
	tr := otel.Tracer("services/ApprovalService")
	ctx, span := tr.Start(ctx, "Approve",
		trace.WithAttributes(attribute.String("approval.id", id)),
	)
	defer span.End()

	a, err := s.claim(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	res, err := s.approve(ctx, a)
	if err != nil {
		span.RecordError(err)
		if rerr := repo.ReleaseApproval(ctx, s.DB, a.ID); rerr != nil {
			loggerFrom(ctx).Error().Err(rerr).Str("approval_id", a.ID).Msg("approval: release claim")
		}
		return nil, err
	}
	return res, nil
}

func (s *ApprovalService) approve(ctx context.Context, a *domain.PendingApproval) (*ApprovalResult, error) {
	email, err := s.loadEmail(ctx, a)
	if err != nil {
		return nil, err
	}
	pet, err := repo.GetPet(ctx, s.DB, a.PetID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrPetNotFound
		}
		return nil, fmt.Errorf("load pet: %w", err)
	}

	result, err := s.Replayer.Replay(ctx, email, pet)
	if err != nil {
		return nil, err
	}

	if err := repo.AddCareContact(ctx, s.DB, pet.ID, a.SenderEmail, email.FromName, domain.ContactRoleApproved); err != nil {
		return nil, fmt.Errorf("add approved sender: %w", err)
	}
	s.forget(ctx, a)
	return &ApprovalResult{Approval: *a, Result: result}, nil
}

// Reject blocks the approval's sender for its pet and deletes the approval
// and its stored email.
func (s *ApprovalService) Reject(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/ApprovalService")
	ctx, span := tr.Start(ctx, "Reject",
		trace.WithAttributes(attribute.String("approval.id", id)),
	)
	defer span.End()

	a, err := s.claim(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := repo.BlockSender(ctx, s.DB, a.PetID, a.SenderEmail); err != nil {
		span.RecordError(err)
		if rerr := repo.ReleaseApproval(ctx, s.DB, a.ID); rerr != nil {
			loggerFrom(ctx).Error().Err(rerr).Str("approval_id", a.ID).Msg("approval: release claim")
		}
		return fmt.Errorf("block sender: %w", err)
	}
	s.forget(ctx, a)
	return nil
}

// claim loads the approval and moves it to approving. A live claim held by
// another request yields ErrApprovalBusy.
func (s *ApprovalService) claim(ctx context.Context, userID, id string) (*domain.PendingApproval, error) {
	var (
		a   *domain.PendingApproval
		err error
	)
	if userID == "" {
		a, err = repo.GetApproval(ctx, s.DB, id)
	} else {
		a, err = repo.GetApprovalForUser(ctx, s.DB, userID, id)
	}
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}

	now := s.clock()
	stale := s.StaleClaim
	if stale <= 0 {
		stale = 5 * time.Minute
	}
	ok, err := repo.ClaimApproval(ctx, s.DB, a.ID, now, now.Add(-stale))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrApprovalBusy
	}
	return a, nil
}

func (s *ApprovalService) loadEmail(ctx context.Context, a *domain.PendingApproval) (*domain.ParsedEmail, error) {
	raw, err := s.Store.Download(ctx, a.S3Bucket, a.S3Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPendingEmailMissing
		}
		return nil, fmt.Errorf("load pending email: %w", err)
	}
	var email domain.ParsedEmail
	if err := json.Unmarshal(raw, &email); err != nil {
		return nil, fmt.Errorf("decode pending email: %w", err)
	}
	return &email, nil
}

// forget deletes the stored email and the approval row. A blob that cannot
// be deleted is logged; the row is removed regardless.
func (s *ApprovalService) forget(ctx context.Context, a *domain.PendingApproval) {
	if err := s.Store.Delete(ctx, a.S3Bucket, a.S3Key); err != nil {
		loggerFrom(ctx).Warn().Err(err).
			Str("approval_id", a.ID).
			Str("bucket", a.S3Bucket).
			Str("key", a.S3Key).
			Msg("approval: delete stored email")
	}
	if err := repo.DeleteApproval(ctx, s.DB, a.ID); err != nil {
		loggerFrom(ctx).Error().Err(err).Str("approval_id", a.ID).Msg("approval: delete row")
	}
}

func (s *ApprovalService) publish(ctx context.Context, ev notify.Event) {
	if s.Events == nil {
		return
	}
	ev.OccurredAt = s.clock()
	if err := s.Events.Publish(ctx, ev); err != nil {
		loggerFrom(ctx).Warn().Err(err).Str("event", ev.Type).Str("email_key", ev.EmailKey).Msg("notify: publish")
	}
}

func (s *ApprovalService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
