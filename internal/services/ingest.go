// Package services – Ingester
//
// Ingester is the inbound email pipeline:
//
//	resolve pet → classify sender → claim ledger →
//	  unknown sender: defer for approval
//	  known sender:   route attachments + link thread → complete ledger
//
// The ingestion step itself (attachments and thread) depends only on the
// email and the pet, so an approved email is replayed through exactly the
// same code with the sender trusted.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/classify"
	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/mailparse"
	"github.com/tbourn/pet-mail-ingest/internal/notify"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
	"github.com/tbourn/pet-mail-ingest/internal/storage"
)

// replayKeyPrefix marks ledger rows written for approval replays.
const replayKeyPrefix = "approved:"

// ReplayKey is the ledger key under which the replay of an approved email
// is recorded. The original key already holds the deferral.
func ReplayKey(emailKey string) string { return replayKeyPrefix + emailKey }

// IngestResult is what ingesting one email produced.
type IngestResult struct {
	Attachments []AttachmentOutcome
	// Thread is set when the email was linked to a conversation.
	Thread    *ThreadInfo
	ThreadErr error
}

// Succeeded reports whether anything from the email is now stored: at least
// one attachment's records, or a thread message.
func (r *IngestResult) Succeeded() bool {
	if r.Thread != nil {
		return true
	}
	for _, o := range r.Attachments {
		if o.Succeeded() {
			return true
		}
	}
	return false
}

// Failed reports whether nothing was stored and at least one step hit an
// error, so trying again may help.
func (r *IngestResult) Failed() bool {
	if r.Succeeded() {
		return false
	}
	if r.ThreadErr != nil {
		return true
	}
	for _, o := range r.Attachments {
		if o.Error != "" {
			return true
		}
	}
	return false
}

// FailureReason summarizes why nothing was stored. It is empty when the
// email succeeded.
func (r *IngestResult) FailureReason() string {
	if r.Succeeded() {
		return ""
	}
	var errs []string
	for _, o := range r.Attachments {
		if o.Error != "" {
			errs = append(errs, fmt.Sprintf("attachment %d (%s): %s", o.Index, o.Filename, o.Error))
		}
	}
	if r.ThreadErr != nil {
		errs = append(errs, "thread: "+r.ThreadErr.Error())
	}
	switch {
	case len(errs) > 0:
		return strings.Join(errs, "; ")
	case len(r.Attachments) == 0:
		return "no attachments"
	default:
		return "no health records found in attachments"
	}
}

// DocumentTypes lists the distinct classified document types in attachment
// order, comma separated.
func (r *IngestResult) DocumentTypes() string {
	seen := map[domain.DocumentType]bool{}
	var out []string
	for _, o := range r.Attachments {
		if !o.Classified || seen[o.DocumentType] {
			continue
		}
		seen[o.DocumentType] = true
		out = append(out, string(o.DocumentType))
	}
	return strings.Join(out, ",")
}

func (r *IngestResult) completion(pet *domain.Pet) repo.LedgerCompletion {
	c := repo.LedgerCompletion{
		PetID:           pet.ID,
		UserID:          pet.UserID,
		AttachmentCount: len(r.Attachments),
		Success:         r.Succeeded(),
		Outcome:         domain.OutcomeProcessed,
		DocumentType:    r.DocumentTypes(),
	}
	if raw, err := json.Marshal(r.Attachments); err == nil {
		c.Diagnostics = string(raw)
	}
	if !c.Success {
		c.Outcome = domain.OutcomeFailed
		c.FailureReason = r.FailureReason()
	}
	return c
}

// Ingester runs the inbound email pipeline.
type Ingester struct {
	Ledger    *Ledger
	Resolver  *Resolver
	Router    *AttachmentRouter
	Threads   *ThreadService
	Approvals *ApprovalService
	Events    notify.Publisher
}

// Options configures NewIngester.
type Options struct {
	InboundDomain         string
	AttachmentsBucket     string
	PendingBucket         string
	MinConfidence         float64
	AttachmentParallelism int
	ClassifyTimeout       time.Duration
	StaleClaim            time.Duration
}

// NewIngester wires the pipeline services around one database, object
// store, classifier and event publisher. A nil publisher disables events.
func NewIngester(db *gorm.DB, store storage.Store, clf classify.Classifier, events notify.Publisher, opt Options) *Ingester {
	if events == nil {
		events = notify.Noop{}
	}
	approvals := &ApprovalService{
		DB:         db,
		Store:      store,
		Events:     events,
		Bucket:     opt.PendingBucket,
		StaleClaim: opt.StaleClaim,
	}
	ing := &Ingester{
		Ledger:   &Ledger{DB: db},
		Resolver: &Resolver{DB: db},
		Router: &AttachmentRouter{
			DB:              db,
			Store:           store,
			Classifier:      clf,
			Bucket:          opt.AttachmentsBucket,
			MinConfidence:   opt.MinConfidence,
			Parallelism:     opt.AttachmentParallelism,
			ClassifyTimeout: opt.ClassifyTimeout,
		},
		Threads:   &ThreadService{DB: db, InboundDomain: opt.InboundDomain},
		Approvals: approvals,
		Events:    events,
	}
	approvals.Replayer = ing
	return ing
}

// Process runs one inbound email through the pipeline and returns the
// webhook response. It never returns a nil response.
func (s *Ingester) Process(ctx context.Context, email *domain.ParsedEmail) (resp *Response) {
	tr := otel.Tracer("services/Ingester")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(attribute.Int("attachment.count", len(email.Attachments))),
	)
	defer span.End()

	if email.EmailKey == "" {
		email.EmailKey = mailparse.EmailKey(email)
	}
	ref := &emailRef{key: email.EmailKey, attachments: len(email.Attachments)}
	span.SetAttributes(attribute.String("email.key", email.EmailKey))

	defer func() {
		ingestOutcomes.WithLabelValues(string(resp.Status)).Inc()
		span.SetAttributes(attribute.String("ingest.status", string(resp.Status)))
	}()

	lg := loggerFrom(ctx).With().Str("email_key", email.EmailKey).Logger()

	if strings.TrimSpace(email.From) == "" {
		return validationResponse(ErrMissingSender)
	}

	route, err := s.Resolver.ResolvePet(ctx, email.Recipient)
	switch {
	case isValidation(err):
		return validationResponse(err)
	case errors.Is(err, ErrPetNotFound):
		lg.Info().Str("recipient", email.Recipient).Msg("ingest: no pet for recipient")
		return notFoundResponse(ref)
	case err != nil:
		span.RecordError(err)
		lg.Error().Err(err).Msg("ingest: resolve pet")
		return errorResponse(ref, "could not resolve recipient")
	}
	pet := route.Pet

	class, err := s.Resolver.ClassifySender(ctx, pet.ID, email.From, route.Thread)
	switch {
	case isValidation(err):
		return validationResponse(err)
	case err != nil:
		span.RecordError(err)
		lg.Error().Err(err).Str("pet_id", pet.ID).Msg("ingest: classify sender")
		return errorResponse(ref, "could not classify sender")
	}
	if class == SenderBlocked {
		return blockedResponse(ref, pet.ID)
	}

	lock := s.Ledger.TryAcquire(ctx, repo.LedgerEntry{
		EmailKey:        email.EmailKey,
		PetID:           pet.ID,
		UserID:          pet.UserID,
		SenderEmail:     email.From,
		Subject:         email.Subject,
		AttachmentCount: len(email.Attachments),
	})
	if !lock.Acquired {
		return duplicateResponse(ref, pet.ID, lock.Status)
	}

	if class == SenderUnknown {
		return s.deferEmail(ctx, email, pet, ref)
	}

	res := s.ingest(ctx, email, pet)
	s.Ledger.MarkCompleted(ctx, email.EmailKey, res.completion(pet))
	if !res.Succeeded() {
		s.publishFailure(ctx, email, pet, res.FailureReason())
	}
	return resultResponse(ref, pet.ID, res)
}

// Replay ingests an approved email with the sender trusted. A replay that
// stored nothing because of errors returns ErrReplayFailed and writes no
// ledger row, so it can be retried. Successful replays are recorded under
// ReplayKey.
func (s *Ingester) Replay(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet) (*IngestResult, error) {
	tr := otel.Tracer("services/Ingester")
	ctx, span := tr.Start(ctx, "Replay",
		trace.WithAttributes(
			attribute.String("email.key", email.EmailKey),
			attribute.String("pet.id", pet.ID),
		),
	)
	defer span.End()

	res := s.ingest(ctx, email, pet)
	if res.Failed() {
		err := fmt.Errorf("%w: %s", ErrReplayFailed, res.FailureReason())
		span.RecordError(err)
		return res, err
	}

	s.Ledger.Record(ctx, repo.LedgerEntry{
		EmailKey:    ReplayKey(email.EmailKey),
		PetID:       pet.ID,
		UserID:      pet.UserID,
		SenderEmail: email.From,
		Subject:     email.Subject,
	}, res.completion(pet))
	return res, nil
}

// ingest routes attachments and links the thread. It is the part of the
// pipeline shared by first delivery and approval replay.
func (s *Ingester) ingest(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet) *IngestResult {
	res := &IngestResult{Attachments: s.Router.Route(ctx, email, pet)}
	if s.Threads == nil {
		return res
	}
	info, err := s.Threads.Link(ctx, email, pet)
	if err != nil {
		loggerFrom(ctx).Error().Err(err).Str("email_key", email.EmailKey).Str("pet_id", pet.ID).Msg("ingest: link thread")
		res.ThreadErr = err
		return res
	}
	res.Thread = info
	return res
}

func (s *Ingester) deferEmail(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet, ref *emailRef) *Response {
	a, err := s.Approvals.Defer(ctx, email, pet)
	if err != nil {
		reason := "defer for approval: " + err.Error()
		loggerFrom(ctx).Error().Err(err).Str("email_key", email.EmailKey).Str("pet_id", pet.ID).Msg("ingest: defer for approval")
		s.Ledger.MarkCompleted(ctx, email.EmailKey, repo.LedgerCompletion{
			PetID:           pet.ID,
			UserID:          pet.UserID,
			AttachmentCount: len(email.Attachments),
			Outcome:         domain.OutcomeFailed,
			FailureReason:   reason,
		})
		s.publishFailure(ctx, email, pet, reason)
		return errorResponse(ref, "could not defer email for approval")
	}

	s.Ledger.MarkCompleted(ctx, email.EmailKey, repo.LedgerCompletion{
		PetID:           pet.ID,
		UserID:          pet.UserID,
		AttachmentCount: len(email.Attachments),
		Outcome:         domain.OutcomePendingApproval,
	})
	return pendingResponse(ref, pet.ID, a.ID)
}

func (s *Ingester) publishFailure(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet, reason string) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, notify.Event{
		Type:        notify.EventIngestFailed,
		UserID:      pet.UserID,
		PetID:       pet.ID,
		EmailKey:    email.EmailKey,
		SenderEmail: email.From,
		Subject:     email.Subject,
		Reason:      reason,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		loggerFrom(ctx).Warn().Err(err).Str("email_key", email.EmailKey).Msg("notify: publish")
	}
}
