// Package services – Ledger
//
// Ledger wraps the processed_emails table as an idempotency lock. A claim is
// one INSERT against the unique email_key index; the losing side of a race
// reads the winner's status. Store errors other than a unique violation fail
// open: the email is processed without a lock, and the event is logged and
// counted so double-processing risk stays visible.
package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

// LedgerStatusUnknown is reported when a key is already claimed but its row
// could not be read back.
const LedgerStatusUnknown = "unknown"

// LockResult is the outcome of a ledger claim.
type LockResult struct {
	Acquired bool
	// Status is the existing row's status when Acquired is false.
	Status string
	// FailedOpen is set when the claim could not be recorded and processing
	// continues without a lock.
	FailedOpen bool
}

// Ledger claims and completes email keys.
type Ledger struct {
	DB *gorm.DB
}

// TryAcquire claims e.EmailKey. Exactly one caller per key sees
// Acquired=true unless the store fails, in which case every caller fails
// open.
func (l *Ledger) TryAcquire(ctx context.Context, e repo.LedgerEntry) LockResult {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "TryAcquire",
		trace.WithAttributes(attribute.String("email.key", e.EmailKey)),
	)
	defer span.End()

	_, err := repo.InsertProcessing(ctx, l.DB, e)
	if err == nil {
		span.SetAttributes(attribute.Bool("ledger.acquired", true))
		return LockResult{Acquired: true}
	}

	if errors.Is(err, repo.ErrDuplicate) {
		status := LedgerStatusUnknown
		if rec, gerr := repo.GetLedger(ctx, l.DB, e.EmailKey); gerr == nil {
			status = rec.Status
		} else {
			loggerFrom(ctx).Warn().Err(gerr).Str("email_key", e.EmailKey).Msg("ledger: read existing status")
		}
		span.SetAttributes(attribute.Bool("ledger.acquired", false), attribute.String("ledger.status", status))
		return LockResult{Status: status}
	}

	ledgerFailOpen.Inc()
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("ledger.fail_open", true))
	loggerFrom(ctx).Error().
		Err(err).
		Str("email_key", e.EmailKey).
		Str("pet_id", e.PetID).
		Msg("ledger: claim failed, processing without lock")
	return LockResult{Acquired: true, FailedOpen: true}
}

// MarkCompleted moves key from processing to completed. A completion that
// matches no processing row is logged and otherwise ignored; errors are
// logged, never returned, because the email itself has been handled.
func (l *Ledger) MarkCompleted(ctx context.Context, key string, c repo.LedgerCompletion) {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "MarkCompleted",
		trace.WithAttributes(
			attribute.String("email.key", key),
			attribute.Bool("ledger.success", c.Success),
			attribute.String("ledger.outcome", c.Outcome),
		),
	)
	defer span.End()

	n, err := repo.CompleteLedger(ctx, l.DB, key, c)
	if err != nil {
		span.RecordError(err)
		loggerFrom(ctx).Error().Err(err).Str("email_key", key).Msg("ledger: mark completed")
		return
	}
	if n == 0 {
		ledgerCompleteMissed.Inc()
		loggerFrom(ctx).Warn().
			Str("email_key", key).
			Str("outcome", c.Outcome).
			Msg("ledger: no processing row to complete")
	}
}

// Record writes an already-completed row for e. It is used for approval
// replays; a row that already exists is left alone.
func (l *Ledger) Record(ctx context.Context, e repo.LedgerEntry, c repo.LedgerCompletion) {
	tr := otel.Tracer("services/Ledger")
	ctx, span := tr.Start(ctx, "Record",
		trace.WithAttributes(attribute.String("email.key", e.EmailKey)),
	)
	defer span.End()

	err := repo.InsertCompleted(ctx, l.DB, e, c)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrDuplicate):
		loggerFrom(ctx).Info().Str("email_key", e.EmailKey).Msg("ledger: replay already recorded")
	default:
		span.RecordError(err)
		loggerFrom(ctx).Error().Err(err).Str("email_key", e.EmailKey).Msg("ledger: record replay")
	}
}
