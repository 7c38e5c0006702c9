package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

// SenderClass is the trust level of a sender for one pet.
type SenderClass string

const (
	SenderKnown   SenderClass = "known"
	SenderUnknown SenderClass = "unknown"
	SenderBlocked SenderClass = "blocked"
)

// Route is where an inbound email lands.
type Route struct {
	Pet *domain.Pet
	// Thread is set when the email was sent to a thread's reply address.
	Thread *domain.MessageThread
}

// Resolver maps recipients to pets and senders to trust levels.
type Resolver struct {
	DB *gorm.DB
}

// ResolvePet finds the pet addressed by recipient. An address equal to a
// thread's reply-to address resolves through the thread; otherwise the
// local-part is matched case-insensitively against live pets' email IDs.
//
// A recipient without "@" or with an empty local-part yields
// ErrInvalidRecipient; no matching pet yields ErrPetNotFound.
func (r *Resolver) ResolvePet(ctx context.Context, recipient string) (*Route, error) {
	tr := otel.Tracer("services/Resolver")
	ctx, span := tr.Start(ctx, "ResolvePet")
	defer span.End()

	addr := strings.ToLower(strings.TrimSpace(recipient))
	local, _, ok := strings.Cut(addr, "@")
	if !ok || local == "" {
		return nil, ErrInvalidRecipient
	}

	th, err := repo.FindThreadByReplyTo(ctx, r.DB, addr)
	switch {
	case err == nil:
		pet, perr := repo.GetPet(ctx, r.DB, th.PetID)
		if perr != nil {
			if repo.IsNotFound(perr) {
				return nil, ErrPetNotFound
			}
			return nil, fmt.Errorf("load thread pet: %w", perr)
		}
		span.SetAttributes(attribute.String("pet.id", pet.ID), attribute.String("thread.id", th.ID))
		return &Route{Pet: pet, Thread: th}, nil
	case !repo.IsNotFound(err):
		return nil, fmt.Errorf("find thread by reply-to: %w", err)
	}

	pet, err := repo.FindPetByEmailID(ctx, r.DB, local)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrPetNotFound
		}
		return nil, fmt.Errorf("find pet: %w", err)
	}
	span.SetAttributes(attribute.String("pet.id", pet.ID))
	return &Route{Pet: pet}, nil
}

// ClassifySender decides how much the pet trusts sender. Blocked wins over
// every Known rule. thread may be nil.
func (r *Resolver) ClassifySender(ctx context.Context, petID, sender string, thread *domain.MessageThread) (SenderClass, error) {
	tr := otel.Tracer("services/Resolver")
	ctx, span := tr.Start(ctx, "ClassifySender",
		trace.WithAttributes(attribute.String("pet.id", petID)),
	)
	defer span.End()

	sender = strings.ToLower(strings.TrimSpace(sender))
	if sender == "" {
		return "", ErrMissingSender
	}

	class, err := r.classify(ctx, petID, sender, thread)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.String("sender.class", string(class)))
	return class, nil
}

func (r *Resolver) classify(ctx context.Context, petID, sender string, thread *domain.MessageThread) (SenderClass, error) {
	blocked, err := repo.IsBlockedSender(ctx, r.DB, petID, sender)
	if err != nil {
		return "", fmt.Errorf("blocked lookup: %w", err)
	}
	if blocked {
		return SenderBlocked, nil
	}

	if thread != nil && thread.PetID == petID && strings.EqualFold(thread.RecipientEmail, sender) {
		return SenderKnown, nil
	}

	contact, err := repo.IsCareContact(ctx, r.DB, petID, sender)
	if err != nil {
		return "", fmt.Errorf("care contact lookup: %w", err)
	}
	if contact {
		return SenderKnown, nil
	}

	prior, err := repo.HasSuccessfulIngestion(ctx, r.DB, petID, sender)
	if err != nil {
		return "", fmt.Errorf("ingestion history lookup: %w", err)
	}
	if prior {
		return SenderKnown, nil
	}
	return SenderUnknown, nil
}

// isValidation reports whether err is a caller error rather than an
// infrastructure failure.
func isValidation(err error) bool {
	return errors.Is(err, ErrInvalidRecipient) || errors.Is(err, ErrMissingSender)
}
