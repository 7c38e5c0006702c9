package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
	"github.com/tbourn/pet-mail-ingest/internal/repo"
)

// replyHashLen is the number of hex characters of the thread hash used in a
// reply-to local-part.
const replyHashLen = 12

// ThreadInfo describes how an inbound email was linked to a conversation.
type ThreadInfo struct {
	Thread *domain.MessageThread
	// Created is set when the email started a new thread.
	Created bool
	// Appended is false when the message was already stored for this thread.
	Appended bool
}

// ThreadService links conversational inbound emails to message threads.
type ThreadService struct {
	DB *gorm.DB
	// InboundDomain is the domain reply-to addresses are generated under.
	InboundDomain string
}

// ReplyToAddress derives the reply-to address of a thread. The result only
// depends on threadID and domain, so it can be recomputed at any time.
func ReplyToAddress(threadID, domain string) string {
	sum := sha256.Sum256([]byte(threadID))
	return "reply-" + hex.EncodeToString(sum[:])[:replyHashLen] + "@" + strings.ToLower(strings.TrimSpace(domain))
}

// IsConversational reports whether an email belongs in a thread: it was
// sent to a thread address, it declares itself a reply, or it is a plain
// message without attachments.
func IsConversational(email *domain.ParsedEmail, threadAddressed bool) bool {
	if threadAddressed || email.IsReply() {
		return true
	}
	return len(email.Attachments) == 0 && strings.TrimSpace(email.Body()) != ""
}

// ResolveOrCreate finds the thread an inbound email continues, or starts a
// new one. Lookup order:
//  1. a thread whose reply-to address equals recipient and belongs to pet;
//  2. the most recently created thread of pet addressed to sender;
//  3. a new thread addressed to sender.
//
// Step 2 may pick the wrong conversation when the same sender has several
// threads for one pet; the newest wins.
func (s *ThreadService) ResolveOrCreate(ctx context.Context, recipient, sender, senderName, subject string, pet *domain.Pet) (*domain.MessageThread, bool, error) {
	tr := otel.Tracer("services/ThreadService")
	ctx, span := tr.Start(ctx, "ResolveOrCreate",
		trace.WithAttributes(attribute.String("pet.id", pet.ID)),
	)
	defer span.End()

	th, err := repo.FindThreadByReplyTo(ctx, s.DB, recipient)
	switch {
	case err == nil && th.PetID == pet.ID:
		span.SetAttributes(attribute.String("thread.match", "reply_to"))
		return th, false, nil
	case err != nil && !repo.IsNotFound(err):
		return nil, false, fmt.Errorf("find thread by reply-to: %w", err)
	}

	th, err = repo.FindLatestThreadForRecipient(ctx, s.DB, pet.ID, sender)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("thread.match", "recipient"))
		return th, false, nil
	case !repo.IsNotFound(err):
		return nil, false, fmt.Errorf("find thread by recipient: %w", err)
	}

	th = &domain.MessageThread{
		PetID:          pet.ID,
		UserID:         pet.UserID,
		RecipientEmail: sender,
		RecipientName:  senderName,
		Subject:        subject,
	}
	err = repo.CreateThread(ctx, s.DB, th, func(id string) string {
		return ReplyToAddress(id, s.InboundDomain)
	})
	if err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}
	span.SetAttributes(attribute.String("thread.match", "created"))
	return th, true, nil
}

// Link attaches email to a thread when it is conversational and appends it
// as an inbound message. It returns nil, nil for emails that are not part
// of a conversation.
func (s *ThreadService) Link(ctx context.Context, email *domain.ParsedEmail, pet *domain.Pet) (*ThreadInfo, error) {
	tr := otel.Tracer("services/ThreadService")
	ctx, span := tr.Start(ctx, "Link",
		trace.WithAttributes(
			attribute.String("pet.id", pet.ID),
			attribute.String("email.key", email.EmailKey),
		),
	)
	defer span.End()

	addressed, err := s.threadAddressed(ctx, email.Recipient, pet.ID)
	if err != nil {
		return nil, err
	}
	if !IsConversational(email, addressed) {
		return nil, nil
	}

	th, created, err := s.ResolveOrCreate(ctx, email.Recipient, email.From, email.FromName, email.Subject, pet)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	appended, err := repo.AppendThreadMessage(ctx, s.DB, &domain.ThreadMessage{
		ThreadID:    th.ID,
		EmailKey:    email.EmailKey,
		Direction:   domain.DirectionInbound,
		SenderEmail: email.From,
		Subject:     email.Subject,
		Body:        email.Body(),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("append thread message: %w", err)
	}
	span.SetAttributes(attribute.String("thread.id", th.ID), attribute.Bool("thread.created", created))
	return &ThreadInfo{Thread: th, Created: created, Appended: appended}, nil
}

func (s *ThreadService) threadAddressed(ctx context.Context, recipient, petID string) (bool, error) {
	th, err := repo.FindThreadByReplyTo(ctx, s.DB, recipient)
	if err != nil {
		if repo.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("find thread by reply-to: %w", err)
	}
	return th.PetID == petID, nil
}
