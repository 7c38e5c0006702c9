package repo

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/domain"
)

// FindThreadByReplyTo returns the thread whose reply-to address equals addr
// (case-insensitive).
func FindThreadByReplyTo(ctx context.Context, db *gorm.DB, addr string) (*domain.MessageThread, error) {
	var th domain.MessageThread
	err := db.WithContext(ctx).
		Where("reply_to_address = ?", strings.ToLower(strings.TrimSpace(addr))).
		First(&th).Error
	if err != nil {
		return nil, err
	}
	return &th, nil
}

// FindLatestThreadForRecipient returns the most recently created thread of
// petID addressed to recipient.
func FindLatestThreadForRecipient(ctx context.Context, db *gorm.DB, petID, recipient string) (*domain.MessageThread, error) {
	var th domain.MessageThread
	err := db.WithContext(ctx).
		Where("pet_id = ? AND recipient_email = ?", petID, normEmail(recipient)).
		Order("created_at DESC, id DESC").
		First(&th).Error
	if err != nil {
		return nil, err
	}
	return &th, nil
}

// CreateThread inserts th. ID is generated when empty and ReplyTo, if
// non-nil, derives the reply-to address from the final ID.
func CreateThread(ctx context.Context, db *gorm.DB, th *domain.MessageThread, replyTo func(threadID string) string) error {
	if th.ID == "" {
		th.ID = uuid.NewString()
	}
	th.RecipientEmail = normEmail(th.RecipientEmail)
	if replyTo != nil {
		th.ReplyToAddress = strings.ToLower(replyTo(th.ID))
	}
	return db.WithContext(ctx).Create(th).Error
}

// AppendThreadMessage adds msg to its thread. A message already stored for
// the same (thread, email key) is kept and appended reports false.
func AppendThreadMessage(ctx context.Context, db *gorm.DB, msg *domain.ThreadMessage) (appended bool, err error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SenderEmail = normEmail(msg.SenderEmail)
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Thread").Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&domain.MessageThread{}).
			Where("id = ?", msg.ThreadID).
			Update("updated_at", msg.CreatedAt).Error
	})
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListThreadMessages returns a thread's messages in chronological order.
func ListThreadMessages(ctx context.Context, db *gorm.DB, threadID string) ([]domain.ThreadMessage, error) {
	var out []domain.ThreadMessage
	err := db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
