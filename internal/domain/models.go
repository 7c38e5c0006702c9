// Package domain defines the persistence models for pets, their care team,
// conversation threads, and the inbound email workflow. These types are
// mapped with GORM and shared across the repository and service layers.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Pet is the owner of a dedicated inbound address. Mail sent to
// <EmailID>@<inbound domain> is routed to this pet.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owner of the pet; indexed for per-user listings.
//   - EmailID: local-part of the inbound address. Unique among live pets,
//     compared case-insensitively (enforced by a partial expression index
//     created in repo.AutoMigrate).
//   - Name / Species: passed to the classifier as a context hint.
//   - DeletedAt: soft deletion marker; deleted pets stop receiving mail.
type Pet struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_pets"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null"`
	Species   string         `json:"species"    gorm:"type:varchar(64);not null;default:''"`
	EmailID   string         `json:"email_id"   gorm:"type:varchar(128);not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Pet.
func (Pet) TableName() string { return "pets" }

// Care contact roles.
const (
	ContactRoleVet      = "vet"
	ContactRoleGroomer  = "groomer"
	ContactRoleOther    = "other"
	ContactRoleApproved = "approved" // added by an approved pending email
)

// CareContact is a member of a pet's care team. Mail from a care contact is
// processed without approval.
type CareContact struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	PetID     string    `json:"pet_id"     gorm:"type:char(36);not null;uniqueIndex:ux_contact_pet_email,priority:1"`
	Email     string    `json:"email"      gorm:"type:varchar(320);not null;uniqueIndex:ux_contact_pet_email,priority:2"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;default:''"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;default:'other'"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for CareContact.
func (CareContact) TableName() string { return "care_contacts" }

// BlockedSender records a sender the pet's owner rejected. Mail from a
// blocked sender to that pet short-circuits to a blocked response.
type BlockedSender struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	PetID       string    `json:"pet_id"       gorm:"type:char(36);not null;uniqueIndex:ux_blocked_pet_sender,priority:1"`
	SenderEmail string    `json:"sender_email" gorm:"type:varchar(320);not null;uniqueIndex:ux_blocked_pet_sender,priority:2"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for BlockedSender.
func (BlockedSender) TableName() string { return "blocked_senders" }

// Pending approval statuses.
const (
	ApprovalPending   = "pending"
	ApprovalApproving = "approving"
)

// PendingApproval is an email from a sender the pet does not know yet. The
// raw email is stored verbatim at (S3Bucket, S3Key) until the owner decides.
//
// One row exists per (pet, sender, message); approvals are independent of
// each other.
type PendingApproval struct {
	ID          string     `json:"id"           gorm:"type:char(36);primaryKey"`
	PetID       string     `json:"pet_id"       gorm:"type:char(36);not null;index;uniqueIndex:ux_pending_pet_sender_msg,priority:1"`
	UserID      string     `json:"user_id"      gorm:"type:varchar(64);not null;index"`
	SenderEmail string     `json:"sender_email" gorm:"type:varchar(320);not null;uniqueIndex:ux_pending_pet_sender_msg,priority:2"`
	EmailKey    string     `json:"email_key"    gorm:"type:varchar(512);not null;uniqueIndex:ux_pending_pet_sender_msg,priority:3"`
	Subject     string     `json:"subject"      gorm:"type:text;not null;default:''"`
	S3Bucket    string     `json:"s3_bucket"    gorm:"type:varchar(255);not null"`
	S3Key       string     `json:"s3_key"       gorm:"type:varchar(1024);not null"`
	Status      string     `json:"status"       gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','approving')"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PendingApproval.
func (PendingApproval) TableName() string { return "pending_email_approvals" }

// MessageThread is a conversation between a pet's owner and one external
// recipient. ReplyToAddress is derived from ID, so a reply's destination
// address identifies the thread.
type MessageThread struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	PetID          string    `json:"pet_id"           gorm:"type:char(36);not null;index:idx_thread_pet_recipient,priority:1"`
	UserID         string    `json:"user_id"          gorm:"type:varchar(64);not null;index"`
	RecipientEmail string    `json:"recipient_email"  gorm:"type:varchar(320);not null;index:idx_thread_pet_recipient,priority:2"`
	RecipientName  string    `json:"recipient_name"   gorm:"type:varchar(255);not null;default:''"`
	ReplyToAddress string    `json:"reply_to_address" gorm:"type:varchar(320);not null;uniqueIndex"`
	Subject        string    `json:"subject"          gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time `json:"created_at"       gorm:"index:idx_thread_pet_recipient,priority:3"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for MessageThread.
func (MessageThread) TableName() string { return "message_threads" }

// Thread message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// ThreadMessage is one message in a MessageThread. Inbound messages are
// keyed by the email key so a redelivered reply is appended once.
type ThreadMessage struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	ThreadID    string    `json:"thread_id"    gorm:"type:char(36);not null;uniqueIndex:ux_thread_msg_key,priority:1"`
	EmailKey    string    `json:"email_key"    gorm:"type:varchar(512);not null;uniqueIndex:ux_thread_msg_key,priority:2"`
	Direction   string    `json:"direction"    gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	SenderEmail string    `json:"sender_email" gorm:"type:varchar(320);not null"`
	Subject     string    `json:"subject"      gorm:"type:text;not null;default:''"`
	Body        string    `json:"body"         gorm:"type:text;not null;default:''"`
	CreatedAt   time.Time `json:"created_at"`

	Thread MessageThread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ThreadMessage.
func (ThreadMessage) TableName() string { return "thread_messages" }

// Blob is an object stored in the database-backed object store used in
// development and tests. Production deployments use S3.
type Blob struct {
	Bucket      string    `gorm:"type:varchar(255);primaryKey"`
	Path        string    `gorm:"type:varchar(1024);primaryKey"`
	ContentType string    `gorm:"type:varchar(255);not null;default:''"`
	Data        []byte    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName returns the database table name for Blob.
func (Blob) TableName() string { return "blobs" }
