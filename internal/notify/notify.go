// Package notify publishes pipeline events (a pending approval was created,
// an ingestion failed) to an async queue consumed by the push-notification
// sender.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Event types.
const (
	EventPendingApproval = "pending_approval"
	EventIngestFailed    = "ingest_failed"
)

// Event is the SQS message body.
type Event struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	PetID       string    `json:"petId"`
	EmailKey    string    `json:"emailKey"`
	SenderEmail string    `json:"senderEmail,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	ApprovalID  string    `json:"approvalId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Publisher publishes pipeline events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes events to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
	}
}

// Publish sends ev to SQS. The event type is also set as a message
// attribute so consumers can filter without decoding the body.
func (p *SQSPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	bodyStr := string(body)
	dataType := "String"
	evType := ev.Type
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: &dataType, StringValue: &evType},
		},
	})
	return err
}

// Noop discards events. It is used when no queue is configured.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, Event) error { return nil }
