package model

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is a domain event awaiting delivery to the event channel.
// It is written in the same transaction as the state change it describes.
type OutboxEvent struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	AggregateType string         `json:"aggregate_type" gorm:"size:100;not null"`
	AggregateID   string         `json:"aggregate_id" gorm:"size:255;not null"`
	EventType     string         `json:"event_type" gorm:"size:100;not null"`
	Payload       map[string]any `json:"payload" gorm:"serializer:json"`
	Published     bool           `json:"published" gorm:"not null;default:false;index:idx_outbox_unpublished"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
}

// TableName returns the table name for GORM.
func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// ToDomainEvent converts the outbox row into the envelope published on the
// event channel. The row id doubles as the event id so consumers can dedup
// redeliveries of the same row.
func (e *OutboxEvent) ToDomainEvent() *DomainEvent {
	return &DomainEvent{
		ID:            e.ID.String(),
		Type:          e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       e.Payload,
		Timestamp:     e.CreatedAt.UTC(),
	}
}

// DomainEvent is the JSON envelope carried by the event channel.
type DomainEvent struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregateType"`
	AggregateID   string         `json:"aggregateId"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewDomainEvent creates an event envelope with a fresh id and timestamp.
func NewDomainEvent(eventType, aggregateType, aggregateID string, payload map[string]any) *DomainEvent {
	return &DomainEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}

// Canonical event types.
const (
	EventPaymentCreated    = "payment.created"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentRefunded   = "payment.refunded"
	EventWebhookDuplicate  = "webhook.duplicate"

	EventPledgeCreated          = "pledge.created"
	EventPledgePaymentRequested = "pledge.payment_requested"
)

// Aggregate types.
const (
	AggregatePayment = "payment"
	AggregateWebhook = "webhook"
)
