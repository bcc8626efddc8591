package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentState represents the lifecycle state of a payment.
type PaymentState string

const (
	PaymentStatePending    PaymentState = "PENDING"
	PaymentStateAuthorized PaymentState = "AUTHORIZED"
	PaymentStateCaptured   PaymentState = "CAPTURED"
	PaymentStateCompleted  PaymentState = "COMPLETED"
	PaymentStateFailed     PaymentState = "FAILED"
	PaymentStateRefunded   PaymentState = "REFUNDED"
)

// AllPaymentStates lists every payment state in lifecycle order.
var AllPaymentStates = []PaymentState{
	PaymentStatePending,
	PaymentStateAuthorized,
	PaymentStateCaptured,
	PaymentStateCompleted,
	PaymentStateFailed,
	PaymentStateRefunded,
}

// IsValid reports whether s is a known payment state.
func (s PaymentState) IsValid() bool {
	for _, known := range AllPaymentStates {
		if s == known {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (s PaymentState) String() string {
	return string(s)
}

// Default values for new payments.
const (
	DefaultCurrency = "USD"
	DefaultProvider = "stripe"
)

// Payment represents one attempt to collect funds for a pledge.
type Payment struct {
	ID                uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	PledgeID          string          `json:"pledge_id" gorm:"not null;index"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(15,2);not null"`
	Currency          string          `json:"currency" gorm:"size:3;not null;default:USD"`
	State             PaymentState    `json:"state" gorm:"size:50;not null;default:PENDING;index"`
	Provider          string          `json:"provider" gorm:"size:50;not null;default:stripe"`
	ProviderPaymentID *string         `json:"provider_payment_id,omitempty" gorm:"size:255;index"`
	ProviderRef       *string         `json:"provider_ref,omitempty" gorm:"size:255"`
	IdempotencyKey    string          `json:"idempotency_key" gorm:"size:255;not null;uniqueIndex"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	Metadata          map[string]any  `json:"metadata" gorm:"serializer:json"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Payment) TableName() string {
	return "payments"
}

// WebhookEvent is an immutable record of one inbound provider callback.
type WebhookEvent struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	PaymentID   uuid.UUID      `json:"payment_id" gorm:"type:uuid;not null;index"`
	WebhookID   string         `json:"webhook_id" gorm:"size:255;not null;uniqueIndex"`
	EventType   string         `json:"event_type" gorm:"size:100;not null"`
	Provider    string         `json:"provider" gorm:"size:50;not null"`
	Payload     map[string]any `json:"payload" gorm:"serializer:json"`
	Processed   bool           `json:"processed" gorm:"not null;default:false"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// PaymentFilter represents payment query filters.
type PaymentFilter struct {
	State    *PaymentState `json:"state" form:"state"`
	PledgeID *string       `json:"pledge_id" form:"pledge_id"`
	PaginationRequest
}
