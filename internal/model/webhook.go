package model

import "github.com/shopspring/decimal"

// Normalized webhook event types.
const (
	WebhookEventCreated    = "created"
	WebhookEventAuthorized = "authorized"
	WebhookEventCaptured   = "captured"
	WebhookEventCompleted  = "completed"
	WebhookEventSucceeded  = "succeeded"
	WebhookEventFailed     = "failed"
	WebhookEventRefunded   = "refunded"
)

// WebhookPayload is the provider-independent form of a payment callback.
// Provider adapters translate native callbacks into it.
type WebhookPayload struct {
	WebhookID         string           `json:"webhook_id" binding:"required"`
	EventType         string           `json:"event_type" binding:"required"`
	Provider          string           `json:"provider"`
	ProviderPaymentID string           `json:"provider_payment_id"`
	ProviderRef       *string          `json:"provider_ref,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	FailureReason     *string          `json:"failure_reason,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

// MetadataString returns a string metadata value, or "" when absent.
func (p *WebhookPayload) MetadataString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	s, _ := p.Metadata[key].(string)
	return s
}

// ToMap renders the payload for storage on the webhook event row.
func (p *WebhookPayload) ToMap() map[string]any {
	m := map[string]any{
		"webhook_id":          p.WebhookID,
		"event_type":          p.EventType,
		"provider":            p.Provider,
		"provider_payment_id": p.ProviderPaymentID,
	}
	if p.ProviderRef != nil {
		m["provider_ref"] = *p.ProviderRef
	}
	if p.Amount != nil {
		m["amount"] = p.Amount.String()
	}
	if p.FailureReason != nil {
		m["failure_reason"] = *p.FailureReason
	}
	if p.Metadata != nil {
		m["metadata"] = p.Metadata
	}
	return m
}
