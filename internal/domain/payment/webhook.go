package payment

import (
	"strings"

	"github.com/pledgeflow/payments/internal/model"
)

var webhookStates = map[string]model.PaymentState{
	model.WebhookEventCreated:    model.PaymentStatePending,
	model.WebhookEventAuthorized: model.PaymentStateAuthorized,
	model.WebhookEventCaptured:   model.PaymentStateCaptured,
	model.WebhookEventCompleted:  model.PaymentStateCompleted,
	model.WebhookEventSucceeded:  model.PaymentStateCompleted,
	model.WebhookEventFailed:     model.PaymentStateFailed,
	model.WebhookEventRefunded:   model.PaymentStateRefunded,
}

// TargetStateForEvent maps a normalized webhook event type to the payment
// state it asks for. Matching ignores case.
func TargetStateForEvent(eventType string) (model.PaymentState, bool) {
	s, ok := webhookStates[strings.ToLower(strings.TrimSpace(eventType))]
	return s, ok
}
