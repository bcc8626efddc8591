package payment

import (
	"github.com/pledgeflow/payments/internal/model"
)

var stateEventTypes = map[model.PaymentState]string{
	model.PaymentStatePending:    model.EventPaymentCreated,
	model.PaymentStateAuthorized: model.EventPaymentAuthorized,
	model.PaymentStateCaptured:   model.EventPaymentCaptured,
	model.PaymentStateCompleted:  model.EventPaymentCompleted,
	model.PaymentStateFailed:     model.EventPaymentFailed,
	model.PaymentStateRefunded:   model.EventPaymentRefunded,
}

// EventTypeForState returns the domain event emitted on entering state.
func EventTypeForState(state model.PaymentState) string {
	if t, ok := stateEventTypes[state]; ok {
		return t
	}
	return model.EventPaymentCreated
}

func createdEvent(p *model.Payment) *model.OutboxEvent {
	return &model.OutboxEvent{
		AggregateType: model.AggregatePayment,
		AggregateID:   p.ID.String(),
		EventType:     model.EventPaymentCreated,
		Payload: map[string]any{
			"paymentId":      p.ID.String(),
			"pledgeId":       p.PledgeID,
			"amount":         p.Amount.String(),
			"currency":       p.Currency,
			"idempotencyKey": p.IdempotencyKey,
		},
	}
}

func transitionEvent(p *model.Payment, from model.PaymentState, extra map[string]any) *model.OutboxEvent {
	payload := map[string]any{
		"paymentId":     p.ID.String(),
		"pledgeId":      p.PledgeID,
		"amount":        p.Amount.String(),
		"currency":      p.Currency,
		"state":         string(p.State),
		"previousState": string(from),
	}
	if p.ProviderPaymentID != nil {
		payload["providerPaymentId"] = *p.ProviderPaymentID
	}
	if p.FailureReason != nil {
		payload["failureReason"] = *p.FailureReason
	}
	for k, v := range extra {
		payload[k] = v
	}
	return &model.OutboxEvent{
		AggregateType: model.AggregatePayment,
		AggregateID:   p.ID.String(),
		EventType:     EventTypeForState(p.State),
		Payload:       payload,
	}
}

func duplicateWebhookEvent(webhookID string, paymentID string) *model.DomainEvent {
	return model.NewDomainEvent(model.EventWebhookDuplicate, model.AggregateWebhook, webhookID, map[string]any{
		"webhookId": webhookID,
		"paymentId": paymentID,
	})
}
