// Package stripe translates Stripe webhook callbacks into normalized
// payment webhooks.
package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ProviderName is the provider label stored on payments and webhooks.
const ProviderName = "stripe"

// Stripe event types mapped to normalized webhook types. The mapping
// assumes manual capture: authorization and capture arrive separately.
var eventTypes = map[stripe.EventType]string{
	"payment_intent.created":                   model.WebhookEventCreated,
	"payment_intent.amount_capturable_updated": model.WebhookEventAuthorized,
	"charge.captured":                          model.WebhookEventCaptured,
	"payment_intent.succeeded":                 model.WebhookEventCompleted,
	"payment_intent.payment_failed":            model.WebhookEventFailed,
	"payment_intent.canceled":                  model.WebhookEventFailed,
	"charge.refunded":                          model.WebhookEventRefunded,
}

// Normalizer verifies and maps Stripe callbacks.
type Normalizer struct {
	webhookSecret string
}

// NewNormalizer creates a new Stripe normalizer.
func NewNormalizer(webhookSecret string) *Normalizer {
	return &Normalizer{webhookSecret: webhookSecret}
}

func (n *Normalizer) Provider() string {
	return ProviderName
}

// Normalize verifies the Stripe-Signature header and maps the event. It
// returns nil, nil for event types that carry no payment state change.
func (n *Normalizer) Normalize(payload []byte, signature string) (*model.WebhookPayload, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, n.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outbound.ErrInvalidSignature, err)
	}

	normalized, ok := eventTypes[event.Type]
	if !ok {
		return nil, nil
	}

	out := &model.WebhookPayload{
		WebhookID: event.ID,
		EventType: normalized,
		Provider:  ProviderName,
	}

	switch event.Data.Object["object"] {
	case "charge":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("unmarshal charge: %w", err)
		}
		fromCharge(out, &ch)
	default:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("unmarshal payment intent: %w", err)
		}
		fromPaymentIntent(out, &pi)
	}

	return out, nil
}

func fromPaymentIntent(out *model.WebhookPayload, pi *stripe.PaymentIntent) {
	out.ProviderPaymentID = pi.ID
	out.Amount = minorUnits(pi.Amount)
	out.Metadata = metadata(pi.Metadata)
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		ref := pi.LatestCharge.ID
		out.ProviderRef = &ref
	}
	if pi.LastPaymentError != nil {
		reason := pi.LastPaymentError.Msg
		if reason == "" {
			reason = string(pi.LastPaymentError.Code)
		}
		out.FailureReason = &reason
	} else if pi.CancellationReason != "" {
		reason := "canceled: " + string(pi.CancellationReason)
		out.FailureReason = &reason
	}
}

func fromCharge(out *model.WebhookPayload, ch *stripe.Charge) {
	if ch.PaymentIntent != nil {
		out.ProviderPaymentID = ch.PaymentIntent.ID
	}
	out.Amount = minorUnits(ch.Amount)
	out.Metadata = metadata(ch.Metadata)
	ref := ch.ID
	out.ProviderRef = &ref
	if ch.FailureMessage != "" {
		reason := ch.FailureMessage
		out.FailureReason = &reason
	}
}

// minorUnits converts a Stripe amount in cents to a decimal amount.
func minorUnits(amount int64) *decimal.Decimal {
	if amount == 0 {
		return nil
	}
	d := decimal.New(amount, -2)
	return &d
}

func metadata(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Compile-time check
var _ outbound.WebhookNormalizerPort = (*Normalizer)(nil)
