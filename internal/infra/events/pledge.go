package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pledgeflow/payments/internal/domain/payment"
	"github.com/pledgeflow/payments/internal/infra/idempotency"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RegisterPledgeHandlers wires pledge lifecycle events to payment
// initiation.
func RegisterPledgeHandlers(d *Dispatcher, payments payment.PaymentDomain, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &pledgeHandlers{payments: payments, logger: logger.Named("pledge-events")}
	d.Register(model.EventPledgeCreated, h.initiate)
	d.Register(model.EventPledgePaymentRequested, h.initiate)
}

type pledgeHandlers struct {
	payments payment.PaymentDomain
	logger   *zap.Logger
}

func (h *pledgeHandlers) initiate(ctx context.Context, event *model.DomainEvent) error {
	in, err := initiateFromPayload(event.Payload)
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}

	res, err := h.payments.InitiatePayment(ctx, in)
	if err != nil {
		return fmt.Errorf("initiate payment for pledge %s: %w", in.PledgeID, err)
	}

	h.logger.Info("payment initiated for pledge",
		zap.String("event_type", event.Type),
		zap.String("pledge_id", in.PledgeID),
		zap.String("payment_id", res.Payment.ID.String()),
		zap.Bool("was_idempotent", res.WasIdempotent),
	)
	return nil
}

func initiateFromPayload(p map[string]any) (payment.InitiateInput, error) {
	pledgeID, _ := p["pledgeId"].(string)
	if pledgeID == "" {
		return payment.InitiateInput{}, fmt.Errorf("%w: pledgeId missing", payment.ErrInvalidInput)
	}

	amount, err := decimalFrom(p["amount"])
	if err != nil {
		return payment.InitiateInput{}, fmt.Errorf("%w: amount: %v", payment.ErrInvalidInput, err)
	}

	key, _ := p["idempotencyKey"].(string)
	if key == "" {
		key = idempotency.PaymentKey(pledgeID, "initiate")
	}

	in := payment.InitiateInput{
		PledgeID:       pledgeID,
		Amount:         amount,
		IdempotencyKey: key,
		Metadata:       map[string]any{},
	}
	in.Currency, _ = p["currency"].(string)
	if v, ok := p["donorEmail"].(string); ok && v != "" {
		in.Metadata["donor_email"] = v
	}
	if v, ok := p["campaignId"].(string); ok && v != "" {
		in.Metadata["campaign_id"] = v
	}
	return in, nil
}

func decimalFrom(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(n)
	case json.Number:
		return decimal.NewFromString(n.String())
	case nil:
		return decimal.Decimal{}, errors.New("missing")
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported type %T", v)
	}
}
