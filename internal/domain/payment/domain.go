package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/infra/idempotency"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/pledgeflow/payments/internal/utils/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentDomain defines payment domain service interface.
type PaymentDomain interface {
	// InitiatePayment creates a payment for a pledge, or returns the payment
	// already created under the same idempotency key.
	InitiatePayment(ctx context.Context, in InitiateInput) (*PaymentResult, error)

	// ProcessWebhook applies a normalized provider callback. Redeliveries of
	// the same webhook id resolve to the earlier outcome.
	ProcessWebhook(ctx context.Context, payload *model.WebhookPayload) (*PaymentResult, error)

	// TransitionState moves a payment to target on operator request.
	TransitionState(ctx context.Context, paymentID uuid.UUID, target model.PaymentState, reason string) (*PaymentResult, error)

	// GetPayment returns a payment by ID.
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error)

	// GetPaymentByPledge returns the latest payment of a pledge.
	GetPaymentByPledge(ctx context.Context, pledgeID string) (*model.Payment, error)

	// ListPayments lists payments by filter.
	ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error)

	// ListWebhookEvents returns the webhooks recorded for a payment.
	ListWebhookEvents(ctx context.Context, paymentID uuid.UUID) ([]*model.WebhookEvent, error)
}

// InitiateInput carries the arguments of InitiatePayment.
type InitiateInput struct {
	PledgeID       string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Provider       string
	Metadata       map[string]any
}

// PaymentResult is returned by the mutating operations.
type PaymentResult struct {
	Payment       *model.Payment    `json:"payment"`
	WasIdempotent bool              `json:"was_idempotent"`
	Transition    *TransitionResult `json:"transition,omitempty"`
}

// initiateRecord is the cached outcome of an initiate call. The payment is
// reloaded on replay so callers see its current state.
type initiateRecord struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Created   bool      `json:"created"`
}

// webhookRecord is the cached outcome of a webhook.
type webhookRecord struct {
	PaymentID  uuid.UUID         `json:"payment_id"`
	Duplicate  bool              `json:"duplicate"`
	Transition *TransitionResult `json:"transition,omitempty"`
}

// paymentDomain implements PaymentDomain.
type paymentDomain struct {
	paymentDB outbound.PaymentDatabasePort
	webhookDB outbound.WebhookEventDatabasePort
	outboxDB  outbound.OutboxDatabasePort
	tx        outbound.TransactionPort
	requests  *idempotency.Service
	webhooks  *idempotency.Service
	publisher outbound.EventPublisherPort
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Deps groups the collaborators of the payment domain.
type Deps struct {
	Payments     outbound.PaymentDatabasePort
	Webhooks     outbound.WebhookEventDatabasePort
	Outbox       outbound.OutboxDatabasePort
	Transactions outbound.TransactionPort
	Requests     *idempotency.Service
	WebhookIdem  *idempotency.Service
	Publisher    outbound.EventPublisherPort
	Metrics      *metrics.Metrics
}

// NewPaymentDomain creates a new payment domain service.
func NewPaymentDomain(deps Deps, logger *zap.Logger) PaymentDomain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &paymentDomain{
		paymentDB: deps.Payments,
		webhookDB: deps.Webhooks,
		outboxDB:  deps.Outbox,
		tx:        deps.Transactions,
		requests:  deps.Requests,
		webhooks:  deps.WebhookIdem,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger.Named("payment"),
	}
}

// ===== Initiation =====

func (d *paymentDomain) InitiatePayment(ctx context.Context, in InitiateInput) (*PaymentResult, error) {
	if err := normalizeInitiate(&in); err != nil {
		return nil, err
	}

	rec, wasNew, err := idempotency.CheckAndProcess(ctx, d.requests, in.IdempotencyKey, func(ctx context.Context) (initiateRecord, error) {
		return d.createPayment(ctx, in)
	})
	switch {
	case errors.Is(err, idempotency.ErrStoreUnavailable):
		d.logger.Warn("idempotency store unavailable, relying on ledger constraint",
			zap.String("idempotency_key", in.IdempotencyKey), zap.Error(err))
		rec, err = d.createPayment(ctx, in)
		wasNew = true
	case errors.Is(err, idempotency.ErrConflict):
		// The holder may have committed without caching yet.
		existing, ferr := d.paymentDB.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if ferr != nil {
			return nil, fmt.Errorf("find payment by key: %w", ferr)
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: idempotency key %s", ErrInFlight, in.IdempotencyKey)
		}
		rec, err = initiateRecord{PaymentID: existing.ID}, nil
		wasNew = false
	}
	if err != nil {
		return nil, err
	}

	p, err := d.paymentDB.FindByID(ctx, rec.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, rec.PaymentID)
	}

	replayed := !wasNew || !rec.Created
	d.metrics.RecordPaymentInitiated(replayed)
	if !replayed {
		d.logger.Info("payment initiated",
			zap.String("payment_id", p.ID.String()),
			zap.String("pledge_id", p.PledgeID),
			zap.String("amount", p.Amount.String()),
		)
	}

	return &PaymentResult{Payment: p, WasIdempotent: replayed}, nil
}

// createPayment inserts the payment and its created event in one
// transaction. The unique key constraint is the last line of defence when
// the idempotency store is bypassed or has expired the key.
func (d *paymentDomain) createPayment(ctx context.Context, in InitiateInput) (initiateRecord, error) {
	existing, err := d.paymentDB.FindByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return initiateRecord{}, fmt.Errorf("find payment by key: %w", err)
	}
	if existing != nil {
		return initiateRecord{PaymentID: existing.ID}, nil
	}

	p := &model.Payment{
		ID:             uuid.New(),
		PledgeID:       in.PledgeID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		State:          model.PaymentStatePending,
		Provider:       in.Provider,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       in.Metadata,
	}

	err = d.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := d.paymentDB.Create(ctx, p); err != nil {
			return err
		}
		return d.outboxDB.Create(ctx, createdEvent(p))
	})
	if errors.Is(err, outbound.ErrDuplicate) {
		existing, ferr := d.paymentDB.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if ferr != nil {
			return initiateRecord{}, fmt.Errorf("find payment by key: %w", ferr)
		}
		if existing != nil {
			return initiateRecord{PaymentID: existing.ID}, nil
		}
	}
	if err != nil {
		return initiateRecord{}, fmt.Errorf("create payment: %w", err)
	}

	return initiateRecord{PaymentID: p.ID, Created: true}, nil
}

func normalizeInitiate(in *InitiateInput) error {
	in.PledgeID = strings.TrimSpace(in.PledgeID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))

	if in.PledgeID == "" {
		return fmt.Errorf("%w: pledge_id is required", ErrInvalidInput)
	}
	if in.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency_key is required", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return fmt.Errorf("%w: amount has more than 2 decimal places", ErrInvalidInput)
	}
	if in.Currency == "" {
		in.Currency = model.DefaultCurrency
	}
	if len(in.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	if in.Provider == "" {
		in.Provider = model.DefaultProvider
	}
	return nil
}

// ===== Webhooks =====

func (d *paymentDomain) ProcessWebhook(ctx context.Context, payload *model.WebhookPayload) (*PaymentResult, error) {
	if payload == nil || strings.TrimSpace(payload.WebhookID) == "" {
		return nil, fmt.Errorf("%w: webhook_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(payload.EventType) == "" {
		return nil, fmt.Errorf("%w: event_type is required", ErrInvalidInput)
	}
	target, ok := TargetStateForEvent(payload.EventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, payload.EventType)
	}
	if payload.Provider == "" {
		payload.Provider = model.DefaultProvider
	}

	log := d.logger.With(zap.String("webhook_id", payload.WebhookID), zap.String("event_type", payload.EventType))

	rec, wasNew, err := idempotency.CheckAndProcess(ctx, d.webhooks, idempotency.WebhookKey(payload.WebhookID), func(ctx context.Context) (webhookRecord, error) {
		return d.applyWebhook(ctx, payload, target)
	})
	switch {
	case errors.Is(err, idempotency.ErrStoreUnavailable):
		log.Warn("idempotency store unavailable, relying on webhook ledger", zap.Error(err))
		rec, err = d.applyWebhook(ctx, payload, target)
		wasNew = true
	case errors.Is(err, idempotency.ErrConflict):
		existing, ferr := d.webhookDB.FindByWebhookID(ctx, payload.WebhookID)
		if ferr != nil {
			return nil, fmt.Errorf("find webhook: %w", ferr)
		}
		if existing == nil || !existing.Processed {
			return nil, fmt.Errorf("%w: webhook %s", ErrInFlight, payload.WebhookID)
		}
		rec, err = webhookRecord{PaymentID: existing.PaymentID, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	p, err := d.paymentDB.FindByID(ctx, rec.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, rec.PaymentID)
	}

	if !wasNew || rec.Duplicate {
		d.metrics.RecordWebhook("duplicate")
		log.Info("duplicate webhook ignored", zap.String("payment_id", p.ID.String()))
		d.publishDirect(ctx, duplicateWebhookEvent(payload.WebhookID, p.ID.String()))
		return &PaymentResult{Payment: p, WasIdempotent: true}, nil
	}

	if rec.Transition != nil && !rec.Transition.Allowed {
		d.metrics.RecordWebhook("denied")
		log.Info("webhook transition denied",
			zap.String("payment_id", p.ID.String()),
			zap.String("reason", rec.Transition.Reason),
		)
	} else {
		d.metrics.RecordWebhook("applied")
		log.Info("webhook applied", zap.String("payment_id", p.ID.String()), zap.String("state", string(p.State)))
	}

	return &PaymentResult{Payment: p, Transition: rec.Transition}, nil
}

// applyWebhook records the webhook and, when the transition is allowed,
// updates the payment and enqueues its event. All writes share one
// transaction with the payment row locked.
func (d *paymentDomain) applyWebhook(ctx context.Context, payload *model.WebhookPayload, target model.PaymentState) (webhookRecord, error) {
	existing, err := d.webhookDB.FindByWebhookID(ctx, payload.WebhookID)
	if err != nil {
		return webhookRecord{}, fmt.Errorf("find webhook: %w", err)
	}
	if existing != nil && existing.Processed {
		return webhookRecord{PaymentID: existing.PaymentID, Duplicate: true}, nil
	}

	resolved, err := d.resolvePayment(ctx, payload)
	if err != nil {
		return webhookRecord{}, err
	}

	var verdict TransitionResult
	err = d.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		p, err := d.paymentDB.FindByIDForUpdate(ctx, resolved.ID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, resolved.ID)
		}

		verdict = CanTransition(p.State, target)
		d.metrics.RecordTransition(string(p.State), string(target), verdict.Allowed)

		now := time.Now().UTC()
		if err := d.webhookDB.Create(ctx, &model.WebhookEvent{
			ID:          uuid.New(),
			PaymentID:   p.ID,
			WebhookID:   payload.WebhookID,
			EventType:   payload.EventType,
			Provider:    payload.Provider,
			Payload:     payload.ToMap(),
			Processed:   true,
			ProcessedAt: &now,
		}); err != nil {
			if errors.Is(err, outbound.ErrDuplicate) {
				return errDuplicateWebhook
			}
			return fmt.Errorf("record webhook: %w", err)
		}

		if !verdict.Allowed || p.State == target {
			return nil
		}

		from := p.State
		p.State = target
		applyProviderFields(p, payload)
		if err := d.paymentDB.Update(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		return d.outboxDB.Create(ctx, transitionEvent(p, from, map[string]any{
			"webhookId": payload.WebhookID,
			"eventType": payload.EventType,
		}))
	})
	if errors.Is(err, errDuplicateWebhook) {
		return webhookRecord{PaymentID: resolved.ID, Duplicate: true}, nil
	}
	if err != nil {
		return webhookRecord{}, err
	}

	return webhookRecord{PaymentID: resolved.ID, Transition: &verdict}, nil
}

// resolvePayment finds the payment a webhook refers to: by provider payment
// id first, then by metadata pledge_id (latest payment) and payment_id.
func (d *paymentDomain) resolvePayment(ctx context.Context, payload *model.WebhookPayload) (*model.Payment, error) {
	if payload.ProviderPaymentID != "" {
		p, err := d.paymentDB.FindByProviderPaymentID(ctx, payload.ProviderPaymentID)
		if err != nil {
			return nil, fmt.Errorf("find payment by provider id: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}

	if pledgeID := payload.MetadataString("pledge_id"); pledgeID != "" {
		p, err := d.paymentDB.FindLatestByPledgeID(ctx, pledgeID)
		if err != nil {
			return nil, fmt.Errorf("find payment by pledge: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}

	if raw := payload.MetadataString("payment_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			p, err := d.paymentDB.FindByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("find payment: %w", err)
			}
			if p != nil {
				return p, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: provider_payment_id=%q", ErrPaymentNotFound, payload.ProviderPaymentID)
}

// applyProviderFields copies provider data from the webhook. An existing
// provider payment id is never replaced.
func applyProviderFields(p *model.Payment, payload *model.WebhookPayload) {
	if payload.ProviderPaymentID != "" && p.ProviderPaymentID == nil {
		id := payload.ProviderPaymentID
		p.ProviderPaymentID = &id
	}
	if payload.ProviderRef != nil && *payload.ProviderRef != "" {
		ref := *payload.ProviderRef
		p.ProviderRef = &ref
	}
	if p.State == model.PaymentStateFailed && payload.FailureReason != nil && *payload.FailureReason != "" {
		reason := *payload.FailureReason
		p.FailureReason = &reason
	}
}

func (d *paymentDomain) publishDirect(ctx context.Context, event *model.DomainEvent) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("failed to publish event",
			zap.String("event_type", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

// ===== Manual transitions =====

func (d *paymentDomain) TransitionState(ctx context.Context, paymentID uuid.UUID, target model.PaymentState, reason string) (*PaymentResult, error) {
	target = model.PaymentState(strings.ToUpper(strings.TrimSpace(string(target))))
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidInput, target)
	}

	var (
		p       *model.Payment
		verdict TransitionResult
	)
	err := d.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		p, err = d.paymentDB.FindByIDForUpdate(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
		}

		verdict = CanTransition(p.State, target)
		d.metrics.RecordTransition(string(p.State), string(target), verdict.Allowed)
		if !verdict.Allowed || p.State == target {
			return nil
		}

		from := p.State
		p.State = target
		if reason != "" && target == model.PaymentStateFailed {
			r := reason
			p.FailureReason = &r
		}
		if err := d.paymentDB.Update(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		extra := map[string]any{"manual": true}
		if reason != "" {
			extra["reason"] = reason
		}
		return d.outboxDB.Create(ctx, transitionEvent(p, from, extra))
	})
	if err != nil {
		return nil, err
	}

	if verdict.Allowed {
		d.logger.Info("payment transitioned",
			zap.String("payment_id", p.ID.String()),
			zap.String("from", string(verdict.From)),
			zap.String("to", string(verdict.To)),
			zap.String("reason", reason),
		)
	} else {
		d.logger.Info("manual transition denied",
			zap.String("payment_id", p.ID.String()),
			zap.String("reason", verdict.Reason),
		)
	}

	return &PaymentResult{Payment: p, Transition: &verdict}, nil
}

// ===== Queries =====

func (d *paymentDomain) GetPayment(ctx context.Context, paymentID uuid.UUID) (*model.Payment, error) {
	p, err := d.paymentDB.FindByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

func (d *paymentDomain) GetPaymentByPledge(ctx context.Context, pledgeID string) (*model.Payment, error) {
	p, err := d.paymentDB.FindLatestByPledgeID(ctx, pledgeID)
	if err != nil {
		return nil, fmt.Errorf("get payment by pledge: %w", err)
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

func (d *paymentDomain) ListPayments(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error) {
	if filter.State != nil && !filter.State.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown state %q", ErrInvalidInput, *filter.State)
	}
	filter.DefaultPagination()
	return d.paymentDB.FindByFilter(ctx, filter)
}

func (d *paymentDomain) ListWebhookEvents(ctx context.Context, paymentID uuid.UUID) ([]*model.WebhookEvent, error) {
	if _, err := d.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return d.webhookDB.ListByPaymentID(ctx, paymentID)
}
