package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/adapter/outbound/memory"
	"github.com/pledgeflow/payments/internal/adapter/outbound/postgres"
	"github.com/pledgeflow/payments/internal/infra/idempotency"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"github.com/pledgeflow/payments/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	domain   PaymentDomain
	tx       outbound.TransactionPort
	payments outbound.PaymentDatabasePort
	webhooks outbound.WebhookEventDatabasePort
	outbox   outbound.OutboxDatabasePort
	channel  *memory.EventChannel
}

type fixtureOption func(*Deps)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	store := memory.NewIdempotencyStore(1000)

	reqCfg := idempotency.DefaultRequestConfig()
	reqCfg.LockWait = 500 * time.Millisecond
	hookCfg := idempotency.DefaultWebhookConfig()
	hookCfg.LockWait = 500 * time.Millisecond

	f := &fixture{
		payments: postgres.NewPaymentAdapter(db),
		webhooks: postgres.NewWebhookEventAdapter(db),
		outbox:   postgres.NewOutboxAdapter(db),
		channel:  memory.NewEventChannel("test"),
		tx:       postgres.NewTransactionAdapter(db),
	}
	deps := Deps{
		Payments:     f.payments,
		Webhooks:     f.webhooks,
		Outbox:       f.outbox,
		Transactions: f.tx,
		Requests:     idempotency.NewService(store, reqCfg, nil, nil),
		WebhookIdem:  idempotency.NewService(store, hookCfg, nil, nil),
		Publisher:    f.channel,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.domain = NewPaymentDomain(deps, nil)
	return f
}

func initiateInput(pledgeID, key string, amount int64) InitiateInput {
	return InitiateInput{
		PledgeID:       pledgeID,
		Amount:         decimal.NewFromInt(amount),
		IdempotencyKey: key,
		Metadata:       map[string]any{"donor_email": "donor@example.org"},
	}
}

func webhook(id, eventType, providerPaymentID, pledgeID string) *model.WebhookPayload {
	p := &model.WebhookPayload{
		WebhookID:         id,
		EventType:         eventType,
		Provider:          "stripe",
		ProviderPaymentID: providerPaymentID,
	}
	if pledgeID != "" {
		p.Metadata = map[string]any{"pledge_id": pledgeID}
	}
	return p
}

func (f *fixture) unpublishedTypes(t *testing.T) []string {
	t.Helper()
	events, err := f.outbox.FindUnpublished(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func TestInitiatePayment_CreatesPendingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)
	assert.False(t, res.WasIdempotent)
	assert.Equal(t, model.PaymentStatePending, res.Payment.State)
	assert.Equal(t, model.DefaultCurrency, res.Payment.Currency)
	assert.Equal(t, model.DefaultProvider, res.Payment.Provider)
	assert.True(t, decimal.NewFromInt(100).Equal(res.Payment.Amount))

	assert.Equal(t, []string{model.EventPaymentCreated}, f.unpublishedTypes(t))
}

func TestInitiatePayment_ReplayReturnsSamePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)

	second, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)
	assert.True(t, second.WasIdempotent)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Len(t, f.unpublishedTypes(t), 1)
}

func TestInitiatePayment_ReplayFromLedgerAfterCacheLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)

	// A fresh cache, as after the key expired.
	fresh := NewPaymentDomain(Deps{
		Payments:     f.payments,
		Webhooks:     f.webhooks,
		Outbox:       f.outbox,
		Transactions: f.tx,
		Requests:     idempotency.NewService(memory.NewIdempotencyStore(10), idempotency.DefaultRequestConfig(), nil, nil),
		WebhookIdem:  idempotency.NewService(memory.NewIdempotencyStore(10), idempotency.DefaultWebhookConfig(), nil, nil),
	}, nil)

	again, err := fresh.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)
	assert.True(t, again.WasIdempotent)
	assert.Equal(t, first.Payment.ID, again.Payment.ID)
}

func TestInitiatePayment_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
			errs[i] = err
			if err == nil {
				ids[i] = res.Payment.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	_, total, err := f.payments.FindByFilter(ctx, model.PaymentFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestInitiatePayment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]InitiateInput{
		"missing pledge":    initiateInput("", "k1", 100),
		"missing key":       initiateInput("p1", "", 100),
		"zero amount":       initiateInput("p1", "k1", 0),
		"negative amount":   initiateInput("p1", "k1", -5),
		"bad currency":      {PledgeID: "p1", IdempotencyKey: "k1", Amount: decimal.NewFromInt(1), Currency: "DOLLARS"},
		"too many decimals": {PledgeID: "p1", IdempotencyKey: "k1", Amount: decimal.RequireFromString("1.005")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.domain.InitiatePayment(ctx, in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

type failingOutbox struct {
	outbound.OutboxDatabasePort
}

func (failingOutbox) Create(context.Context, *model.OutboxEvent) error {
	return errors.New("disk full")
}

func TestInitiatePayment_RollbackLeavesNothing(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Outbox = failingOutbox{d.Outbox}
	})
	ctx := context.Background()

	_, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.Error(t, err)

	p, err := f.payments.FindByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, f.unpublishedTypes(t))
}

func TestProcessWebhook_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatePending, created.Payment.State)

	res, err := f.domain.ProcessWebhook(ctx, webhook("wh-1", "authorized", "pi_1", "p1"))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateAuthorized, res.Payment.State)
	require.NotNil(t, res.Payment.ProviderPaymentID)
	assert.Equal(t, "pi_1", *res.Payment.ProviderPaymentID)

	res, err = f.domain.ProcessWebhook(ctx, webhook("wh-2", "captured", "pi_1", ""))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateCaptured, res.Payment.State)
	assert.False(t, res.WasIdempotent)
	capturedAt := res.Payment.UpdatedAt

	dup, err := f.domain.ProcessWebhook(ctx, webhook("wh-2", "captured", "pi_1", ""))
	require.NoError(t, err)
	assert.True(t, dup.WasIdempotent)
	assert.Equal(t, model.PaymentStateCaptured, dup.Payment.State)
	assert.True(t, capturedAt.Equal(dup.Payment.UpdatedAt))

	late, err := f.domain.ProcessWebhook(ctx, webhook("wh-3", "authorized", "pi_1", ""))
	require.NoError(t, err)
	assert.False(t, late.WasIdempotent)
	require.NotNil(t, late.Transition)
	assert.False(t, late.Transition.Allowed)
	assert.Equal(t, TransitionBackward, late.Transition.Code)
	assert.Equal(t, model.PaymentStateCaptured, late.Payment.State)

	events, err := f.webhooks.ListByPaymentID(ctx, created.Payment.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3, "denied webhooks are recorded for audit")

	assert.Equal(t, []string{
		model.EventPaymentCreated,
		model.EventPaymentAuthorized,
		model.EventPaymentCaptured,
	}, f.unpublishedTypes(t))

	published := f.channel.Published()
	require.Len(t, published, 1)
	assert.Equal(t, model.EventWebhookDuplicate, published[0].Type)
	assert.Equal(t, "wh-2", published[0].Payload["webhookId"])
}

func TestProcessWebhook_DuplicateAfterCacheLossUsesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)
	_, err = f.domain.ProcessWebhook(ctx, webhook("wh-1", "authorized", "pi_1", "p1"))
	require.NoError(t, err)

	fresh := NewPaymentDomain(Deps{
		Payments:     f.payments,
		Webhooks:     f.webhooks,
		Outbox:       f.outbox,
		Transactions: f.tx,
		Requests:     idempotency.NewService(memory.NewIdempotencyStore(10), idempotency.DefaultRequestConfig(), nil, nil),
		WebhookIdem:  idempotency.NewService(memory.NewIdempotencyStore(10), idempotency.DefaultWebhookConfig(), nil, nil),
	}, nil)

	res, err := fresh.ProcessWebhook(ctx, webhook("wh-1", "authorized", "pi_1", "p1"))
	require.NoError(t, err)
	assert.True(t, res.WasIdempotent)
	assert.Equal(t, model.PaymentStateAuthorized, res.Payment.State)
}

func TestProcessWebhook_ConcurrentDuplicatesMutateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)

	const n = 6
	var wg sync.WaitGroup
	results := make([]*PaymentResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.domain.ProcessWebhook(ctx, webhook("wh-1", "authorized", "", "p1"))
		}(i)
	}
	wg.Wait()

	var applied int
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if !results[i].WasIdempotent {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, []string{model.EventPaymentCreated, model.EventPaymentAuthorized}, f.unpublishedTypes(t))
}

func TestProcessWebhook_FailedCarriesReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)

	hook := webhook("wh-1", "failed", "pi_1", "p1")
	reason := "card_declined"
	hook.FailureReason = &reason

	res, err := f.domain.ProcessWebhook(ctx, hook)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateFailed, res.Payment.State)
	require.NotNil(t, res.Payment.FailureReason)
	assert.Equal(t, "card_declined", *res.Payment.FailureReason)
}

func TestProcessWebhook_SucceededMapsToCompleted(t *testing.T) {
	state, ok := TargetStateForEvent("Succeeded")
	assert.True(t, ok)
	assert.Equal(t, model.PaymentStateCompleted, state)

	_, ok = TargetStateForEvent("charge.dispute")
	assert.False(t, ok)
}

func TestProcessWebhook_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.domain.ProcessWebhook(ctx, webhook("", "authorized", "pi_1", ""))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.domain.ProcessWebhook(ctx, webhook("wh-1", "exploded", "pi_1", ""))
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = f.domain.ProcessWebhook(ctx, webhook("wh-1", "authorized", "pi_missing", "p-missing"))
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	// A not-found webhook is not remembered, so the provider's retry can succeed.
	_, err = f.domain.InitiatePayment(ctx, initiateInput("p-missing", "k1", 10))
	require.NoError(t, err)
	res, err := f.domain.ProcessWebhook(ctx, webhook("wh-1", "authorized", "pi_missing", "p-missing"))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateAuthorized, res.Payment.State)
}

func TestProcessWebhook_ResolvesByPaymentIDMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)

	hook := webhook("wh-1", "authorized", "", "")
	hook.Metadata = map[string]any{"payment_id": created.Payment.ID.String()}

	res, err := f.domain.ProcessWebhook(ctx, hook)
	require.NoError(t, err)
	assert.Equal(t, created.Payment.ID, res.Payment.ID)
	assert.Equal(t, model.PaymentStateAuthorized, res.Payment.State)
}

func TestTransitionState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)
	id := created.Payment.ID

	denied, err := f.domain.TransitionState(ctx, id, model.PaymentStateCompleted, "")
	require.NoError(t, err)
	assert.False(t, denied.Transition.Allowed)
	assert.Equal(t, TransitionSkip, denied.Transition.Code)
	assert.Equal(t, model.PaymentStatePending, denied.Payment.State)

	failed, err := f.domain.TransitionState(ctx, id, model.PaymentStateFailed, "operator cancelled")
	require.NoError(t, err)
	assert.True(t, failed.Transition.Allowed)
	assert.Equal(t, model.PaymentStateFailed, failed.Payment.State)
	require.NotNil(t, failed.Payment.FailureReason)
	assert.Equal(t, "operator cancelled", *failed.Payment.FailureReason)

	terminal, err := f.domain.TransitionState(ctx, id, model.PaymentStateAuthorized, "")
	require.NoError(t, err)
	assert.False(t, terminal.Transition.Allowed)
	assert.Equal(t, TransitionTerminal, terminal.Transition.Code)

	assert.Equal(t, []string{model.EventPaymentCreated, model.EventPaymentFailed}, f.unpublishedTypes(t))

	_, err = f.domain.TransitionState(ctx, uuid.New(), model.PaymentStateFailed, "")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = f.domain.TransitionState(ctx, id, model.PaymentState("LOST"), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.domain.InitiatePayment(ctx, initiateInput("p1", "k1", 100))
	require.NoError(t, err)

	got, err := f.domain.GetPayment(ctx, created.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PledgeID)

	got, err = f.domain.GetPaymentByPledge(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, created.Payment.ID, got.ID)

	_, err = f.domain.GetPaymentByPledge(ctx, "p2")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	list, total, err := f.domain.ListPayments(ctx, model.PaymentFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	bad := model.PaymentState("LOST")
	_, _, err = f.domain.ListPayments(ctx, model.PaymentFilter{State: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.domain.ListWebhookEvents(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestEventTypeForState(t *testing.T) {
	assert.Equal(t, model.EventPaymentAuthorized, EventTypeForState(model.PaymentStateAuthorized))
	assert.Equal(t, model.EventPaymentRefunded, EventTypeForState(model.PaymentStateRefunded))
	assert.Equal(t, model.EventPaymentCreated, EventTypeForState(model.PaymentState("LOST")))
}
