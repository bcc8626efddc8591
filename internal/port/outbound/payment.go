package outbound

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/model"
)

// PaymentDatabasePort defines payment persistence operations.
// Find methods return nil, nil when no row matches.
type PaymentDatabasePort interface {
	// Create creates a new payment record.
	Create(ctx context.Context, payment *model.Payment) error

	// FindByID finds a payment by ID.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// FindByIDForUpdate finds a payment by ID and locks the row until the
	// surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// FindByIdempotencyKey finds the payment created under a client key.
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)

	// FindByProviderPaymentID finds a payment by the provider's payment id.
	FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*model.Payment, error)

	// FindLatestByPledgeID finds the most recently created payment of a pledge.
	FindLatestByPledgeID(ctx context.Context, pledgeID string) (*model.Payment, error)

	// FindByFilter finds payments by filter.
	FindByFilter(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error)

	// Update updates a payment record.
	Update(ctx context.Context, payment *model.Payment) error
}

// WebhookEventDatabasePort defines webhook event persistence operations.
type WebhookEventDatabasePort interface {
	// Create records a webhook event. A second event with the same webhook id
	// fails with an error matching ErrDuplicate.
	Create(ctx context.Context, event *model.WebhookEvent) error

	// FindByWebhookID finds a webhook event by its provider-supplied id.
	FindByWebhookID(ctx context.Context, webhookID string) (*model.WebhookEvent, error)

	// ListByPaymentID lists the webhook events of a payment, oldest first.
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*model.WebhookEvent, error)
}

// ErrInvalidSignature is returned by normalizers when a callback fails
// signature verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookNormalizerPort translates a provider-native callback into the
// normalized webhook payload.
type WebhookNormalizerPort interface {
	// Provider returns the provider name.
	Provider() string

	// Normalize verifies the signature and maps the native payload. It returns
	// nil, nil for callbacks that carry no payment state change.
	Normalize(payload []byte, signature string) (*model.WebhookPayload, error)
}
