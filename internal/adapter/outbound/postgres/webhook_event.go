package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"gorm.io/gorm"
)

// webhookEventAdapter implements outbound.WebhookEventDatabasePort.
type webhookEventAdapter struct {
	db *gorm.DB
}

// NewWebhookEventAdapter creates a new webhook event database adapter.
func NewWebhookEventAdapter(db *gorm.DB) outbound.WebhookEventDatabasePort {
	return &webhookEventAdapter{db: db}
}

func (a *webhookEventAdapter) Create(ctx context.Context, event *model.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if err := dbFrom(ctx, a.db).Create(event).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("create webhook event: %w", outbound.ErrDuplicate)
		}
		return fmt.Errorf("create webhook event: %w", err)
	}
	return nil
}

func (a *webhookEventAdapter) FindByWebhookID(ctx context.Context, webhookID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := dbFrom(ctx, a.db).First(&event, "webhook_id = ?", webhookID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find webhook event: %w", err)
	}
	return &event, nil
}

func (a *webhookEventAdapter) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := dbFrom(ctx, a.db).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	return events, nil
}

// Compile-time check
var _ outbound.WebhookEventDatabasePort = (*webhookEventAdapter)(nil)
