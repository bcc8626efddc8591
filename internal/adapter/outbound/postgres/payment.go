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

// paymentAdapter implements outbound.PaymentDatabasePort.
type paymentAdapter struct {
	db *gorm.DB
}

// NewPaymentAdapter creates a new payment database adapter.
func NewPaymentAdapter(db *gorm.DB) outbound.PaymentDatabasePort {
	return &paymentAdapter{db: db}
}

func (a *paymentAdapter) Create(ctx context.Context, payment *model.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if err := dbFrom(ctx, a.db).Create(payment).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("create payment: %w", outbound.ErrDuplicate)
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (a *paymentAdapter) FindByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return a.first(dbFrom(ctx, a.db), "find payment by id", "id = ?", id)
}

func (a *paymentAdapter) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return a.first(forUpdate(dbFrom(ctx, a.db)), "lock payment", "id = ?", id)
}

func (a *paymentAdapter) FindByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	return a.first(dbFrom(ctx, a.db), "find payment by idempotency key", "idempotency_key = ?", key)
}

func (a *paymentAdapter) FindByProviderPaymentID(ctx context.Context, providerPaymentID string) (*model.Payment, error) {
	return a.first(dbFrom(ctx, a.db), "find payment by provider payment id", "provider_payment_id = ?", providerPaymentID)
}

func (a *paymentAdapter) FindLatestByPledgeID(ctx context.Context, pledgeID string) (*model.Payment, error) {
	return a.first(dbFrom(ctx, a.db).Order("created_at DESC"), "find payment by pledge", "pledge_id = ?", pledgeID)
}

func (a *paymentAdapter) first(db *gorm.DB, op string, query string, args ...any) (*model.Payment, error) {
	var payment model.Payment
	err := db.Where(query, args...).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &payment, nil
}

func (a *paymentAdapter) FindByFilter(ctx context.Context, filter model.PaymentFilter) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := dbFrom(ctx, a.db).Model(&model.Payment{})

	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	if filter.PledgeID != nil {
		query = query.Where("pledge_id = ?", *filter.PledgeID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	filter.DefaultPagination()
	if err := query.Offset(filter.Offset()).Limit(filter.PageSize).Order("created_at DESC").Find(&payments).Error; err != nil {
		return nil, 0, fmt.Errorf("find payments: %w", err)
	}

	return payments, total, nil
}

func (a *paymentAdapter) Update(ctx context.Context, payment *model.Payment) error {
	if err := dbFrom(ctx, a.db).Save(payment).Error; err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// Compile-time check
var _ outbound.PaymentDatabasePort = (*paymentAdapter)(nil)
