package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/outbound"
	"gorm.io/gorm"
)

// OutboxNotifyChannel is the LISTEN/NOTIFY channel signalled on outbox inserts.
const OutboxNotifyChannel = "outbox_events"

// outboxAdapter implements outbound.OutboxDatabasePort.
type outboxAdapter struct {
	db *gorm.DB
}

// NewOutboxAdapter creates a new outbox database adapter.
func NewOutboxAdapter(db *gorm.DB) outbound.OutboxDatabasePort {
	return &outboxAdapter{db: db}
}

func (a *outboxAdapter) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	db := dbFrom(ctx, a.db)
	if err := db.Create(event).Error; err != nil {
		return fmt.Errorf("create outbox event: %w", err)
	}
	// Postgres delivers the notification when the surrounding transaction commits.
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("SELECT pg_notify(?, ?)", OutboxNotifyChannel, event.ID.String()).Error; err != nil {
			return fmt.Errorf("notify outbox event: %w", err)
		}
	}
	return nil
}

func (a *outboxAdapter) FindUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := dbFrom(ctx, a.db).
		Where("published = ?", false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("find unpublished outbox events: %w", err)
	}
	return events, nil
}

func (a *outboxAdapter) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	err := dbFrom(ctx, a.db).
		Model(&model.OutboxEvent{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"published":    true,
			"published_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("mark outbox events published: %w", err)
	}
	return nil
}

func (a *outboxAdapter) CountUnpublished(ctx context.Context) (int64, error) {
	var count int64
	err := dbFrom(ctx, a.db).
		Model(&model.OutboxEvent{}).
		Where("published = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unpublished outbox events: %w", err)
	}
	return count, nil
}

func (a *outboxAdapter) FindPublishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := dbFrom(ctx, a.db).
		Where("published = ? AND created_at < ?", true, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("find published outbox events: %w", err)
	}
	return events, nil
}

func (a *outboxAdapter) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := dbFrom(ctx, a.db).
		Where("published = ? AND created_at < ?", true, cutoff).
		Delete(&model.OutboxEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete published outbox events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Compile-time check
var _ outbound.OutboxDatabasePort = (*outboxAdapter)(nil)
