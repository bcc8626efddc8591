package outbound

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/model"
)

// OutboxDatabasePort defines outbox ledger operations.
type OutboxDatabasePort interface {
	// Create appends an event. Called inside the transaction of the state
	// change the event describes.
	Create(ctx context.Context, event *model.OutboxEvent) error

	// FindUnpublished returns up to limit unpublished events, oldest first.
	FindUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error)

	// MarkPublished flags the given events as published in one statement.
	MarkPublished(ctx context.Context, ids []uuid.UUID) error

	// CountUnpublished returns the size of the backlog.
	CountUnpublished(ctx context.Context) (int64, error)

	// FindPublishedBefore returns published events created before cutoff.
	FindPublishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.OutboxEvent, error)

	// DeletePublishedBefore removes published events created before cutoff.
	// Unpublished events are never deleted.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutboxWakeupPort signals that new outbox rows were committed.
type OutboxWakeupPort interface {
	// Wakeups returns a channel that receives after each commit notification.
	Wakeups() <-chan struct{}

	// Close stops listening.
	Close() error
}

// OutboxArchivePort stores published events before they are cleaned up.
type OutboxArchivePort interface {
	Archive(ctx context.Context, events []*model.OutboxEvent) error
}
