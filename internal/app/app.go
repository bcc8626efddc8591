// Package app assembles the payment service from its providers.
package app

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pledgeflow/payments/internal/infra/config"
	"github.com/pledgeflow/payments/internal/infra/events"
	"github.com/pledgeflow/payments/internal/infra/outbox"
)

// App holds the long-lived components of the process.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Router     *gin.Engine
	Publisher  *outbox.Publisher
	Subscriber *events.Subscriber
}

// Start launches the outbox publisher and the event subscriber.
func (a *App) Start(ctx context.Context) {
	a.Publisher.Start(ctx)
	a.Subscriber.Start(ctx)
	a.Logger.Info("background workers started")
}

// Stop stops the subscriber first so no new payments are initiated, then
// drains the publisher.
func (a *App) Stop() {
	a.Subscriber.Stop()
	a.Publisher.Stop()
	a.Logger.Info("background workers stopped")
	_ = a.Logger.Sync()
}
