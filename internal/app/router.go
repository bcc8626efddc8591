package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	paymenthttp "github.com/pledgeflow/payments/internal/adapter/inbound/http/payment"
	"github.com/pledgeflow/payments/internal/infra/config"
	"github.com/pledgeflow/payments/internal/utils/metrics"
	"github.com/pledgeflow/payments/internal/utils/middleware"
)

// ProvideRouter creates the Gin router with middleware and routes.
func ProvideRouter(
	cfg *config.Config,
	log *zap.Logger,
	m *metrics.Metrics,
	payments *paymenthttp.PaymentHandler,
	webhooks *paymenthttp.WebhookHandler,
	admin *paymenthttp.AdminHandler,
) *gin.Engine {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		cors.AllowOrigins = cfg.Server.CORSOrigins
	}

	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID(log))
	r.Use(middleware.Logging(log))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(cors))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	payments.RegisterRoutes(v1)
	webhooks.RegisterRoutes(v1)
	admin.RegisterRoutes(v1)

	return r
}
