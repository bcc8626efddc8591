package paymenthttp

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pledgeflow/payments/internal/domain/payment"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/inbound"
	"github.com/pledgeflow/payments/internal/port/outbound"
	apperrors "github.com/pledgeflow/payments/internal/utils/errors"
)

const maxWebhookBody = 1 << 16

// WebhookHandler handles payment webhook HTTP requests.
type WebhookHandler struct {
	domain payment.PaymentDomain
	stripe outbound.WebhookNormalizerPort
}

// NewWebhookHandler creates a new webhook handler. stripe may be nil when
// no webhook secret is configured; the native route then answers 503.
func NewWebhookHandler(domain payment.PaymentDomain, stripe outbound.WebhookNormalizerPort) *WebhookHandler {
	return &WebhookHandler{domain: domain, stripe: stripe}
}

// RegisterRoutes registers webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/payments", h.HandleWebhook)
		webhooks.POST("/stripe", h.HandleStripeWebhook)
	}
}

// HandleWebhook handles POST /webhooks/payments with a normalized payload.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	var payload model.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		handleError(c, apperrors.Validation(err.Error()))
		return
	}

	h.process(c, &payload)
}

// HandleStripeWebhook handles POST /webhooks/stripe.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	if h.stripe == nil {
		handleError(c, apperrors.DependencyUnavailable("stripe webhooks"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		handleError(c, apperrors.BadRequest("failed to read request body"))
		return
	}

	payload, err := h.stripe.Normalize(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		handleError(c, err)
		return
	}
	if payload == nil {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	h.process(c, payload)
}

func (h *WebhookHandler) process(c *gin.Context, payload *model.WebhookPayload) {
	res, err := h.domain.ProcessWebhook(c.Request.Context(), payload)
	if err != nil {
		handleError(c, err)
		return
	}

	resp := gin.H{
		"received":       true,
		"webhook_id":     payload.WebhookID,
		"was_idempotent": res.WasIdempotent,
	}
	if res.Payment != nil {
		resp["payment_id"] = res.Payment.ID
		resp["state"] = res.Payment.State
	}
	if res.Transition != nil {
		resp["transition"] = res.Transition
	}
	c.JSON(http.StatusOK, resp)
}

// Compile-time check
var _ inbound.WebhookHttpPort = (*WebhookHandler)(nil)
