package inbound

import "github.com/gin-gonic/gin"

// PaymentHttpPort defines HTTP handler interface for payment operations.
type PaymentHttpPort interface {
	// InitiatePayment handles POST /payments
	// Creates a payment for a pledge, or replays the one created under the
	// same idempotency key.
	InitiatePayment(c *gin.Context)

	// GetPayment handles GET /payments/:id
	GetPayment(c *gin.Context)

	// GetPaymentByPledge handles GET /pledges/:pledge_id/payment
	// Returns the latest payment of a pledge.
	GetPaymentByPledge(c *gin.Context)

	// ListPayments handles GET /payments
	ListPayments(c *gin.Context)

	// ListWebhookEvents handles GET /payments/:id/webhooks
	ListWebhookEvents(c *gin.Context)

	// TransitionState handles POST /payments/:id/transition
	// Operator-driven state change.
	TransitionState(c *gin.Context)
}

// WebhookHttpPort defines HTTP handler interface for webhook operations.
type WebhookHttpPort interface {
	// HandleWebhook handles POST /webhooks/payments
	// Processes a provider-independent webhook payload.
	HandleWebhook(c *gin.Context)

	// HandleStripeWebhook handles POST /webhooks/stripe
	// Verifies and normalizes a Stripe event, then processes it.
	HandleStripeWebhook(c *gin.Context)
}

// AdminHttpPort defines HTTP handler interface for operator endpoints.
type AdminHttpPort interface {
	// GetStateMachine handles GET /state-machine
	GetStateMachine(c *gin.Context)

	// ListBreakers handles GET /health/breakers
	ListBreakers(c *gin.Context)

	// ResetBreaker handles POST /health/breakers/:name/reset
	ResetBreaker(c *gin.Context)

	// TripBreaker handles POST /health/breakers/:name/trip
	TripBreaker(c *gin.Context)
}
