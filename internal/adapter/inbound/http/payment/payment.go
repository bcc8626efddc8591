package paymenthttp

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pledgeflow/payments/internal/domain/payment"
	"github.com/pledgeflow/payments/internal/model"
	"github.com/pledgeflow/payments/internal/port/inbound"
	apperrors "github.com/pledgeflow/payments/internal/utils/errors"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader carries the client idempotency key when the body
// does not.
const IdempotencyKeyHeader = "Idempotency-Key"

// InitiatePaymentRequest is the body of POST /payments.
type InitiatePaymentRequest struct {
	PledgeID       string          `json:"pledge_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	Provider       string          `json:"provider"`
	DonorEmail     string          `json:"donor_email"`
	CampaignID     string          `json:"campaign_id"`
}

// TransitionRequest is the body of POST /payments/:id/transition.
type TransitionRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// PaymentHandler handles payment HTTP requests.
type PaymentHandler struct {
	domain payment.PaymentDomain
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(domain payment.PaymentDomain) *PaymentHandler {
	return &PaymentHandler{domain: domain}
}

// RegisterRoutes registers payment routes.
func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.InitiatePayment)
		payments.GET("", h.ListPayments)
		payments.GET("/:id", h.GetPayment)
		payments.GET("/:id/webhooks", h.ListWebhookEvents)
		payments.POST("/:id/transition", h.TransitionState)
	}
	r.GET("/pledges/:pledge_id/payment", h.GetPaymentByPledge)
}

// InitiatePayment handles POST /payments.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperrors.Validation(err.Error()))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	}

	metadata := map[string]any{}
	if req.DonorEmail != "" {
		metadata["donor_email"] = req.DonorEmail
	}
	if req.CampaignID != "" {
		metadata["campaign_id"] = req.CampaignID
	}

	res, err := h.domain.InitiatePayment(c.Request.Context(), payment.InitiateInput{
		PledgeID:       req.PledgeID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: key,
		Provider:       req.Provider,
		Metadata:       metadata,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	status := http.StatusCreated
	if res.WasIdempotent {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetPayment handles GET /payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := h.domain.GetPayment(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// GetPaymentByPledge handles GET /pledges/:pledge_id/payment.
func (h *PaymentHandler) GetPaymentByPledge(c *gin.Context) {
	p, err := h.domain.GetPaymentByPledge(c.Request.Context(), c.Param("pledge_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// ListPayments handles GET /payments.
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	var filter model.PaymentFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handleError(c, apperrors.Validation(err.Error()))
		return
	}
	filter.DefaultPagination()

	payments, total, err := h.domain.ListPayments(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewPaginatedResponse(payments, total, filter.Page, filter.PageSize))
}

// ListWebhookEvents handles GET /payments/:id/webhooks.
func (h *PaymentHandler) ListWebhookEvents(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	events, err := h.domain.ListWebhookEvents(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"webhooks": events})
}

// TransitionState handles POST /payments/:id/transition. A denied transition
// is reported in the body with status 200.
func (h *PaymentHandler) TransitionState(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, apperrors.Validation(err.Error()))
		return
	}

	res, err := h.domain.TransitionState(c.Request.Context(), id, model.PaymentState(req.State), req.Reason)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Compile-time check
var _ inbound.PaymentHttpPort = (*PaymentHandler)(nil)
