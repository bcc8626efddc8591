package paymenthttp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pledgeflow/payments/internal/domain/payment"
	"github.com/pledgeflow/payments/internal/infra/breaker"
	"github.com/pledgeflow/payments/internal/port/inbound"
)

// BreakerRegistry exposes breaker state for operators.
type BreakerRegistry interface {
	AllMetrics() []breaker.Metrics
	Reset(name string) bool
	Trip(name string)
}

// AdminHandler serves lifecycle introspection and breaker administration.
type AdminHandler struct {
	breakers BreakerRegistry
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(breakers BreakerRegistry) *AdminHandler {
	return &AdminHandler{breakers: breakers}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/state-machine", h.GetStateMachine)

	health := r.Group("/health/breakers")
	{
		health.GET("", h.ListBreakers)
		health.POST("/:name/reset", h.ResetBreaker)
		health.POST("/:name/trip", h.TripBreaker)
	}
}

// GetStateMachine handles GET /state-machine.
func (h *AdminHandler) GetStateMachine(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"states": payment.TransitionGraph()})
}

// ListBreakers handles GET /health/breakers.
func (h *AdminHandler) ListBreakers(c *gin.Context) {
	all := h.breakers.AllMetrics()
	healthy := true
	for _, m := range all {
		if m.State == breaker.StateOpen {
			healthy = false
		}
	}
	c.JSON(http.StatusOK, gin.H{"healthy": healthy, "breakers": all})
}

// ResetBreaker handles POST /health/breakers/:name/reset.
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if !h.breakers.Reset(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "breaker not found"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "state": breaker.StateClosed})
}

// TripBreaker handles POST /health/breakers/:name/trip.
func (h *AdminHandler) TripBreaker(c *gin.Context) {
	name := c.Param("name")
	h.breakers.Trip(name)
	c.JSON(http.StatusOK, gin.H{"name": name, "state": breaker.StateOpen})
}

// Compile-time check
var _ inbound.AdminHttpPort = (*AdminHandler)(nil)
