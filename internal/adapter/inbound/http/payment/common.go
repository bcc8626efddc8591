package paymenthttp

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pledgeflow/payments/internal/domain/payment"
	"github.com/pledgeflow/payments/internal/infra/breaker"
	"github.com/pledgeflow/payments/internal/port/outbound"
	apperrors "github.com/pledgeflow/payments/internal/utils/errors"
)

// toAppError maps payment domain errors onto the application error taxonomy.
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, payment.ErrInvalidInput), errors.Is(err, payment.ErrUnknownEventType):
		return apperrors.Validation(err.Error())
	case errors.Is(err, payment.ErrPaymentNotFound):
		return apperrors.NotFound("payment")
	case errors.Is(err, payment.ErrInFlight):
		return apperrors.Conflict("request is already being processed, retry later")
	case errors.Is(err, breaker.ErrOpen):
		var openErr *breaker.OpenError
		if errors.As(err, &openErr) {
			return apperrors.DependencyUnavailable(openErr.Name)
		}
		return apperrors.DependencyUnavailable("dependency")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("")
	case errors.Is(err, outbound.ErrInvalidSignature):
		return apperrors.BadRequest("webhook signature verification failed")
	default:
		return apperrors.Internal("internal server error", err)
	}
}

// handleError writes the JSON error response for err.
func handleError(c *gin.Context, err error) {
	appErr := toAppError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.StatusCode, appErr.ToResponse())
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handleError(c, apperrors.Validation("invalid payment id"))
		return uuid.Nil, false
	}
	return id, true
}
