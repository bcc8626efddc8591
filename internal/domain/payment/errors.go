package payment

import "errors"

var (
	// ErrPaymentNotFound is returned when a payment is not found.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidInput is returned when a request is missing required fields
	// or carries malformed values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownEventType is returned for a webhook event type with no
	// mapped payment state.
	ErrUnknownEventType = errors.New("unknown webhook event type")

	// ErrInFlight is returned when the same key or webhook is being
	// processed by another caller. The caller should retry.
	ErrInFlight = errors.New("operation already in flight")

	// errDuplicateWebhook signals a webhook row insert that lost a race.
	errDuplicateWebhook = errors.New("duplicate webhook")
)
