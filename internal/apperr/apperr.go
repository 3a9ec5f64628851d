package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/smarttransit/booking-saga/internal/models"
)

var (
	// ErrValidation is bad or missing input; nothing was created
	ErrValidation = errors.New("validation failed")

	// ErrPriceChanged means the provider re-quoted a different price
	ErrPriceChanged = errors.New("price changed")

	// ErrProviderUnavailable means the inventory provider could not revalidate; retryable
	ErrProviderUnavailable = errors.New("inventory provider unavailable")

	// ErrDuplicateAttemptResolved means an earlier booking for the same key was returned
	ErrDuplicateAttemptResolved = errors.New("duplicate attempt resolved to existing booking")

	// ErrPaymentFailed means the buyer's payment did not complete
	ErrPaymentFailed = errors.New("payment failed")

	// ErrProviderCommitFailed means payment succeeded but the provider could not issue the order
	ErrProviderCommitFailed = errors.New("provider order commit failed")

	// ErrWebhookReplay means the (event_id, provider) pair was already processed
	ErrWebhookReplay = errors.New("webhook already processed")

	// ErrHoldExpired means the validated price window has closed
	ErrHoldExpired = errors.New("hold expired")

	// ErrAttemptClosed means the attempt's booking was cancelled or refunded; a new attempt is needed
	ErrAttemptClosed = errors.New("attempt is closed, start a new attempt")

	// ErrOfferNotValidated means no matching revalidation exists for the attempt
	ErrOfferNotValidated = errors.New("offer not validated for this attempt")

	// ErrNotFound means the requested booking or attempt does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidSignature means a webhook failed signature verification
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrPaymentGateway means the checkout provider rejected or failed a call
	ErrPaymentGateway = errors.New("payment gateway error")
)

// ValidationError describes which input was rejected
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// PriceChangedError carries both prices so the buyer can decide
type PriceChangedError struct {
	OldPrice models.Money
	NewPrice models.Money
	Offer    models.ValidatedOffer
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price changed from %s to %s", e.OldPrice, e.NewPrice)
}

// Is makes errors.Is(err, ErrPriceChanged) match
func (e *PriceChangedError) Is(target error) bool {
	return target == ErrPriceChanged
}

// ProviderCommitError wraps the inventory provider's commit failure
type ProviderCommitError struct {
	Reason string
	Err    error
}

func (e *ProviderCommitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider order commit failed: %s", e.Reason)
	}
	return fmt.Sprintf("provider order commit failed: %s: %v", e.Reason, e.Err)
}

func (e *ProviderCommitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProviderCommitFailed) match
func (e *ProviderCommitError) Is(target error) bool {
	return target == ErrProviderCommitFailed
}

// Kind returns the stable code sent to clients
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrPriceChanged):
		return "PRICE_CHANGED"
	case errors.Is(err, ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, ErrDuplicateAttemptResolved):
		return "DUPLICATE_ATTEMPT_RESOLVED"
	case errors.Is(err, ErrPaymentFailed):
		return "PAYMENT_FAILED"
	case errors.Is(err, ErrProviderCommitFailed):
		return "PROVIDER_COMMIT_FAILED"
	case errors.Is(err, ErrWebhookReplay):
		return "WEBHOOK_REPLAY"
	case errors.Is(err, ErrHoldExpired):
		return "HOLD_EXPIRED"
	case errors.Is(err, ErrOfferNotValidated):
		return "OFFER_NOT_VALIDATED"
	case errors.Is(err, ErrAttemptClosed):
		return "ATTEMPT_CLOSED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidSignature):
		return "INVALID_SIGNATURE"
	case errors.Is(err, ErrPaymentGateway):
		return "PAYMENT_GATEWAY_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus maps an error to the response status for synchronous endpoints
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrPriceChanged),
		errors.Is(err, ErrAttemptClosed):
		return http.StatusConflict
	case errors.Is(err, ErrHoldExpired),
		errors.Is(err, ErrOfferNotValidated):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrPaymentGateway):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrDuplicateAttemptResolved):
		return http.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
