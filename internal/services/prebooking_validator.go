package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidationOutcome is the success side of Validate: either a fresh validated
// offer or the booking an earlier submission of the same attempt already created
type ValidationOutcome struct {
	ValidatedOffer  *models.ValidatedOffer
	ExistingBooking *models.ProvisionalBooking
}

// PrebookingValidator reconfirms an offer with the inventory provider before any booking is written
type PrebookingValidator struct {
	bookings   BookingStore
	inventory  InventoryProvider
	quotes     QuoteStore
	negotiator *PriceChangeNegotiator
	clock      clock.Clock
	holdWindow time.Duration
	logger     *logrus.Logger
}

// NewPrebookingValidator creates a PrebookingValidator
func NewPrebookingValidator(
	bookings BookingStore,
	inventory InventoryProvider,
	quotes QuoteStore,
	negotiator *PriceChangeNegotiator,
	clk clock.Clock,
	holdWindow time.Duration,
	logger *logrus.Logger,
) *PrebookingValidator {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &PrebookingValidator{
		bookings:   bookings,
		inventory:  inventory,
		quotes:     quotes,
		negotiator: negotiator,
		clock:      clk,
		holdWindow: holdWindow,
		logger:     logger,
	}
}

// Validate checks the attempt, short-circuits on an existing booking, then re-quotes.
// A different quote is returned as *apperr.PriceChangedError and the attempt is suspended.
func (v *PrebookingValidator) Validate(ctx context.Context, req *models.ValidatePrebookingRequest) (*ValidationOutcome, error) {
	if err := validateAttempt(req.IdempotencyKey, req.ProductType, req.Offer.OfferRef, req.Offer.Price); err != nil {
		return nil, err
	}
	submitted := models.NewMoney(req.Offer.Price.AmountMinor, req.Offer.Price.Currency)

	existing, err := v.bookings.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status.IsClosed() {
			v.logger.WithFields(logrus.Fields{
				"idempotency_key": req.IdempotencyKey,
				"booking_id":      existing.ID,
				"status":          existing.Status,
			}).Info("Attempt key reused after its booking closed")
			return nil, apperr.ErrAttemptClosed
		}
		v.logger.WithFields(logrus.Fields{
			"idempotency_key": req.IdempotencyKey,
			"booking_id":      existing.ID,
			"status":          existing.Status,
		}).Info("Attempt already has a booking")
		return &ValidationOutcome{ExistingBooking: existing}, nil
	}

	quote, err := v.inventory.Revalidate(ctx, req.ProductType, req.Offer.OfferRef)
	if err != nil {
		v.logger.WithError(err).WithField("offer_ref", req.Offer.OfferRef).Warn("Offer revalidation failed")
		return nil, err
	}

	now := v.clock.Now()
	expiresAt := now.Add(v.holdWindow)
	if !quote.ExpiresAt.IsZero() && quote.ExpiresAt.Before(expiresAt) {
		expiresAt = quote.ExpiresAt
	}
	if !expiresAt.After(now) {
		return nil, apperr.ErrHoldExpired
	}

	validated := models.ValidatedOffer{
		OfferRef:    req.Offer.OfferRef,
		ProductType: req.ProductType,
		Price:       quote.Price,
		ExpiresAt:   expiresAt,
	}

	if !quote.Price.Equal(submitted) {
		old := validated
		old.Price = submitted
		if err := v.negotiator.Suspend(ctx, req.IdempotencyKey, old, validated); err != nil {
			return nil, err
		}
		return nil, &apperr.PriceChangedError{OldPrice: submitted, NewPrice: quote.Price, Offer: validated}
	}

	if err := v.quotes.SaveValidated(ctx, req.IdempotencyKey, validated); err != nil {
		return nil, err
	}

	v.logger.WithFields(logrus.Fields{
		"idempotency_key": req.IdempotencyKey,
		"offer_ref":       validated.OfferRef,
		"price":           validated.Price.String(),
		"expires_at":      validated.ExpiresAt,
	}).Info("Offer validated")

	return &ValidationOutcome{ValidatedOffer: &validated}, nil
}

// validateAttempt checks the fields every saga entry point requires
func validateAttempt(key string, productType models.ProductType, offerRef string, price models.Money) error {
	if strings.TrimSpace(key) == "" {
		return apperr.Invalid("idempotency_key", "is required")
	}
	if !productType.IsValid() {
		return apperr.Invalid("product_type", "must be one of flight, hotel, car")
	}
	if strings.TrimSpace(offerRef) == "" {
		return apperr.Invalid("offer_ref", "is required")
	}
	if price.AmountMinor <= 0 {
		return apperr.Invalid("price", "must be positive")
	}
	if !currencyRegex.MatchString(strings.ToUpper(strings.TrimSpace(price.Currency))) {
		return apperr.Invalid("currency", "must be a 3-letter ISO 4217 code")
	}
	return nil
}
