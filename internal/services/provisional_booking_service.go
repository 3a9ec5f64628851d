package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
	"github.com/smarttransit/booking-saga/pkg/validator"
)

// ProvisionalBookingService turns a validated attempt into a stored booking with a checkout page
type ProvisionalBookingService struct {
	bookings BookingStore
	quotes   QuoteStore
	broker   *PaymentSessionBroker
	contacts *validator.ContactValidator
	clock    clock.Clock
	logger   *logrus.Logger
}

// NewProvisionalBookingService creates a ProvisionalBookingService
func NewProvisionalBookingService(
	bookings BookingStore,
	quotes QuoteStore,
	broker *PaymentSessionBroker,
	clk clock.Clock,
	logger *logrus.Logger,
) *ProvisionalBookingService {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &ProvisionalBookingService{
		bookings: bookings,
		quotes:   quotes,
		broker:   broker,
		contacts: validator.NewContactValidator(),
		clock:    clk,
		logger:   logger,
	}
}

// CreateProvisionalBooking stores the booking at the revalidated price and opens payment.
// A repeat of the same attempt resolves to the booking already stored for its key.
func (s *ProvisionalBookingService) CreateProvisionalBooking(ctx context.Context, req *models.CreateProvisionalBookingRequest) (*models.CreateProvisionalBookingResponse, error) {
	offer := req.ValidatedOffer
	if offer.ProductType == "" {
		offer.ProductType = req.ProductType
	}
	if err := validateAttempt(req.IdempotencyKey, req.ProductType, offer.OfferRef, offer.Price); err != nil {
		return nil, err
	}
	contact, field, err := s.contacts.ValidateContact(req.Contact.Name, req.Contact.Email, req.Contact.Phone)
	if err != nil {
		return nil, apperr.Invalid("contact."+field, err.Error())
	}

	existing, err := s.bookings.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resolveExisting(ctx, existing)
	}

	pending, err := s.quotes.GetSuspension(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, fmt.Errorf("%w: awaiting the buyer's decision on %s", apperr.ErrPriceChanged, pending.New.Price.String())
	}

	recorded, err := s.quotes.GetValidated(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if recorded == nil {
		return nil, apperr.ErrOfferNotValidated
	}
	offer.Price = models.NewMoney(offer.Price.AmountMinor, offer.Price.Currency)
	if !recorded.SameTerms(offer) {
		s.logger.WithFields(logrus.Fields{
			"idempotency_key": req.IdempotencyKey,
			"recorded_price":  recorded.Price.String(),
			"submitted_price": offer.Price.String(),
		}).Warn("Submitted offer differs from the revalidated offer")
		return nil, apperr.Invalid("validated_offer", "does not match the revalidated offer")
	}
	if recorded.IsExpired(s.clock.Now()) {
		return nil, apperr.ErrHoldExpired
	}

	booking := &models.ProvisionalBooking{
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		ProductType:    recorded.ProductType,
		OfferRef:       recorded.OfferRef,
		AmountMinor:    recorded.Price.AmountMinor,
		Currency:       recorded.Price.Currency,
		HoldExpiry:     recorded.ExpiresAt,
		BuyerName:      contact.Name,
		BuyerEmail:     contact.Email,
		AgentRef:       req.AgentRef,
	}
	if contact.Phone != "" {
		booking.BuyerPhone = &contact.Phone
	}

	stored, created, err := s.bookings.Create(ctx, booking)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.resolveExisting(ctx, stored)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":      stored.ID,
		"idempotency_key": stored.IdempotencyKey,
		"amount":          stored.Price().String(),
		"hold_expiry":     stored.HoldExpiry,
	}).Info("Provisional booking created")

	session, err := s.broker.OpenSession(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("booking %s stored but payment could not be opened: %w", stored.ID, err)
	}

	return &models.CreateProvisionalBookingResponse{
		OK:          true,
		BookingID:   stored.ID,
		CheckoutURL: session.URL,
		Status:      stored.Status,
	}, nil
}

// resolveExisting answers a duplicate attempt with the stored booking, reopening
// its checkout page when the earlier request stopped before one was attached.
// Cancelled and refunded bookings close their key.
func (s *ProvisionalBookingService) resolveExisting(ctx context.Context, existing *models.ProvisionalBooking) (*models.CreateProvisionalBookingResponse, error) {
	if existing.Status.IsClosed() {
		s.logger.WithFields(logrus.Fields{
			"booking_id":      existing.ID,
			"idempotency_key": existing.IdempotencyKey,
			"status":          existing.Status,
		}).Info("Create refused for a closed attempt")
		return nil, apperr.ErrAttemptClosed
	}

	resp := &models.CreateProvisionalBookingResponse{
		OK:        true,
		BookingID: existing.ID,
		Status:    existing.Status,
		Existing:  true,
	}

	if existing.Status == models.StatusPendingPayment {
		session, err := s.broker.OpenSession(ctx, existing)
		if err != nil {
			return nil, err
		}
		resp.CheckoutURL = session.URL
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":      existing.ID,
		"idempotency_key": existing.IdempotencyKey,
		"status":          existing.Status,
	}).Info("Duplicate attempt resolved to existing booking")
	return resp, nil
}
