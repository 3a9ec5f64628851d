package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
	"golang.org/x/sync/singleflight"
)

// PaymentSessionBroker opens at most one checkout session per booking
type PaymentSessionBroker struct {
	bookings BookingStore
	gateway  PaymentGateway
	audit    PaymentAuditLogger
	group    singleflight.Group
	logger   *logrus.Logger
}

// NewPaymentSessionBroker creates a PaymentSessionBroker
func NewPaymentSessionBroker(bookings BookingStore, gateway PaymentGateway, audit PaymentAuditLogger, logger *logrus.Logger) *PaymentSessionBroker {
	return &PaymentSessionBroker{
		bookings: bookings,
		gateway:  gateway,
		audit:    audit,
		logger:   logger,
	}
}

// OpenSession returns the booking's checkout session, creating it on first use.
// Concurrent calls in this process share one provider call; across processes the
// conditional attach decides the winner and losers return the stored session.
func (b *PaymentSessionBroker) OpenSession(ctx context.Context, booking *models.ProvisionalBooking) (*models.CheckoutSession, error) {
	if session := storedSession(booking); session != nil {
		return session, nil
	}
	if booking.Status != models.StatusPendingPayment {
		return nil, apperr.Invalid("booking", fmt.Sprintf("cannot open payment for a %s booking", booking.Status))
	}

	v, err, _ := b.group.Do(booking.ID.String(), func() (interface{}, error) {
		return b.open(ctx, booking)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.CheckoutSession), nil
}

func (b *PaymentSessionBroker) open(ctx context.Context, booking *models.ProvisionalBooking) (*models.CheckoutSession, error) {
	session, err := b.gateway.CreateSession(ctx, booking, booking.HoldExpiry)
	if err != nil {
		b.logAudit(ctx, models.NewPaymentAudit(models.AuditSessionOpenFailed, models.AuditSourceGateway).
			ForBooking(booking).SetError(err))
		return nil, err
	}

	attached, err := b.bookings.AttachCheckoutSession(ctx, booking.ID, b.gateway.Name(), session)
	if err != nil {
		return nil, err
	}
	if !attached {
		current, err := b.bookings.GetByID(ctx, booking.ID)
		if err != nil {
			return nil, err
		}
		if stored := storedSession(current); stored != nil {
			return stored, nil
		}
		return nil, apperr.Invalid("booking", "booking is no longer awaiting payment")
	}

	provider := b.gateway.Name()
	booking.PaymentProvider = &provider
	booking.CheckoutSessionRef = &session.SessionRef
	booking.CheckoutURL = &session.URL

	b.logAudit(ctx, models.NewPaymentAudit(models.AuditSessionOpened, models.AuditSourceGateway).
		ForBooking(booking).
		SetDetail("checkout_url", session.URL).
		SetDetail("amount_minor", booking.AmountMinor).
		SetDetail("currency", booking.Currency))

	b.logger.WithFields(logrus.Fields{
		"booking_id":  booking.ID,
		"session_ref": session.SessionRef,
		"provider":    provider,
	}).Info("Checkout session opened")

	return session, nil
}

func (b *PaymentSessionBroker) logAudit(ctx context.Context, entry *models.PaymentAudit) {
	if b.audit == nil {
		return
	}
	if err := b.audit.Log(ctx, entry); err != nil {
		b.logger.WithError(err).Warn("Payment audit write failed")
	}
}

func storedSession(b *models.ProvisionalBooking) *models.CheckoutSession {
	if b == nil || !b.HasCheckoutSession() || b.CheckoutURL == nil {
		return nil
	}
	return &models.CheckoutSession{SessionRef: *b.CheckoutSessionRef, URL: *b.CheckoutURL}
}
