package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

// SweepReport summarizes one sweeper pass
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Cancelled int `json:"cancelled"`
	Paid      int `json:"paid"`
	Failed    int `json:"failed"`
}

// HoldExpirationService cancels pending bookings whose checkout was abandoned
// after the hold window. A booking is only cancelled once the provider confirms
// its session is closed unpaid.
type HoldExpirationService struct {
	bookings BookingStore
	gateway  PaymentGateway
	audit    PaymentAuditLogger
	clock    clock.Clock
	grace    time.Duration
	limit    int
	logger   *logrus.Logger
}

// NewHoldExpirationService creates a HoldExpirationService
func NewHoldExpirationService(
	bookings BookingStore,
	gateway PaymentGateway,
	audit PaymentAuditLogger,
	clk clock.Clock,
	grace time.Duration,
	limit int,
	logger *logrus.Logger,
) *HoldExpirationService {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if limit <= 0 {
		limit = 100
	}
	return &HoldExpirationService{
		bookings: bookings,
		gateway:  gateway,
		audit:    audit,
		clock:    clk,
		grace:    grace,
		limit:    limit,
		logger:   logger,
	}
}

// RunOnce processes one batch of expired holds
func (s *HoldExpirationService) RunOnce(ctx context.Context) (*SweepReport, error) {
	cutoff := s.clock.Now().Add(-s.grace)
	expired, err := s.bookings.ListExpiredPending(ctx, cutoff, s.limit)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Scanned: len(expired)}
	if len(expired) == 0 {
		return report, nil
	}
	s.logger.WithField("count", len(expired)).Info("Processing expired holds")

	for _, booking := range expired {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		cancelled, err := s.expire(ctx, booking)
		switch {
		case err != nil:
			report.Failed++
			s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to expire hold")
		case cancelled:
			report.Cancelled++
		default:
			report.Paid++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"cancelled": report.Cancelled,
		"paid":      report.Paid,
		"failed":    report.Failed,
	}).Info("Hold sweep finished")
	return report, nil
}

// expire returns false when the session turned out to be paid or the booking moved on
func (s *HoldExpirationService) expire(ctx context.Context, booking *models.ProvisionalBooking) (bool, error) {
	if booking.HasCheckoutSession() {
		if booking.PaymentProvider != nil && *booking.PaymentProvider != s.gateway.Name() {
			s.logger.WithFields(logrus.Fields{
				"booking_id": booking.ID,
				"provider":   *booking.PaymentProvider,
			}).Warn("Hold belongs to another payment provider, skipped")
			return false, nil
		}

		closed, err := s.gateway.ExpireSession(ctx, *booking.CheckoutSessionRef)
		if err != nil {
			return false, err
		}
		if !closed {
			s.logger.WithField("booking_id", booking.ID).Info("Expired hold was paid, waiting for webhook")
			return false, nil
		}
	}

	reason := "hold expired before payment"
	err := s.bookings.Transition(ctx, nil, booking.ID, models.StatusPendingPayment, models.StatusCancelled,
		models.TransitionPatch{LastError: &reason})
	if errors.Is(err, database.ErrStaleTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	booking.Status = models.StatusCancelled

	if s.audit != nil {
		entry := models.NewPaymentAudit(models.AuditSessionExpired, models.AuditSourceBackend).
			ForBooking(booking).
			SetDetail("hold_expiry", booking.HoldExpiry)
		if err := s.audit.Log(ctx, entry); err != nil {
			s.logger.WithError(err).Warn("Payment audit write failed")
		}
	}
	return true, nil
}
