package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/sms"
)

// Notifier tells the buyer how a paid booking ended
type Notifier interface {
	NotifyBookingOutcome(ctx context.Context, booking *models.ProvisionalBooking)
}

// NotificationService sends booking outcome messages by SMS
type NotificationService struct {
	gateway sms.Gateway
	logger  *logrus.Logger
}

// NewNotificationService creates a NotificationService
func NewNotificationService(gateway sms.Gateway, logger *logrus.Logger) *NotificationService {
	return &NotificationService{gateway: gateway, logger: logger}
}

// NotifyBookingOutcome sends the terminal-status message. Delivery failures are
// logged and never affect the booking.
func (s *NotificationService) NotifyBookingOutcome(ctx context.Context, booking *models.ProvisionalBooking) {
	message := outcomeMessage(booking)
	if message == "" {
		return
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"status":     booking.Status,
	})
	if booking.BuyerPhone == nil || *booking.BuyerPhone == "" {
		log.Debug("No buyer phone, outcome notification skipped")
		return
	}

	if err := s.gateway.Send(ctx, *booking.BuyerPhone, message); err != nil {
		log.WithError(err).Warn("Outcome notification failed")
		return
	}
	log.Info("Outcome notification sent")
}

func outcomeMessage(b *models.ProvisionalBooking) string {
	ref := b.ID.String()[:8]
	switch b.Status {
	case models.StatusConfirmed:
		order := ""
		if b.ProviderOrderRef != nil {
			order = *b.ProviderOrderRef
		}
		return fmt.Sprintf("Your %s booking %s is confirmed. Provider reference: %s. Total paid: %s.",
			b.ProductType, ref, order, b.Price().String())
	case models.StatusRefunded:
		return fmt.Sprintf("We could not complete your %s booking %s. Your payment of %s has been refunded.",
			b.ProductType, ref, b.Price().String())
	case models.StatusCancelled:
		if b.RefundReason == nil {
			return ""
		}
		return fmt.Sprintf("Your %s booking %s was cancelled and you have not been charged.", b.ProductType, ref)
	}
	return ""
}
