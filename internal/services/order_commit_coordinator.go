package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/models"
)

// OrderCommitCoordinator commits paid bookings with the inventory provider and
// compensates with a refund when the provider cannot issue the order
type OrderCommitCoordinator struct {
	bookings  BookingStore
	inventory InventoryProvider
	gateway   PaymentGateway
	notifier  Notifier
	audit     PaymentAuditLogger
	logger    *logrus.Logger
}

// NewOrderCommitCoordinator creates an OrderCommitCoordinator
func NewOrderCommitCoordinator(
	bookings BookingStore,
	inventory InventoryProvider,
	gateway PaymentGateway,
	notifier Notifier,
	audit PaymentAuditLogger,
	logger *logrus.Logger,
) *OrderCommitCoordinator {
	return &OrderCommitCoordinator{
		bookings:  bookings,
		inventory: inventory,
		gateway:   gateway,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
	}
}

// Commit moves a processing_provider booking to confirmed, refunded or cancelled.
// booking is updated in place. A recorded refund reason skips the commit and
// goes straight to compensation. When the refund call itself fails the booking
// stays in processing_provider with the reason recorded and an error is returned.
func (c *OrderCommitCoordinator) Commit(ctx context.Context, booking *models.ProvisionalBooking) error {
	if booking.Status != models.StatusProcessingProvider {
		return nil
	}
	if booking.RefundReason != nil && *booking.RefundReason != "" {
		return c.compensate(ctx, booking, *booking.RefundReason)
	}

	log := c.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"offer_ref":  booking.OfferRef,
	})

	order, err := c.inventory.CommitOrder(ctx, CommitOrderRequest{
		BookingID:      booking.ID.String(),
		IdempotencyKey: booking.IdempotencyKey,
		ProductType:    booking.ProductType,
		OfferRef:       booking.OfferRef,
		Price:          booking.Price(),
		Contact: models.BuyerContact{
			Name:  booking.BuyerName,
			Email: booking.BuyerEmail,
			Phone: derefString(booking.BuyerPhone),
		},
	})
	if err != nil {
		reason := "provider could not issue the order"
		var commitErr *apperr.ProviderCommitError
		if errors.As(err, &commitErr) && commitErr.Reason != "" {
			reason = commitErr.Reason
		}
		log.WithError(err).WithField("reason", reason).Warn("Order commit failed, compensating")
		c.logAudit(ctx, models.NewPaymentAudit(models.AuditOrderCommitFailed, models.AuditSourceInventory).
			ForBooking(booking).
			SetError(err).
			SetDetail("reason", reason))
		return c.compensate(ctx, booking, reason)
	}

	ref := order.OrderRef
	moved, err := c.transition(ctx, booking, models.StatusConfirmed, models.TransitionPatch{ProviderOrderRef: &ref})
	if err != nil || !moved {
		return err
	}

	c.logAudit(ctx, models.NewPaymentAudit(models.AuditOrderCommitted, models.AuditSourceInventory).
		ForBooking(booking).
		SetDetail("provider_order_ref", ref))
	log.WithField("provider_order_ref", ref).Info("Booking confirmed")
	c.notify(ctx, booking)
	return nil
}

// Resume reloads a booking and continues its saga from where it stopped
func (c *OrderCommitCoordinator) Resume(ctx context.Context, id uuid.UUID) (*models.ProvisionalBooking, error) {
	booking, err := c.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("%w: booking %s", apperr.ErrNotFound, id)
	}
	return booking, c.Commit(ctx, booking)
}

// compensate refunds the captured payment. Without a capture there is nothing to
// return and the booking is cancelled.
func (c *OrderCommitCoordinator) compensate(ctx context.Context, booking *models.ProvisionalBooking, reason string) error {
	log := c.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"reason":     reason,
	})

	if !booking.HasCapturedPayment() {
		msg := "no captured payment to refund"
		moved, err := c.transition(ctx, booking, models.StatusCancelled, models.TransitionPatch{
			RefundReason: &reason,
			LastError:    &msg,
		})
		if err != nil || !moved {
			return err
		}
		log.Info("Booking cancelled without refund")
		c.notify(ctx, booking)
		return nil
	}

	refundRef, err := c.gateway.Refund(ctx, RefundRequest{
		PaymentRef:     *booking.PaymentRef,
		Amount:         booking.Price(),
		Reason:         reason,
		IdempotencyKey: "refund-" + booking.ID.String(),
	})
	if err != nil {
		msg := err.Error()
		if annotateErr := c.bookings.Annotate(ctx, booking.ID, models.StatusProcessingProvider, models.TransitionPatch{
			RefundReason: &reason,
			LastError:    &msg,
		}); annotateErr != nil {
			log.WithError(annotateErr).Error("Failed to record refund failure")
		}
		booking.RefundReason = &reason
		booking.LastError = &msg

		c.logAudit(ctx, models.NewPaymentAudit(models.AuditRefundFailed, models.AuditSourceGateway).
			ForBooking(booking).
			SetError(err))
		log.WithError(err).Error("Refund failed, booking left for reconciliation")
		return fmt.Errorf("refund for booking %s failed: %w", booking.ID, err)
	}

	moved, err := c.transition(ctx, booking, models.StatusRefunded, models.TransitionPatch{
		RefundRef:    &refundRef,
		RefundReason: &reason,
	})
	if err != nil || !moved {
		return err
	}

	c.logAudit(ctx, models.NewPaymentAudit(models.AuditRefundIssued, models.AuditSourceGateway).
		ForBooking(booking).
		SetDetail("refund_ref", refundRef).
		SetDetail("amount_minor", booking.AmountMinor).
		SetDetail("currency", booking.Currency))
	log.WithField("refund_ref", refundRef).Info("Booking refunded")
	c.notify(ctx, booking)
	return nil
}

// transition applies a guarded processing_provider -> to change. Losing the race
// to another worker is not an error: the booking is reloaded, left as found and
// false is returned.
func (c *OrderCommitCoordinator) transition(ctx context.Context, booking *models.ProvisionalBooking, to models.BookingStatus, patch models.TransitionPatch) (bool, error) {
	err := c.bookings.Transition(ctx, nil, booking.ID, models.StatusProcessingProvider, to, patch)
	if errors.Is(err, database.ErrStaleTransition) {
		current, getErr := c.bookings.GetByID(ctx, booking.ID)
		if getErr != nil {
			return false, getErr
		}
		if current != nil {
			*booking = *current
		}
		c.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"status":     booking.Status,
			"wanted":     to,
		}).Warn("Booking moved concurrently, transition skipped")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	booking.Status = to
	if patch.ProviderOrderRef != nil {
		booking.ProviderOrderRef = patch.ProviderOrderRef
	}
	if patch.RefundRef != nil {
		booking.RefundRef = patch.RefundRef
	}
	if patch.RefundReason != nil {
		booking.RefundReason = patch.RefundReason
	}
	if patch.LastError != nil {
		booking.LastError = patch.LastError
	}
	return true, nil
}

func (c *OrderCommitCoordinator) notify(ctx context.Context, booking *models.ProvisionalBooking) {
	if c.notifier != nil {
		c.notifier.NotifyBookingOutcome(ctx, booking)
	}
}

func (c *OrderCommitCoordinator) logAudit(ctx context.Context, entry *models.PaymentAudit) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, entry); err != nil {
		c.logger.WithError(err).Warn("Payment audit write failed")
	}
}
