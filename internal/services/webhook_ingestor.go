package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/models"
)

// OrderCommitter drives a paid booking to its terminal state
type OrderCommitter interface {
	Commit(ctx context.Context, booking *models.ProvisionalBooking) error
}

// WebhookIngestor verifies, deduplicates and applies payment provider webhooks
type WebhookIngestor struct {
	events    PaymentEventApplier
	gateways  map[string]PaymentGateway
	committer OrderCommitter
	audit     PaymentAuditLogger
	logger    *logrus.Logger
}

// NewWebhookIngestor creates a WebhookIngestor for the given gateways
func NewWebhookIngestor(events PaymentEventApplier, gateways []PaymentGateway, committer OrderCommitter, audit PaymentAuditLogger, logger *logrus.Logger) *WebhookIngestor {
	byName := make(map[string]PaymentGateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &WebhookIngestor{
		events:    events,
		gateways:  byName,
		committer: committer,
		audit:     audit,
		logger:    logger,
	}
}

// Receive verifies the raw delivery with the named provider and ingests it
func (w *WebhookIngestor) Receive(ctx context.Context, provider string, body []byte, headers http.Header) (*models.IngestResult, error) {
	gateway, ok := w.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: payment provider %q", apperr.ErrNotFound, provider)
	}

	evt, err := gateway.ParseWebhook(body, headers)
	if err != nil {
		w.logger.WithError(err).WithField("provider", provider).Warn("Webhook rejected")
		return nil, err
	}
	return w.Ingest(ctx, evt)
}

// Ingest applies a verified event exactly once. A redelivery of an already
// processed event is a successful no-op. A storage error is returned so the
// provider redelivers.
func (w *WebhookIngestor) Ingest(ctx context.Context, evt *models.PaymentEvent) (*models.IngestResult, error) {
	log := w.logger.WithFields(logrus.Fields{
		"event_id":    evt.EventID,
		"provider":    evt.Provider,
		"kind":        evt.Kind,
		"session_ref": evt.SessionRef,
	})

	applied, err := w.events.Apply(ctx, evt, decideOnEvent(evt))
	if err != nil {
		log.WithError(err).Error("Webhook processing failed, provider will redeliver")
		return nil, err
	}

	if applied.Replay {
		log.Info("Webhook replay ignored")
		w.logAudit(ctx, models.NewPaymentAudit(models.AuditWebhookReplay, models.AuditSourceWebhook).ForEvent(evt))
		return &models.IngestResult{Outcome: models.WebhookOutcomeReplay}, nil
	}

	booking := applied.Booking
	w.logAudit(ctx, models.NewPaymentAudit(models.AuditWebhookReceived, models.AuditSourceWebhook).
		ForBooking(booking).
		ForEvent(evt).
		SetRawBody(evt.Payload).
		SetDetail("kind", string(evt.Kind)).
		SetDetail("raw_type", evt.RawType))

	if booking == nil {
		log.Warn("Webhook for unknown checkout session")
		return &models.IngestResult{Outcome: models.WebhookOutcomeBookingNotFound}, nil
	}

	bookingID := booking.ID
	result := &models.IngestResult{BookingID: &bookingID, Status: booking.Status}
	log = log.WithField("booking_id", booking.ID)

	if !applied.Applied {
		log.WithFields(logrus.Fields{
			"status": booking.Status,
			"note":   applied.Note,
		}).Info("Webhook recorded without transition")
		result.Outcome = models.WebhookOutcomeNoop
		return result, nil
	}

	switch booking.Status {
	case models.StatusProcessingProvider:
		result.Outcome = models.WebhookOutcomeAdvanced
		entry := models.NewPaymentAudit(models.AuditPaymentSucceeded, models.AuditSourceWebhook).
			ForBooking(booking).
			ForEvent(evt)
		if evt.Amount != nil && !entry.SetAmounts(booking.Price(), *evt.Amount) {
			log.WithFields(logrus.Fields{
				"expected": booking.Price().String(),
				"received": evt.Amount.String(),
			}).Error("Charged amount differs from booking amount")
			w.logAudit(ctx, models.NewPaymentAudit(models.AuditAmountMismatch, models.AuditSourceWebhook).
				ForBooking(booking).
				ForEvent(evt).
				SetDetail("refund_reason", derefString(booking.RefundReason)))
		}
		w.logAudit(ctx, entry)
		log.Info("Payment verified, committing order")

		// The webhook is already acknowledged in storage; the provider outcome
		// shows in the verify projection and the reconciler picks up failures.
		if err := w.committer.Commit(context.WithoutCancel(ctx), booking); err != nil {
			log.WithError(err).Error("Order commit did not finish, reconciler will retry")
		}
		result.Status = booking.Status

	case models.StatusCancelled:
		result.Outcome = models.WebhookOutcomeCancelled
		w.logAudit(ctx, models.NewPaymentAudit(models.AuditPaymentFailed, models.AuditSourceWebhook).
			ForBooking(booking).
			ForEvent(evt).
			SetDetail("kind", string(evt.Kind)))
		log.Info("Payment did not complete, booking cancelled")
	}

	return result, nil
}

// decideOnEvent maps an event onto the locked booking. Only a pending_payment
// booking moves; everything else is recorded as processed.
func decideOnEvent(evt *models.PaymentEvent) database.DecideFunc {
	return func(b *models.ProvisionalBooking) *database.EventDecision {
		if b == nil {
			return &database.EventDecision{Note: "booking_not_found"}
		}
		if b.Status != models.StatusPendingPayment {
			return &database.EventDecision{Note: fmt.Sprintf("booking already %s", b.Status)}
		}

		switch {
		case evt.Kind == models.PaymentEventSucceeded:
			patch := models.TransitionPatch{}
			if evt.PaymentRef != "" {
				ref := evt.PaymentRef
				patch.PaymentRef = &ref
			}
			if evt.Amount != nil && !evt.Amount.Equal(b.Price()) {
				reason := fmt.Sprintf("charged %s but booking is %s", evt.Amount.String(), b.Price().String())
				patch.RefundReason = &reason
				return &database.EventDecision{To: models.StatusProcessingProvider, Patch: patch, Note: "amount_mismatch"}
			}
			return &database.EventDecision{To: models.StatusProcessingProvider, Patch: patch}

		case evt.Kind.IsFailure():
			return &database.EventDecision{To: models.StatusCancelled}
		}
		return &database.EventDecision{Note: "ignored " + evt.RawType}
	}
}

func (w *WebhookIngestor) logAudit(ctx context.Context, entry *models.PaymentAudit) {
	if w.audit == nil {
		return
	}
	if err := w.audit.Log(ctx, entry); err != nil {
		w.logger.WithError(err).Warn("Payment audit write failed")
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
