package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-saga/internal/models"
)

// EventDecision is what a payment event does to its booking.
// An empty To records the event without a transition.
type EventDecision struct {
	To    models.BookingStatus
	Patch models.TransitionPatch
	Note  string
}

// DecideFunc maps the locked booking (nil when unknown) to a decision; nil means no-op
type DecideFunc func(b *models.ProvisionalBooking) *EventDecision

// ApplyResult reports what Apply committed
type ApplyResult struct {
	Replay  bool
	Booking *models.ProvisionalBooking
	From    models.BookingStatus
	Applied bool
	Note    string
}

// PaymentEventStore applies a webhook exactly once: the dedup claim, the booking
// row lock, the transition and the processed mark share one transaction.
type PaymentEventStore struct {
	db       *sqlx.DB
	bookings *ProvisionalBookingRepository
	events   *WebhookEventRepository
}

// NewPaymentEventStore creates a PaymentEventStore
func NewPaymentEventStore(db *sqlx.DB, bookings *ProvisionalBookingRepository, events *WebhookEventRepository) *PaymentEventStore {
	return &PaymentEventStore{db: db, bookings: bookings, events: events}
}

// Apply claims evt and, when it is new, applies decide to the booking bound to its session.
// Any error rolls everything back so the provider's redelivery starts clean.
func (s *PaymentEventStore) Apply(ctx context.Context, evt *models.PaymentEvent, decide DecideFunc) (*ApplyResult, error) {
	result := &ApplyResult{}

	err := InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		claimed, err := s.events.Claim(ctx, tx, evt)
		if err != nil {
			return err
		}
		if !claimed {
			result.Replay = true
			return nil
		}

		var booking *models.ProvisionalBooking
		if evt.SessionRef != "" {
			booking, err = s.bookings.LockByCheckoutSessionRef(ctx, tx, evt.SessionRef)
			if err != nil {
				return err
			}
		}

		var bookingID *uuid.UUID
		if booking != nil {
			id := booking.ID
			bookingID = &id
			result.From = booking.Status
		}

		var note *string
		if d := decide(booking); d != nil {
			if d.Note != "" {
				result.Note = d.Note
				note = &d.Note
			}
			if d.To != "" && booking != nil {
				if err := s.bookings.Transition(ctx, tx, booking.ID, booking.Status, d.To, d.Patch); err != nil {
					return err
				}
				applyPatch(booking, d.To, d.Patch)
				result.Applied = true
			}
		}
		result.Booking = booking

		return s.events.MarkProcessed(ctx, tx, evt, bookingID, note)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyPatch(b *models.ProvisionalBooking, to models.BookingStatus, p models.TransitionPatch) {
	b.Status = to
	if p.PaymentRef != nil {
		b.PaymentRef = p.PaymentRef
	}
	if p.ProviderOrderRef != nil {
		b.ProviderOrderRef = p.ProviderOrderRef
	}
	if p.RefundRef != nil {
		b.RefundRef = p.RefundRef
	}
	if p.RefundReason != nil {
		b.RefundReason = p.RefundReason
	}
	if p.LastError != nil {
		b.LastError = p.LastError
	}
}
