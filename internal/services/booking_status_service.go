package services

import (
	"context"

	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
)

// BookingStatusService answers the client's verify poll. It never changes a booking.
type BookingStatusService struct {
	bookings BookingStore
}

// NewBookingStatusService creates a BookingStatusService
func NewBookingStatusService(bookings BookingStore) *BookingStatusService {
	return &BookingStatusService{bookings: bookings}
}

// Verify looks the booking up by checkout session, or by id when no session is given
func (s *BookingStatusService) Verify(ctx context.Context, q models.VerifyQuery) (*models.BookingStatusView, error) {
	var (
		booking *models.ProvisionalBooking
		err     error
	)
	switch {
	case q.SessionID != "":
		booking, err = s.bookings.GetByCheckoutSessionRef(ctx, q.SessionID)
	case q.BookingID != nil:
		booking, err = s.bookings.GetByID(ctx, *q.BookingID)
	default:
		return nil, apperr.Invalid("session_id", "session_id or booking_id is required")
	}
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, apperr.ErrNotFound
	}
	return models.NewBookingStatusView(booking), nil
}
