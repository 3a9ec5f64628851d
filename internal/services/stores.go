package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/models"
)

// BookingStore is the provisional booking persistence used by the saga services
type BookingStore interface {
	Create(ctx context.Context, b *models.ProvisionalBooking) (*models.ProvisionalBooking, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProvisionalBooking, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.ProvisionalBooking, error)
	GetByCheckoutSessionRef(ctx context.Context, sessionRef string) (*models.ProvisionalBooking, error)
	AttachCheckoutSession(ctx context.Context, id uuid.UUID, provider string, session *models.CheckoutSession) (bool, error)
	Transition(ctx context.Context, ext sqlx.ExecerContext, id uuid.UUID, from, to models.BookingStatus, patch models.TransitionPatch) error
	Annotate(ctx context.Context, id uuid.UUID, status models.BookingStatus, patch models.TransitionPatch) error
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*models.ProvisionalBooking, error)
	ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.ProvisionalBooking, error)
}

// PaymentEventApplier applies a verified webhook exactly once
type PaymentEventApplier interface {
	Apply(ctx context.Context, evt *models.PaymentEvent, decide database.DecideFunc) (*database.ApplyResult, error)
}

// PaymentAuditLogger appends to the payment audit trail
type PaymentAuditLogger interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

var (
	_ BookingStore        = (*database.ProvisionalBookingRepository)(nil)
	_ PaymentEventApplier = (*database.PaymentEventStore)(nil)
	_ PaymentAuditLogger  = (*database.PaymentAuditRepository)(nil)
)
