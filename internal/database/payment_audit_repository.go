package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/models"
)

const paymentAuditColumns = `
	id, booking_id, provider, session_ref, payment_ref, event_id,
	event_type, source,
	expected_amount_minor, received_amount_minor, currency, amounts_match,
	details, raw_body, error_message, created_at`

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry.
// Callers treat a failure here as loud but non-fatal to the saga step.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO payment_audits (` + paymentAuditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.Provider, audit.SessionRef, audit.PaymentRef, audit.EventID,
		audit.EventType, audit.Source,
		audit.ExpectedAmountMinor, audit.ReceivedAmountMinor, audit.Currency, audit.AmountsMatch,
		audit.Details, audit.RawBody, audit.ErrorMessage, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"booking_id": audit.BookingID,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"booking_id": audit.BookingID,
	}).Debug("Payment audit logged")

	return nil
}

// GetByBookingID retrieves the audit trail of a booking, oldest first
func (r *PaymentAuditRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `SELECT ` + paymentAuditColumns + `
		FROM payment_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get audits by booking ID: %w", err)
	}
	return audits, nil
}

// GetAmountMismatches retrieves audits where the charged amount differed from the booking
func (r *PaymentAuditRepository) GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `SELECT ` + paymentAuditColumns + `
		FROM payment_audits
		WHERE amounts_match = FALSE
		ORDER BY created_at DESC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &audits, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get amount mismatches: %w", err)
	}
	return audits, nil
}
