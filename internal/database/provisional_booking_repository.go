package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

var (
	// ErrIllegalTransition means the requested edge is not in the state machine
	ErrIllegalTransition = errors.New("illegal booking status transition")

	// ErrStaleTransition means the booking was no longer in the expected status
	ErrStaleTransition = errors.New("booking status changed concurrently")
)

const provisionalBookingColumns = `
	id, idempotency_key, user_id, product_type, offer_ref,
	amount_minor, currency, status, hold_expiry,
	buyer_name, buyer_email, buyer_phone, agent_ref,
	payment_provider, checkout_session_ref, checkout_url, payment_ref,
	provider_order_ref, refund_ref, refund_reason, last_error,
	created_at, updated_at`

// ProvisionalBookingRepository handles provisional booking database operations
type ProvisionalBookingRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewProvisionalBookingRepository creates a new ProvisionalBookingRepository
func NewProvisionalBookingRepository(db *sqlx.DB, clk clock.Clock) *ProvisionalBookingRepository {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &ProvisionalBookingRepository{db: db, clock: clk}
}

// ============================================================================
// CREATE
// ============================================================================

// Create inserts a booking in pending_payment, or returns the row already stored
// under the same idempotency key. The bool is true only when this call inserted.
func (r *ProvisionalBookingRepository) Create(ctx context.Context, b *models.ProvisionalBooking) (*models.ProvisionalBooking, bool, error) {
	now := r.clock.Now()
	if !b.HoldExpiry.After(now) {
		return nil, false, apperr.ErrHoldExpired
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Status = models.StatusPendingPayment
	b.CreatedAt = now
	b.UpdatedAt = now

	query := `
		INSERT INTO provisional_bookings (
			id, idempotency_key, user_id, product_type, offer_ref,
			amount_minor, currency, status, hold_expiry,
			buyer_name, buyer_email, buyer_phone, agent_ref,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (idempotency_key) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		b.ID, b.IdempotencyKey, b.UserID, b.ProductType, b.OfferRef,
		b.AmountMinor, b.Currency, b.Status, b.HoldExpiry,
		b.BuyerName, b.BuyerEmail, b.BuyerPhone, b.AgentRef,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create provisional booking: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return b, true, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, b.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("provisional booking not found after conflict on key %s", b.IdempotencyKey)
	}
	return existing, false, nil
}

// ============================================================================
// READS
// ============================================================================

// GetByID retrieves a booking by ID; nil when absent
func (r *ProvisionalBookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ProvisionalBooking, error) {
	return r.getOne(ctx, r.db, `WHERE id = $1`, id)
}

// GetByIdempotencyKey retrieves a booking by its attempt key; nil when absent
func (r *ProvisionalBookingRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.ProvisionalBooking, error) {
	return r.getOne(ctx, r.db, `WHERE idempotency_key = $1`, key)
}

// GetByCheckoutSessionRef retrieves a booking by its checkout session; nil when absent
func (r *ProvisionalBookingRepository) GetByCheckoutSessionRef(ctx context.Context, sessionRef string) (*models.ProvisionalBooking, error) {
	return r.getOne(ctx, r.db, `WHERE checkout_session_ref = $1`, sessionRef)
}

// LockByCheckoutSessionRef reads and row-locks a booking inside tx; nil when absent
func (r *ProvisionalBookingRepository) LockByCheckoutSessionRef(ctx context.Context, tx *sqlx.Tx, sessionRef string) (*models.ProvisionalBooking, error) {
	return r.getOne(ctx, tx, `WHERE checkout_session_ref = $1 FOR UPDATE`, sessionRef)
}

func (r *ProvisionalBookingRepository) getOne(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*models.ProvisionalBooking, error) {
	var b models.ProvisionalBooking
	query := `SELECT ` + provisionalBookingColumns + ` FROM provisional_bookings ` + where
	err := sqlx.GetContext(ctx, q, &b, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provisional booking: %w", err)
	}
	return &b, nil
}

// ListExpiredPending returns pending_payment bookings whose hold closed before cutoff
func (r *ProvisionalBookingRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*models.ProvisionalBooking, error) {
	query := `SELECT ` + provisionalBookingColumns + `
		FROM provisional_bookings
		WHERE status = $1 AND hold_expiry < $2
		ORDER BY hold_expiry ASC
		LIMIT $3`

	var bookings []*models.ProvisionalBooking
	if err := r.db.SelectContext(ctx, &bookings, query, models.StatusPendingPayment, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired pending bookings: %w", err)
	}
	return bookings, nil
}

// ListStuckProcessing returns processing_provider bookings untouched since olderThan
func (r *ProvisionalBookingRepository) ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.ProvisionalBooking, error) {
	query := `SELECT ` + provisionalBookingColumns + `
		FROM provisional_bookings
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`

	var bookings []*models.ProvisionalBooking
	if err := r.db.SelectContext(ctx, &bookings, query, models.StatusProcessingProvider, olderThan, limit); err != nil {
		return nil, fmt.Errorf("failed to list stuck processing bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// UPDATES
// ============================================================================

// AttachCheckoutSession binds a payment session to a pending booking that has none.
// Returns false when another caller already attached one.
func (r *ProvisionalBookingRepository) AttachCheckoutSession(ctx context.Context, id uuid.UUID, provider string, session *models.CheckoutSession) (bool, error) {
	query := `
		UPDATE provisional_bookings
		SET payment_provider = $2, checkout_session_ref = $3, checkout_url = $4, updated_at = $5
		WHERE id = $1 AND status = $6 AND checkout_session_ref IS NULL`

	res, err := r.db.ExecContext(ctx, query,
		id, provider, session.SessionRef, session.URL, r.clock.Now(), models.StatusPendingPayment,
	)
	if err != nil {
		return false, fmt.Errorf("failed to attach checkout session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected == 1, nil
}

// Transition moves a booking from one status to another. It only succeeds while the
// row is still in from; patch columns that are nil keep their stored value.
func (r *ProvisionalBookingRepository) Transition(ctx context.Context, ext sqlx.ExecerContext, id uuid.UUID, from, to models.BookingStatus, patch models.TransitionPatch) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if ext == nil {
		ext = r.db
	}

	query := `
		UPDATE provisional_bookings
		SET status = $3,
		    payment_ref = COALESCE($4, payment_ref),
		    provider_order_ref = COALESCE($5, provider_order_ref),
		    refund_ref = COALESCE($6, refund_ref),
		    refund_reason = COALESCE($7, refund_reason),
		    last_error = COALESCE($8, last_error),
		    updated_at = $9
		WHERE id = $1 AND status = $2`

	res, err := ext.ExecContext(ctx, query,
		id, from, to,
		patch.PaymentRef, patch.ProviderOrderRef, patch.RefundRef, patch.RefundReason, patch.LastError,
		r.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to transition booking %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s expected %s", ErrStaleTransition, id, from)
	}
	return nil
}

// Annotate writes patch columns without changing status, guarded on the current status
func (r *ProvisionalBookingRepository) Annotate(ctx context.Context, id uuid.UUID, status models.BookingStatus, patch models.TransitionPatch) error {
	query := `
		UPDATE provisional_bookings
		SET payment_ref = COALESCE($3, payment_ref),
		    provider_order_ref = COALESCE($4, provider_order_ref),
		    refund_ref = COALESCE($5, refund_ref),
		    refund_reason = COALESCE($6, refund_reason),
		    last_error = COALESCE($7, last_error),
		    updated_at = $8
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query,
		id, status,
		patch.PaymentRef, patch.ProviderOrderRef, patch.RefundRef, patch.RefundReason, patch.LastError,
		r.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to annotate booking %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s expected %s", ErrStaleTransition, id, status)
	}
	return nil
}

// ============================================================================
// TRANSACTION SUPPORT
// ============================================================================

// DB returns the underlying database connection
func (r *ProvisionalBookingRepository) DB() *sqlx.DB {
	return r.db
}
