package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

// WebhookEventRepository records which gateway deliveries were already applied
type WebhookEventRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewWebhookEventRepository creates a new WebhookEventRepository
func NewWebhookEventRepository(db *sqlx.DB, clk clock.Clock) *WebhookEventRepository {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &WebhookEventRepository{db: db, clock: clk}
}

// Claim inserts the (event_id, provider) row if missing and locks it for the rest of tx.
// It returns false when the delivery was already processed. A concurrent duplicate
// blocks on the unique index until the first transaction finishes.
func (r *WebhookEventRepository) Claim(ctx context.Context, tx *sqlx.Tx, evt *models.PaymentEvent) (bool, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event_id, provider, event_type, processed, received_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (event_id, provider) DO NOTHING`,
		uuid.New(), evt.EventID, evt.Provider, evt.RawType, r.clock.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}

	var processed bool
	err = tx.GetContext(ctx, &processed, `
		SELECT processed FROM webhook_events
		WHERE event_id = $1 AND provider = $2
		FOR UPDATE`,
		evt.EventID, evt.Provider,
	)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("webhook event %s/%s missing after insert", evt.Provider, evt.EventID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock webhook event: %w", err)
	}
	return !processed, nil
}

// MarkProcessed flags the delivery as applied inside the same tx as its effects
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, tx *sqlx.Tx, evt *models.PaymentEvent, bookingID *uuid.UUID, processingErr *string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed = TRUE, booking_id = $3, processing_error = $4, processed_at = $5
		WHERE event_id = $1 AND provider = $2`,
		evt.EventID, evt.Provider, bookingID, processingErr, r.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// GetByEventID retrieves a delivery record; nil when absent
func (r *WebhookEventRepository) GetByEventID(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error) {
	var evt models.WebhookEvent
	err := r.db.GetContext(ctx, &evt, `
		SELECT id, event_id, provider, event_type, booking_id, processed,
		       processing_error, received_at, processed_at
		FROM webhook_events
		WHERE event_id = $1 AND provider = $2`,
		eventID, provider,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &evt, nil
}
