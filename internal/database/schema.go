package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS provisional_bookings (
		id UUID PRIMARY KEY,
		idempotency_key TEXT NOT NULL,
		user_id UUID,
		product_type TEXT NOT NULL,
		offer_ref TEXT NOT NULL,
		amount_minor BIGINT NOT NULL CHECK (amount_minor >= 0),
		currency CHAR(3) NOT NULL,
		status TEXT NOT NULL,
		hold_expiry TIMESTAMPTZ NOT NULL,
		buyer_name TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		buyer_phone TEXT,
		agent_ref TEXT,
		payment_provider TEXT,
		checkout_session_ref TEXT,
		checkout_url TEXT,
		payment_ref TEXT,
		provider_order_ref TEXT,
		refund_ref TEXT,
		refund_reason TEXT,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_provisional_bookings_idempotency_key
		ON provisional_bookings (idempotency_key)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_provisional_bookings_checkout_session
		ON provisional_bookings (checkout_session_ref) WHERE checkout_session_ref IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_provisional_bookings_status_hold
		ON provisional_bookings (status, hold_expiry)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id UUID PRIMARY KEY,
		event_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		booking_id UUID REFERENCES provisional_bookings(id),
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		processing_error TEXT,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		UNIQUE (event_id, provider)
	)`,
	`CREATE TABLE IF NOT EXISTS payment_audits (
		id UUID PRIMARY KEY,
		booking_id UUID,
		provider TEXT,
		session_ref TEXT,
		payment_ref TEXT,
		event_id TEXT,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		expected_amount_minor BIGINT,
		received_amount_minor BIGINT,
		currency CHAR(3),
		amounts_match BOOLEAN,
		details JSONB,
		raw_body TEXT,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_audits_booking
		ON payment_audits (booking_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		user_id UUID,
		action TEXT NOT NULL,
		entity_type TEXT,
		entity_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// InitSchema creates the saga tables if they do not exist
func InitSchema(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}
	return nil
}
