package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/internal/utils"
)

// Audit actions recorded for buyers and operators
const (
	AuditActionAttemptIssued      = "attempt_issued"
	AuditActionOfferValidated     = "offer_validated"
	AuditActionPriceChanged       = "price_changed"
	AuditActionPriceAccepted      = "price_change_accepted"
	AuditActionPriceRejected      = "price_change_rejected"
	AuditActionBookingCreated     = "booking_created"
	AuditActionOperatorLogin      = "operator_login"
	AuditActionOperatorLoginFail  = "operator_login_failed"
	AuditActionReconcileTriggered = "reconcile_triggered"
)

// AuditService handles audit logging for buyer and operator actions
type AuditService struct {
	db sqlx.ExtContext
}

// NewAuditService creates a new audit service
func NewAuditService(db sqlx.ExtContext) *AuditService {
	return &AuditService{db: db}
}

// AuditEvent represents an action to be logged
type AuditEvent struct {
	UserID     *uuid.UUID // nil for anonymous buyers
	Action     string
	EntityType string // "attempt", "booking", "operator"
	EntityID   *uuid.UUID
	IPAddress  string
	UserAgent  string
	Details    map[string]interface{}
}

// RequestMeta identifies who made a request
type RequestMeta struct {
	UserID    *uuid.UUID
	IPAddress string
	UserAgent string
}

// LogAttempt records a step of a purchase attempt, keyed by its idempotency key
func (s *AuditService) LogAttempt(ctx context.Context, meta RequestMeta, action, idempotencyKey string, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["idempotency_key"] = idempotencyKey

	return s.Log(ctx, meta, AuditEvent{
		Action:     action,
		EntityType: "attempt",
		Details:    details,
	})
}

// LogBookingCreated records a stored provisional booking
func (s *AuditService) LogBookingCreated(ctx context.Context, meta RequestMeta, resp *models.CreateProvisionalBookingResponse, idempotencyKey string) error {
	id := resp.BookingID
	return s.Log(ctx, meta, AuditEvent{
		Action:     AuditActionBookingCreated,
		EntityType: "booking",
		EntityID:   &id,
		Details: map[string]interface{}{
			"idempotency_key": idempotencyKey,
			"existing":        resp.Existing,
			"status":          resp.Status,
		},
	})
}

// LogOperatorLogin records an operator sign-in attempt
func (s *AuditService) LogOperatorLogin(ctx context.Context, meta RequestMeta, email string, operatorID *uuid.UUID, success bool, reason string) error {
	action := AuditActionOperatorLogin
	details := map[string]interface{}{"email": email}
	if !success {
		action = AuditActionOperatorLoginFail
		details["reason"] = reason
	}
	meta.UserID = operatorID
	return s.Log(ctx, meta, AuditEvent{
		Action:     action,
		EntityType: "operator",
		EntityID:   operatorID,
		Details:    details,
	})
}

// Log writes one event to the audit_logs table, adding device info from the user agent
func (s *AuditService) Log(ctx context.Context, meta RequestMeta, event AuditEvent) error {
	if event.UserID == nil {
		event.UserID = meta.UserID
	}
	if event.IPAddress == "" {
		event.IPAddress = meta.IPAddress
	}
	if event.UserAgent == "" {
		event.UserAgent = meta.UserAgent
	}
	details := models.JSONB(event.Details)
	if details == nil {
		details = models.JSONB{}
	}
	details["device_info"] = utils.ParseUserAgent(event.UserAgent)

	query := `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := s.db.ExecContext(ctx, query,
		event.UserID,
		event.Action,
		event.EntityType,
		event.EntityID,
		event.IPAddress,
		event.UserAgent,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit event: %w", err)
	}
	return nil
}

// AuditLogEntry is one row of audit_logs
type AuditLogEntry struct {
	Action     string       `json:"action" db:"action"`
	EntityType string       `json:"entity_type" db:"entity_type"`
	IPAddress  string       `json:"ip_address" db:"ip_address"`
	UserAgent  string       `json:"user_agent" db:"user_agent"`
	Details    models.JSONB `json:"details" db:"details"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// GetEntityEvents retrieves the most recent events about one booking or operator
func (s *AuditService) GetEntityEvents(ctx context.Context, entityID uuid.UUID, limit int) ([]AuditLogEntry, error) {
	query := `
		SELECT action, entity_type, ip_address, user_agent, details, created_at
		FROM audit_logs
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	events := []AuditLogEntry{}
	if err := sqlx.SelectContext(ctx, s.db, &events, query, entityID, limit); err != nil {
		return nil, fmt.Errorf("failed to get audit events: %w", err)
	}
	return events, nil
}
