package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentAuditEventType represents the type of payment-side saga event
type PaymentAuditEventType string

const (
	AuditSessionOpened       PaymentAuditEventType = "session_opened"
	AuditSessionOpenFailed   PaymentAuditEventType = "session_open_failed"
	AuditSessionExpired      PaymentAuditEventType = "session_expired"
	AuditWebhookReceived     PaymentAuditEventType = "webhook_received"
	AuditWebhookReplay       PaymentAuditEventType = "webhook_replay"
	AuditPaymentSucceeded    PaymentAuditEventType = "payment_succeeded"
	AuditPaymentFailed       PaymentAuditEventType = "payment_failed"
	AuditOrderCommitted      PaymentAuditEventType = "order_committed"
	AuditOrderCommitFailed   PaymentAuditEventType = "order_commit_failed"
	AuditRefundIssued        PaymentAuditEventType = "refund_issued"
	AuditRefundFailed        PaymentAuditEventType = "refund_failed"
	AuditAmountMismatch      PaymentAuditEventType = "amount_mismatch"
	AuditReconciliationRetry PaymentAuditEventType = "reconciliation_retry"
)

// PaymentAuditSource identifies where the event originated
type PaymentAuditSource string

const (
	AuditSourceBackend    PaymentAuditSource = "backend"
	AuditSourceWebhook    PaymentAuditSource = "webhook"
	AuditSourceGateway    PaymentAuditSource = "gateway_api"
	AuditSourceInventory  PaymentAuditSource = "inventory_api"
	AuditSourceReconciler PaymentAuditSource = "reconciler"
)

// JSONB is a map stored in a JSONB column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return fmt.Errorf("unsupported JSONB source type %T", value)
}

// PaymentAudit is an immutable audit entry for a payment-side saga event
type PaymentAudit struct {
	ID         uuid.UUID             `json:"id" db:"id"`
	BookingID  *uuid.UUID            `json:"booking_id,omitempty" db:"booking_id"`
	Provider   *string               `json:"provider,omitempty" db:"provider"`
	SessionRef *string               `json:"session_ref,omitempty" db:"session_ref"`
	PaymentRef *string               `json:"payment_ref,omitempty" db:"payment_ref"`
	EventID    *string               `json:"event_id,omitempty" db:"event_id"`
	EventType  PaymentAuditEventType `json:"event_type" db:"event_type"`
	Source     PaymentAuditSource    `json:"source" db:"source"`

	// Amount tracking
	ExpectedAmountMinor *int64  `json:"expected_amount_minor,omitempty" db:"expected_amount_minor"`
	ReceivedAmountMinor *int64  `json:"received_amount_minor,omitempty" db:"received_amount_minor"`
	Currency            *string `json:"currency,omitempty" db:"currency"`
	AmountsMatch        *bool   `json:"amounts_match,omitempty" db:"amounts_match"`

	Details      JSONB   `json:"details,omitempty" db:"details"`
	RawBody      *string `json:"raw_body,omitempty" db:"raw_body"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentAuditEventType, source PaymentAuditSource) *PaymentAudit {
	return &PaymentAudit{
		ID:        uuid.New(),
		EventType: eventType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// ForBooking links the entry to a booking and copies its payment references
func (pa *PaymentAudit) ForBooking(b *ProvisionalBooking) *PaymentAudit {
	if b == nil {
		return pa
	}
	id := b.ID
	pa.BookingID = &id
	pa.Provider = b.PaymentProvider
	pa.SessionRef = b.CheckoutSessionRef
	pa.PaymentRef = b.PaymentRef
	return pa
}

// ForEvent copies the webhook identifiers
func (pa *PaymentAudit) ForEvent(evt *PaymentEvent) *PaymentAudit {
	if evt == nil {
		return pa
	}
	eventID, provider := evt.EventID, evt.Provider
	pa.EventID = &eventID
	pa.Provider = &provider
	if evt.SessionRef != "" {
		ref := evt.SessionRef
		pa.SessionRef = &ref
	}
	if evt.PaymentRef != "" {
		ref := evt.PaymentRef
		pa.PaymentRef = &ref
	}
	return pa
}

// SetAmounts records both sides of a charge and whether they are exactly equal
func (pa *PaymentAudit) SetAmounts(expected, received Money) bool {
	pa.ExpectedAmountMinor = &expected.AmountMinor
	pa.ReceivedAmountMinor = &received.AmountMinor
	currency := expected.Currency
	pa.Currency = &currency

	match := expected.Equal(received)
	pa.AmountsMatch = &match
	return match
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err == nil {
		return pa
	}
	msg := err.Error()
	pa.ErrorMessage = &msg
	return pa
}

// SetRawBody stores the raw webhook body
func (pa *PaymentAudit) SetRawBody(body []byte) *PaymentAudit {
	if len(body) == 0 {
		return pa
	}
	s := string(body)
	pa.RawBody = &s
	return pa
}

// SetDetail adds a key to the details document
func (pa *PaymentAudit) SetDetail(key string, value interface{}) *PaymentAudit {
	if pa.Details == nil {
		pa.Details = JSONB{}
	}
	pa.Details[key] = value
	return pa
}
