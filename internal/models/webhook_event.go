package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventKind is the saga meaning of a gateway event, independent of provider naming
type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "payment_succeeded"
	PaymentEventFailed    PaymentEventKind = "payment_failed"
	PaymentEventCancelled PaymentEventKind = "payment_cancelled"
	PaymentEventExpired   PaymentEventKind = "session_expired"
	PaymentEventIgnored   PaymentEventKind = "ignored"
)

// IsFailure reports whether the event ends a pending payment without a charge
func (k PaymentEventKind) IsFailure() bool {
	return k == PaymentEventFailed || k == PaymentEventCancelled || k == PaymentEventExpired
}

// PaymentEvent is a signature-verified gateway webhook, normalized
type PaymentEvent struct {
	EventID    string
	Provider   string
	Kind       PaymentEventKind
	RawType    string
	SessionRef string
	PaymentRef string
	Amount     *Money
	Payload    []byte
}

// WebhookEvent is the dedup record for one (event_id, provider) delivery
type WebhookEvent struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	EventID         string     `json:"event_id" db:"event_id"`
	Provider        string     `json:"provider" db:"provider"`
	EventType       string     `json:"event_type" db:"event_type"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	Processed       bool       `json:"processed" db:"processed"`
	ProcessingError *string    `json:"processing_error,omitempty" db:"processing_error"`
	ReceivedAt      time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// WebhookOutcome describes what an ingested event did
type WebhookOutcome string

const (
	WebhookOutcomeReplay          WebhookOutcome = "replay"
	WebhookOutcomeAdvanced        WebhookOutcome = "advanced"
	WebhookOutcomeCancelled       WebhookOutcome = "cancelled"
	WebhookOutcomeNoop            WebhookOutcome = "noop"
	WebhookOutcomeBookingNotFound WebhookOutcome = "booking_not_found"
)

// IngestResult is returned by the webhook ingestor
type IngestResult struct {
	Outcome   WebhookOutcome `json:"outcome"`
	BookingID *uuid.UUID     `json:"booking_id,omitempty"`
	Status    BookingStatus  `json:"status,omitempty"`
}
