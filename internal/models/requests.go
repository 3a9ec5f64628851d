package models

import (
	"github.com/google/uuid"
)

// ============================================================================
// REQUEST/RESPONSE DTOs
// ============================================================================

// IssueAttemptResponse carries a freshly minted idempotency key
type IssueAttemptResponse struct {
	IdempotencyKey      string `json:"idempotency_key"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	PollMaxAttempts     int    `json:"poll_max_attempts"`
}

// ValidatePrebookingRequest asks the validator to reconfirm an offer
type ValidatePrebookingRequest struct {
	IdempotencyKey string        `json:"idempotency_key" binding:"required"`
	ProductType    ProductType   `json:"product_type" binding:"required"`
	Offer          SelectedOffer `json:"offer"`
}

// ValidatePrebookingResponse is one of: validated offer, price changed, existing booking
type ValidatePrebookingResponse struct {
	OK              bool            `json:"ok"`
	Code            string          `json:"code,omitempty"`
	ValidatedOffer  *ValidatedOffer `json:"validated_offer,omitempty"`
	OldPrice        *Money          `json:"old_price,omitempty"`
	NewPrice        *Money          `json:"new_price,omitempty"`
	ExistingBooking bool            `json:"existing_booking,omitempty"`
	BookingID       *uuid.UUID      `json:"booking_id,omitempty"`
	BookingStatus   BookingStatus   `json:"booking_status,omitempty"`
}

// PriceChangeDecisionRequest identifies the suspended attempt
type PriceChangeDecisionRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// PriceChangeAcceptResponse carries the new attempt created by Resume
type PriceChangeAcceptResponse struct {
	OK             bool           `json:"ok"`
	IdempotencyKey string         `json:"idempotency_key"`
	ValidatedOffer ValidatedOffer `json:"validated_offer"`
}

// CreateProvisionalBookingRequest persists a validated attempt
type CreateProvisionalBookingRequest struct {
	IdempotencyKey string         `json:"idempotency_key" binding:"required"`
	ProductType    ProductType    `json:"product_type" binding:"required"`
	ValidatedOffer ValidatedOffer `json:"validated_offer"`
	Contact        BuyerContact   `json:"contact"`
	AgentRef       *string        `json:"agent_ref,omitempty"`
	UserID         *uuid.UUID     `json:"-"`
}

// CreateProvisionalBookingResponse is returned to the client after booking creation
type CreateProvisionalBookingResponse struct {
	OK          bool          `json:"ok"`
	BookingID   uuid.UUID     `json:"booking_id"`
	CheckoutURL string        `json:"checkout_url,omitempty"`
	Status      BookingStatus `json:"status"`
	Existing    bool          `json:"existing,omitempty"`
}

// CheckoutSession is a hosted payment page bound to a booking
type CheckoutSession struct {
	SessionRef string `json:"session_ref"`
	URL        string `json:"url"`
}

// VerifyQuery selects a booking by checkout session or by id
type VerifyQuery struct {
	SessionID string
	BookingID *uuid.UUID
}
