package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// PROVISIONAL BOOKING STATUS (matches CHECK constraint on provisional_bookings)
// ============================================================================

// BookingStatus is the saga stage of a provisional booking
type BookingStatus string

const (
	StatusPendingPayment     BookingStatus = "pending_payment"     // Stored, checkout session open
	StatusProcessingProvider BookingStatus = "processing_provider" // Paid, committing with inventory provider
	StatusConfirmed          BookingStatus = "confirmed"           // Provider order issued
	StatusCancelled          BookingStatus = "cancelled"           // Payment failed/cancelled or nothing captured
	StatusRefunded           BookingStatus = "refunded"            // Provider commit failed, payment refunded
)

// allowedTransitions is the complete saga state machine; nothing targets pending_payment
var allowedTransitions = map[BookingStatus][]BookingStatus{
	StatusPendingPayment:     {StatusProcessingProvider, StatusCancelled},
	StatusProcessingProvider: {StatusConfirmed, StatusRefunded, StatusCancelled},
}

// IsTerminal reports whether no further transition can leave s
func (s BookingStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusRefunded
}

// IsClosed reports whether the attempt ended without an order, so its key cannot be reused
func (s BookingStatus) IsClosed() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// CanTransition reports whether from -> to is an edge of the state machine
func CanTransition(from, to BookingStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ============================================================================
// PROVISIONAL BOOKING
// ============================================================================

// ProvisionalBooking is the durable record of one purchase attempt
type ProvisionalBooking struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	IdempotencyKey string        `json:"idempotency_key" db:"idempotency_key"`
	UserID         *uuid.UUID    `json:"user_id,omitempty" db:"user_id"`
	ProductType    ProductType   `json:"product_type" db:"product_type"`
	OfferRef       string        `json:"offer_ref" db:"offer_ref"`
	AmountMinor    int64         `json:"amount_minor" db:"amount_minor"`
	Currency       string        `json:"currency" db:"currency"`
	Status         BookingStatus `json:"status" db:"status"`
	HoldExpiry     time.Time     `json:"hold_expiry" db:"hold_expiry"`

	// Buyer
	BuyerName  string  `json:"buyer_name" db:"buyer_name"`
	BuyerEmail string  `json:"buyer_email" db:"buyer_email"`
	BuyerPhone *string `json:"buyer_phone,omitempty" db:"buyer_phone"`
	AgentRef   *string `json:"agent_ref,omitempty" db:"agent_ref"`

	// Payment side
	PaymentProvider    *string `json:"payment_provider,omitempty" db:"payment_provider"`
	CheckoutSessionRef *string `json:"checkout_session_ref,omitempty" db:"checkout_session_ref"`
	CheckoutURL        *string `json:"checkout_url,omitempty" db:"checkout_url"`
	PaymentRef         *string `json:"payment_ref,omitempty" db:"payment_ref"`

	// Provider side
	ProviderOrderRef *string `json:"provider_order_ref,omitempty" db:"provider_order_ref"`
	RefundRef        *string `json:"refund_ref,omitempty" db:"refund_ref"`
	RefundReason     *string `json:"refund_reason,omitempty" db:"refund_reason"`
	LastError        *string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Price returns the charged amount
func (b *ProvisionalBooking) Price() Money {
	return Money{AmountMinor: b.AmountMinor, Currency: b.Currency}
}

// IsHoldExpired reports whether the hold window closed at now
func (b *ProvisionalBooking) IsHoldExpired(now time.Time) bool {
	return !now.Before(b.HoldExpiry)
}

// HasCheckoutSession reports whether a payment session is bound to the booking
func (b *ProvisionalBooking) HasCheckoutSession() bool {
	return b.CheckoutSessionRef != nil && *b.CheckoutSessionRef != ""
}

// HasCapturedPayment reports whether the payment provider gave us a capture to refund
func (b *ProvisionalBooking) HasCapturedPayment() bool {
	return b.PaymentRef != nil && *b.PaymentRef != ""
}

// PaymentVerified is true once a payment-succeeded webhook moved the booking forward
func (b *ProvisionalBooking) PaymentVerified() bool {
	switch b.Status {
	case StatusProcessingProvider, StatusConfirmed, StatusRefunded:
		return true
	}
	return false
}

// ProviderBooked is true once the inventory provider issued the order
func (b *ProvisionalBooking) ProviderBooked() bool {
	return b.Status == StatusConfirmed && b.ProviderOrderRef != nil
}

// TransitionPatch carries the columns written alongside a status change
type TransitionPatch struct {
	PaymentRef       *string
	ProviderOrderRef *string
	RefundRef        *string
	RefundReason     *string
	LastError        *string
}

// ============================================================================
// STATUS PROJECTION (read model for the poller)
// ============================================================================

// Stage names shown to the client while polling
const (
	StageAwaitingPayment        = "awaiting_payment"
	StageConfirmingWithProvider = "confirming_with_provider"
	StageConfirmed              = "confirmed"
	StagePaymentFailed          = "payment_failed"
	StageRefunded               = "refunded"
)

// BookingStatusView is the client-visible projection of a booking
type BookingStatusView struct {
	BookingID        uuid.UUID     `json:"booking_id"`
	BookingStatus    BookingStatus `json:"booking_status"`
	Stage            string        `json:"stage"`
	Terminal         bool          `json:"terminal"`
	PaymentVerified  bool          `json:"payment_verified"`
	ProviderBooked   bool          `json:"provider_booked"`
	ProviderOrderRef *string       `json:"provider_order_ref,omitempty"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	RefundReason     *string       `json:"refund_reason,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewBookingStatusView projects a booking without touching it
func NewBookingStatusView(b *ProvisionalBooking) *BookingStatusView {
	view := &BookingStatusView{
		BookingID:        b.ID,
		BookingStatus:    b.Status,
		Terminal:         b.Status.IsTerminal(),
		PaymentVerified:  b.PaymentVerified(),
		ProviderBooked:   b.ProviderBooked(),
		ProviderOrderRef: b.ProviderOrderRef,
		Amount:           b.AmountMinor,
		Currency:         b.Currency,
		RefundReason:     b.RefundReason,
		UpdatedAt:        b.UpdatedAt,
	}

	switch b.Status {
	case StatusPendingPayment:
		view.Stage = StageAwaitingPayment
	case StatusProcessingProvider:
		view.Stage = StageConfirmingWithProvider
	case StatusConfirmed:
		view.Stage = StageConfirmed
	case StatusRefunded:
		view.Stage = StageRefunded
	default:
		view.Stage = StagePaymentFailed
	}
	return view
}
