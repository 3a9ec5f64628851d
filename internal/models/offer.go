package models

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// PRODUCT & MONEY
// ============================================================================

// ProductType is the kind of travel product being purchased
type ProductType string

const (
	ProductFlight ProductType = "flight"
	ProductHotel  ProductType = "hotel"
	ProductCar    ProductType = "car"
)

// IsValid reports whether p is a supported product type
func (p ProductType) IsValid() bool {
	switch p {
	case ProductFlight, ProductHotel, ProductCar:
		return true
	}
	return false
}

// Money is an amount in integer minor units (cents) with an ISO 4217 currency
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// NewMoney builds a Money value with the currency normalized to upper case
func NewMoney(amountMinor int64, currency string) Money {
	return Money{AmountMinor: amountMinor, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// Equal is an exact comparison: any difference in amount or currency is a mismatch
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor &&
		strings.EqualFold(m.Currency, other.Currency)
}

// String formats two-decimal currencies for logs and buyer messages
func (m Money) String() string {
	sign := ""
	amount := m.AmountMinor
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, m.Currency)
}

// ============================================================================
// ATTEMPT & OFFERS
// ============================================================================

// SelectedOffer is the offer the buyer picked, at the price they last saw
type SelectedOffer struct {
	OfferRef string `json:"offer_ref"`
	Price    Money  `json:"price"`
}

// BuyerContact is how the buyer is reached outside the checkout flow
type BuyerContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// ValidatedOffer is a provider-confirmed price honored until ExpiresAt
type ValidatedOffer struct {
	OfferRef    string      `json:"offer_ref"`
	ProductType ProductType `json:"product_type"`
	Price       Money       `json:"price"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// IsExpired reports whether the hold window has closed at now
func (v ValidatedOffer) IsExpired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// SameTerms compares what the buyer is charged for, ignoring expiry formatting
func (v ValidatedOffer) SameTerms(other ValidatedOffer) bool {
	return v.OfferRef == other.OfferRef &&
		v.ProductType == other.ProductType &&
		v.Price.Equal(other.Price)
}

// Quote is the inventory provider's answer to a revalidation
type Quote struct {
	OfferRef  string
	Price     Money
	ExpiresAt time.Time
}

// OrderCommitment is the inventory provider's answer to an order commit
type OrderCommitment struct {
	OrderRef string
}
