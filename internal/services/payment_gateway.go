package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/models"
)

// PaymentGateway is a hosted-checkout payment provider
type PaymentGateway interface {
	// Name identifies the provider in webhook routes and dedup rows
	Name() string

	// CreateSession opens a checkout page for exactly the booking's amount
	CreateSession(ctx context.Context, booking *models.ProvisionalBooking, expiresAt time.Time) (*models.CheckoutSession, error)

	// ExpireSession closes an unpaid session. It returns false when the session was
	// already paid and must not be cancelled.
	ExpireSession(ctx context.Context, sessionRef string) (bool, error)

	// Refund returns amount of a captured payment and returns the provider refund ref
	Refund(ctx context.Context, req RefundRequest) (string, error)

	// ParseWebhook verifies the signature and normalizes the event
	ParseWebhook(body []byte, headers http.Header) (*models.PaymentEvent, error)
}

// NewPaymentGateway returns the gateway named by cfg.Provider
func NewPaymentGateway(cfg *config.PaymentConfig, logger *logrus.Logger) (PaymentGateway, error) {
	switch cfg.Provider {
	case "stripe":
		return NewStripeGateway(cfg, logger), nil
	case "hosted":
		return NewHostedCheckoutGateway(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// RefundRequest describes one compensating refund
type RefundRequest struct {
	PaymentRef     string
	Amount         models.Money
	Reason         string
	IdempotencyKey string
}

// formatMinor renders minor units as a two-decimal string ("19900" -> "199.00")
func formatMinor(amountMinor int64) string {
	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}
	return fmt.Sprintf("%s%d.%02d", sign, amountMinor/100, amountMinor%100)
}
