package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe refuses checkout sessions that expire sooner than this, so a Stripe
// session can outlive a shorter hold. The hold sweeper closes it after
// hold_expiry + SAGA_SWEEP_GRACE; a payment landing before then still completes.
const stripeMinSessionLifetime = 31 * time.Minute

// StripeGateway opens Stripe Checkout sessions and verifies Stripe webhooks
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	logger        *logrus.Logger
	now           func() time.Time
}

// NewStripeGateway creates a gateway using the live Stripe backends
func NewStripeGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *StripeGateway {
	return NewStripeGatewayWithBackends(cfg, nil, logger)
}

// NewStripeGatewayWithBackends creates a gateway against custom backends (tests, stripe-mock)
func NewStripeGatewayWithBackends(cfg *config.PaymentConfig, backends *stripe.Backends, logger *logrus.Logger) *StripeGateway {
	return &StripeGateway{
		api:           client.New(cfg.StripeSecretKey, backends),
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		logger:        logger,
		now:           time.Now,
	}
}

// Name returns "stripe"
func (g *StripeGateway) Name() string { return "stripe" }

// CreateSession opens a one-line-item Checkout session for the booking's exact amount
func (g *StripeGateway) CreateSession(ctx context.Context, b *models.ProvisionalBooking, expiresAt time.Time) (*models.CheckoutSession, error) {
	if earliest := g.now().Add(stripeMinSessionLifetime); expiresAt.Before(earliest) {
		expiresAt = earliest
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withBookingParam(g.successURL, b.ID.String())),
		CancelURL:         stripe.String(withBookingParam(g.cancelURL, b.ID.String())),
		ClientReferenceID: stripe.String(b.ID.String()),
		CustomerEmail:     stripe.String(b.BuyerEmail),
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(b.Currency)),
					UnitAmount: stripe.Int64(b.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s booking %s", b.ProductType, b.OfferRef)),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"booking_id": b.ID.String()},
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", b.ID.String())
	params.AddMetadata("idempotency_key", b.IdempotencyKey)
	params.SetIdempotencyKey("checkout-" + b.ID.String())

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.logger.WithError(err).WithField("booking_id", b.ID).Error("Stripe checkout session creation failed")
		return nil, fmt.Errorf("%w: %v", apperr.ErrPaymentGateway, err)
	}

	g.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"session_id": sess.ID,
		"amount":     b.AmountMinor,
		"currency":   b.Currency,
	}).Info("Stripe checkout session created")

	return &models.CheckoutSession{SessionRef: sess.ID, URL: sess.URL}, nil
}

// ExpireSession expires an open session. A paid session is left alone and reported as not closed.
func (g *StripeGateway) ExpireSession(ctx context.Context, sessionRef string) (bool, error) {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	sess, err := g.api.CheckoutSessions.Get(sessionRef, getParams)
	if err != nil {
		return false, fmt.Errorf("%w: %v", apperr.ErrPaymentGateway, err)
	}

	switch sess.Status {
	case stripe.CheckoutSessionStatusExpired:
		return true, nil
	case stripe.CheckoutSessionStatusComplete:
		return sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid, nil
	}

	expireParams := &stripe.CheckoutSessionExpireParams{}
	expireParams.Context = ctx
	if _, err := g.api.CheckoutSessions.Expire(sessionRef, expireParams); err != nil {
		return false, fmt.Errorf("%w: %v", apperr.ErrPaymentGateway, err)
	}
	return true, nil
}

// Refund issues an idempotent refund against the payment intent
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.Amount.AmountMinor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata("saga_reason", req.Reason)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	refund, err := g.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrPaymentGateway, err)
	}
	return refund.ID, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps checkout events
func (g *StripeGateway) ParseWebhook(body []byte, headers http.Header) (*models.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(body, headers.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSignature, err)
	}

	evt := &models.PaymentEvent{
		EventID:  event.ID,
		Provider: g.Name(),
		RawType:  string(event.Type),
		Kind:     models.PaymentEventIgnored,
		Payload:  body,
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		evt.Kind = models.PaymentEventSucceeded
	case "checkout.session.async_payment_failed":
		evt.Kind = models.PaymentEventFailed
	case "checkout.session.expired":
		evt.Kind = models.PaymentEventExpired
	default:
		return evt, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, apperr.Invalid("data.object", "not a checkout session")
	}
	evt.SessionRef = sess.ID
	if sess.PaymentIntent != nil {
		evt.PaymentRef = sess.PaymentIntent.ID
	}
	if sess.AmountTotal > 0 || sess.Currency != "" {
		amount := models.NewMoney(sess.AmountTotal, string(sess.Currency))
		evt.Amount = &amount
	}

	// checkout.session.completed fires for delayed methods before funds arrive
	if evt.Kind == models.PaymentEventSucceeded && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		evt.Kind = models.PaymentEventIgnored
	}
	if evt.SessionRef == "" {
		return nil, errors.New("stripe webhook missing session id")
	}
	return evt, nil
}

func withBookingParam(base, bookingID string) string {
	if base == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "booking_id=" + bookingID + "&session_id={CHECKOUT_SESSION_ID}"
}
