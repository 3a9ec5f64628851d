package services

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/models"
)

// HostedEnvironmentURLs maps environment names to IPG endpoint URLs
var HostedEnvironmentURLs = map[string]string{
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// HostedCheckoutGateway integrates a redirect-style IPG that authenticates with SHA-512 check values
type HostedCheckoutGateway struct {
	config      *config.PaymentConfig
	logger      *logrus.Logger
	client      *http.Client
	endpointURL string
}

// hostedPaymentRequest is the body sent to open a payment page.
// The merchant token is never sent; it only feeds the check value.
type hostedPaymentRequest struct {
	MerchantKey      string `json:"merchantKey"`
	ReturnURL        string `json:"returnUrl"`
	CancelURL        string `json:"cancelUrl,omitempty"`
	WebhookURL       string `json:"webhookUrl,omitempty"`
	PaymentType      int    `json:"paymentType"`
	InvoiceID        string `json:"invoiceId"`
	Amount           string `json:"amount"`
	CurrencyCode     string `json:"currencyCode"`
	OrderDescription string `json:"orderDescription,omitempty"`
	ExpiresAt        int64  `json:"expiresAt,omitempty"`

	CustomerFirstName   string `json:"customerFirstName"`
	CustomerLastName    string `json:"customerLastName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerMobilePhone string `json:"customerMobilePhone,omitempty"`

	CheckValue         string `json:"checkValue"`
	IntegrationType    string `json:"integrationType"`
	IntegrationVersion string `json:"integrationVersion"`
}

type hostedPaymentResponse struct {
	Status          string `json:"status"`
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
	PaymentPage     string `json:"paymentPage"`
	Message         string `json:"message,omitempty"`
}

type hostedStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"` // pending, success, failed, cancelled, expired
	Amount        string `json:"amount"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

type hostedRefundRequest struct {
	MerchantKey   string `json:"merchantKey"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	Reason        string `json:"reason"`
	RequestID     string `json:"requestId"`
	CheckValue    string `json:"checkValue"`
}

type hostedRefundResponse struct {
	Status   string `json:"status"`
	RefundID string `json:"refundId"`
	Message  string `json:"message,omitempty"`
}

// hostedWebhookPayload is the notification the IPG posts to the webhook URL
type hostedWebhookPayload struct {
	UID           string `json:"uid"`
	InvoiceID     string `json:"invoiceId"`
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode"`
	PaymentStatus string `json:"paymentStatus"` // SUCCESS, FAILED, CANCELLED, EXPIRED
	TransactionID string `json:"transactionId,omitempty"`
	CheckValue    string `json:"checkValue"`
}

// NewHostedCheckoutGateway creates a hosted IPG gateway
func NewHostedCheckoutGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *HostedCheckoutGateway {
	endpointURL, ok := HostedEnvironmentURLs[cfg.HostedEnvironment]
	if !ok {
		endpointURL = HostedEnvironmentURLs["sandbox"]
	}
	return &HostedCheckoutGateway{
		config:      cfg,
		logger:      logger,
		client:      &http.Client{Timeout: 30 * time.Second},
		endpointURL: endpointURL,
	}
}

// WithEndpoint points the gateway at a different base URL
func (g *HostedCheckoutGateway) WithEndpoint(endpointURL string) *HostedCheckoutGateway {
	g.endpointURL = endpointURL
	return g
}

// Name returns "hosted"
func (g *HostedCheckoutGateway) Name() string { return "hosted" }

// GenerateCheckValue creates the SHA-512 check value:
// hash1 = SHA512(merchantToken), value = SHA512("merchantKey|field...|hash1"), both uppercase hex
func (g *HostedCheckoutGateway) GenerateCheckValue(fields ...string) string {
	hash1 := sha512.Sum512([]byte(g.config.HostedMerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	parts := append([]string{g.config.HostedMerchantKey}, fields...)
	parts = append(parts, hash1Hex)
	hash2 := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// CreateSession opens a payment page for the booking, using the booking ID as invoice ID
func (g *HostedCheckoutGateway) CreateSession(ctx context.Context, b *models.ProvisionalBooking, expiresAt time.Time) (*models.CheckoutSession, error) {
	if g.config.HostedMerchantKey == "" || g.config.HostedMerchantToken == "" {
		return nil, fmt.Errorf("%w: missing merchant credentials", apperr.ErrPaymentGateway)
	}

	invoiceID := b.ID.String()
	amount := formatMinor(b.AmountMinor)
	firstName, lastName := splitName(b.BuyerName)

	req := &hostedPaymentRequest{
		MerchantKey:        g.config.HostedMerchantKey,
		ReturnURL:          withBookingParam(g.config.SuccessURL, invoiceID),
		CancelURL:          withBookingParam(g.config.CancelURL, invoiceID),
		WebhookURL:         g.config.HostedWebhookURL,
		PaymentType:        1,
		InvoiceID:          invoiceID,
		Amount:             amount,
		CurrencyCode:       b.Currency,
		OrderDescription:   fmt.Sprintf("%s booking %s", b.ProductType, b.OfferRef),
		ExpiresAt:          expiresAt.Unix(),
		CustomerFirstName:  firstName,
		CustomerLastName:   lastName,
		CustomerEmail:      b.BuyerEmail,
		CheckValue:         g.GenerateCheckValue(invoiceID, amount, b.Currency),
		IntegrationType:    "BookingSaga",
		IntegrationVersion: "1.0.0",
	}
	if b.BuyerPhone != nil {
		req.CustomerMobilePhone = *b.BuyerPhone
	}

	g.logger.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"amount":     amount,
		"currency":   b.Currency,
	}).Info("Initiating hosted checkout payment")

	var resp hostedPaymentResponse
	if err := g.post(ctx, g.endpointURL, req, &resp); err != nil {
		return nil, err
	}

	// The IPG answers PENDING when the page is ready, success on some versions
	if resp.Status != "success" && resp.Status != "PENDING" {
		msg := resp.Message
		if msg == "" {
			msg = "status=" + resp.Status
		}
		return nil, fmt.Errorf("%w: payment initiation failed: %s", apperr.ErrPaymentGateway, msg)
	}
	if resp.PaymentPage == "" || resp.UID == "" {
		return nil, fmt.Errorf("%w: no payment page returned", apperr.ErrPaymentGateway)
	}

	return &models.CheckoutSession{SessionRef: resp.UID, URL: resp.PaymentPage}, nil
}

// ExpireSession checks the page status; the IPG lets unpaid pages lapse on its own.
// Only a page the IPG reports as failed, cancelled or expired counts as closed.
func (g *HostedCheckoutGateway) ExpireSession(ctx context.Context, sessionRef string) (bool, error) {
	statusURL := strings.Replace(g.endpointURL, "/ipg/", "/check-status/", 1)

	var resp hostedStatusResponse
	if err := g.post(ctx, statusURL, map[string]string{"uid": sessionRef}, &resp); err != nil {
		return false, err
	}

	switch strings.ToLower(resp.PaymentStatus) {
	case "failed", "cancelled", "expired":
		return true, nil
	default:
		g.logger.WithFields(logrus.Fields{
			"session_ref":    sessionRef,
			"payment_status": resp.PaymentStatus,
		}).Debug("Hosted payment page still open")
		return false, nil
	}
}

// Refund returns a captured transaction
func (g *HostedCheckoutGateway) Refund(ctx context.Context, r RefundRequest) (string, error) {
	refundURL := strings.Replace(g.endpointURL, "/ipg/", "/refund/", 1)
	amount := formatMinor(r.Amount.AmountMinor)

	req := &hostedRefundRequest{
		MerchantKey:   g.config.HostedMerchantKey,
		TransactionID: r.PaymentRef,
		Amount:        amount,
		CurrencyCode:  r.Amount.Currency,
		Reason:        r.Reason,
		RequestID:     r.IdempotencyKey,
		CheckValue:    g.GenerateCheckValue(r.PaymentRef, amount, r.Amount.Currency),
	}

	var resp hostedRefundResponse
	if err := g.post(ctx, refundURL, req, &resp); err != nil {
		return "", err
	}
	if !strings.EqualFold(resp.Status, "success") || resp.RefundID == "" {
		return "", fmt.Errorf("%w: refund rejected: %s", apperr.ErrPaymentGateway, resp.Message)
	}
	return resp.RefundID, nil
}

// ParseWebhook verifies the payload check value and normalizes the status
func (g *HostedCheckoutGateway) ParseWebhook(body []byte, _ http.Header) (*models.PaymentEvent, error) {
	var payload hostedWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Invalid("body", "invalid webhook payload")
	}
	if payload.UID == "" || payload.InvoiceID == "" {
		return nil, apperr.Invalid("body", "webhook missing required fields")
	}

	status := strings.ToUpper(payload.PaymentStatus)
	expected := g.GenerateCheckValue(payload.UID, payload.InvoiceID, payload.Amount, payload.CurrencyCode, status)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(payload.CheckValue))) != 1 {
		return nil, apperr.ErrInvalidSignature
	}

	evt := &models.PaymentEvent{
		EventID:    payload.UID + ":" + status,
		Provider:   g.Name(),
		RawType:    status,
		SessionRef: payload.UID,
		PaymentRef: payload.TransactionID,
		Payload:    body,
	}
	switch status {
	case "SUCCESS":
		evt.Kind = models.PaymentEventSucceeded
	case "FAILED":
		evt.Kind = models.PaymentEventFailed
	case "CANCELLED":
		evt.Kind = models.PaymentEventCancelled
	case "EXPIRED":
		evt.Kind = models.PaymentEventExpired
	default:
		evt.Kind = models.PaymentEventIgnored
	}

	if minor, err := parseMinor(payload.Amount); err == nil {
		amount := models.NewMoney(minor, payload.CurrencyCode)
		evt.Amount = &amount
	}
	return evt, nil
}

func (g *HostedCheckoutGateway) post(ctx context.Context, url string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("url", url).Error("Failed to call hosted IPG endpoint")
		return fmt.Errorf("%w: %v", apperr.ErrPaymentGateway, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"url":         url,
	}).Debug("Hosted IPG response received")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", apperr.ErrPaymentGateway, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", apperr.ErrPaymentGateway, err)
	}
	return nil
}

// parseMinor parses "199.00" into 19900 without floating point
func parseMinor(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", amount)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if w < 0 {
		return w*100 - f, nil
	}
	return w*100 + f, nil
}

// splitName splits a full name into first and last name
func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "Customer", "."
	}
	if len(parts) == 1 {
		return parts[0], "."
	}
	return parts[0], strings.Join(parts[1:], " ")
}
