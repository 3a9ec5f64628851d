package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func TestFormatMinorAndParseMinor(t *testing.T) {
	tests := []struct {
		minor int64
		text  string
	}{
		{19900, "199.00"},
		{5, "0.05"},
		{123456, "1234.56"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.text, formatMinor(tt.minor))
			got, err := parseMinor(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.minor, got)
		})
	}

	_, err := parseMinor("1.999")
	assert.Error(t, err)
	got, err := parseMinor("12.5")
	require.NoError(t, err)
	assert.Equal(t, int64(1250), got)
}

// ============================================================================
// STRIPE
// ============================================================================

func setupStripeTest(t *testing.T, handler http.HandlerFunc) (*StripeGateway, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		HTTPClient:        server.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	cfg := &config.PaymentConfig{
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: "whsec_stripe",
		SuccessURL:          "https://shop.example.com/done",
		CancelURL:           "https://shop.example.com/cancel",
	}
	gw := NewStripeGatewayWithBackends(cfg, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}, newTestLogger())
	return gw, server.Close
}

func stripeBooking() *models.ProvisionalBooking {
	return &models.ProvisionalBooking{
		ID:             uuid.New(),
		IdempotencyKey: "attempt-1",
		ProductType:    models.ProductFlight,
		OfferRef:       "off_123",
		AmountMinor:    19900,
		Currency:       "USD",
		BuyerEmail:     "ada@example.com",
	}
}

func TestNewPaymentGateway(t *testing.T) {
	logger := newTestLogger()

	gw, err := NewPaymentGateway(&config.PaymentConfig{Provider: "stripe", StripeSecretKey: "sk_test_x"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "stripe", gw.Name())

	gw, err = NewPaymentGateway(&config.PaymentConfig{Provider: "hosted", HostedEnvironment: "sandbox"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "hosted", gw.Name())

	_, err = NewPaymentGateway(&config.PaymentConfig{Provider: "paypal"}, logger)
	assert.Error(t, err)
}

func TestStripeGateway_CreateSession(t *testing.T) {
	var form map[string][]string
	var idemKey string
	gw, cleanup := setupStripeTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		idemKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	})
	defer cleanup()

	b := stripeBooking()
	now := time.Now()
	gw.now = func() time.Time { return now }

	// a 10 minute hold is lifted to the provider minimum
	session, err := gw.CreateSession(context.Background(), b, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.SessionRef)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)

	assert.Equal(t, "checkout-"+b.ID.String(), idemKey)
	assert.Equal(t, "19900", form["line_items[0][price_data][unit_amount]"][0])
	assert.Equal(t, "usd", form["line_items[0][price_data][currency]"][0])
	assert.Equal(t, b.ID.String(), form["client_reference_id"][0])
	assert.Equal(t, strconv.FormatInt(now.Add(stripeMinSessionLifetime).Unix(), 10), form["expires_at"][0])
	assert.Contains(t, form["success_url"][0], "booking_id="+b.ID.String())
}

func TestStripeGateway_ExpireSession(t *testing.T) {
	tests := []struct {
		name       string
		session    string
		closed     bool
		expireCall bool
	}{
		{"Open session is expired", `{"id":"cs_1","object":"checkout.session","status":"open","payment_status":"unpaid"}`, true, true},
		{"Already expired", `{"id":"cs_1","object":"checkout.session","status":"expired","payment_status":"unpaid"}`, true, false},
		{"Paid session stays", `{"id":"cs_1","object":"checkout.session","status":"complete","payment_status":"paid"}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expireCalled := false
			gw, cleanup := setupStripeTest(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/expire") {
					expireCalled = true
					_, _ = io.WriteString(w, `{"id":"cs_1","object":"checkout.session","status":"expired"}`)
					return
				}
				_, _ = io.WriteString(w, tt.session)
			})
			defer cleanup()

			closed, err := gw.ExpireSession(context.Background(), "cs_1")
			require.NoError(t, err)
			assert.Equal(t, tt.closed, closed)
			assert.Equal(t, tt.expireCall, expireCalled)
		})
	}
}

func TestStripeGateway_Refund(t *testing.T) {
	var idemKey string
	gw, cleanup := setupStripeTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "19900", r.PostForm.Get("amount"))
		idemKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"re_1","object":"refund","status":"succeeded"}`)
	})
	defer cleanup()

	ref, err := gw.Refund(context.Background(), RefundRequest{
		PaymentRef:     "pi_123",
		Amount:         models.NewMoney(19900, "USD"),
		Reason:         "sold out",
		IdempotencyKey: "refund-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", ref)
	assert.Equal(t, "refund-abc", idemKey)
}

func signedStripeEvent(t *testing.T, secret string, event map[string]interface{}) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: body, Secret: secret})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	return signed.Payload, headers
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	gw := NewStripeGateway(&config.PaymentConfig{StripeWebhookSecret: "whsec_stripe"}, newTestLogger())

	session := func(paymentStatus string) map[string]interface{} {
		return map[string]interface{}{
			"id":             "cs_test_1",
			"object":         "checkout.session",
			"amount_total":   19900,
			"currency":       "usd",
			"payment_status": paymentStatus,
			"payment_intent": "pi_123",
		}
	}
	event := func(id, typ string, obj map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{
			"id":          id,
			"object":      "event",
			"type":        typ,
			"api_version": stripe.APIVersion,
			"data":        map[string]interface{}{"object": obj},
		}
	}

	t.Run("Completed and paid", func(t *testing.T) {
		body, headers := signedStripeEvent(t, "whsec_stripe", event("evt_1", "checkout.session.completed", session("paid")))
		evt, err := gw.ParseWebhook(body, headers)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.EventID)
		assert.Equal(t, "stripe", evt.Provider)
		assert.Equal(t, models.PaymentEventSucceeded, evt.Kind)
		assert.Equal(t, "cs_test_1", evt.SessionRef)
		assert.Equal(t, "pi_123", evt.PaymentRef)
		require.NotNil(t, evt.Amount)
		assert.Equal(t, models.NewMoney(19900, "USD"), *evt.Amount)
	})

	t.Run("Completed but unpaid waits", func(t *testing.T) {
		body, headers := signedStripeEvent(t, "whsec_stripe", event("evt_2", "checkout.session.completed", session("unpaid")))
		evt, err := gw.ParseWebhook(body, headers)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentEventIgnored, evt.Kind)
	})

	t.Run("Expired", func(t *testing.T) {
		body, headers := signedStripeEvent(t, "whsec_stripe", event("evt_3", "checkout.session.expired", session("unpaid")))
		evt, err := gw.ParseWebhook(body, headers)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentEventExpired, evt.Kind)
	})

	t.Run("Unrelated event", func(t *testing.T) {
		body, headers := signedStripeEvent(t, "whsec_stripe", event("evt_4", "customer.created", map[string]interface{}{"id": "cus_1"}))
		evt, err := gw.ParseWebhook(body, headers)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentEventIgnored, evt.Kind)
		assert.Empty(t, evt.SessionRef)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		body, headers := signedStripeEvent(t, "whsec_other", event("evt_5", "checkout.session.completed", session("paid")))
		_, err := gw.ParseWebhook(body, headers)
		assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	})
}

// ============================================================================
// HOSTED IPG
// ============================================================================

func setupHostedTest(t *testing.T, handler http.HandlerFunc) (*HostedCheckoutGateway, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	cfg := &config.PaymentConfig{
		HostedMerchantKey:   "MERCHANT",
		HostedMerchantToken: "TOKEN",
		SuccessURL:          "https://shop.example.com/done",
	}
	gw := NewHostedCheckoutGateway(cfg, newTestLogger()).WithEndpoint(server.URL + "/ipg/sandbox")
	return gw, server.Close
}

func TestHostedCheckoutGateway_CheckValue(t *testing.T) {
	gw := NewHostedCheckoutGateway(&config.PaymentConfig{HostedMerchantKey: "MERCHANT", HostedMerchantToken: "TOKEN"}, newTestLogger())

	v1 := gw.GenerateCheckValue("inv-1", "199.00", "USD")
	assert.Len(t, v1, 128)
	assert.Equal(t, strings.ToUpper(v1), v1)
	assert.Equal(t, v1, gw.GenerateCheckValue("inv-1", "199.00", "USD"))
	assert.NotEqual(t, v1, gw.GenerateCheckValue("inv-1", "199.01", "USD"))
}

func TestHostedCheckoutGateway_CreateSession(t *testing.T) {
	var got hostedPaymentRequest
	gw, cleanup := setupHostedTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(hostedPaymentResponse{Status: "PENDING", UID: "uid-1", PaymentPage: "https://ipg.example.com/pay/uid-1"})
	})
	defer cleanup()

	b := stripeBooking()
	b.BuyerName = "Ada King Lovelace"
	session, err := gw.CreateSession(context.Background(), b, time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "uid-1", session.SessionRef)
	assert.Equal(t, "199.00", got.Amount)
	assert.Equal(t, "Ada", got.CustomerFirstName)
	assert.Equal(t, "King Lovelace", got.CustomerLastName)
	assert.Equal(t, gw.GenerateCheckValue(b.ID.String(), "199.00", "USD"), got.CheckValue)
}

func TestHostedCheckoutGateway_ExpireSession(t *testing.T) {
	tests := []struct {
		status string
		closed bool
	}{
		{"FAILED", true},
		{"cancelled", true},
		{"EXPIRED", true},
		{"PENDING", false},
		{"SUCCESS", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("status "+tt.status, func(t *testing.T) {
			var path string
			gw, cleanup := setupHostedTest(t, func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				_ = json.NewEncoder(w).Encode(hostedStatusResponse{Status: "SUCCESS", PaymentStatus: tt.status})
			})
			defer cleanup()

			closed, err := gw.ExpireSession(context.Background(), "uid-1")
			require.NoError(t, err)
			assert.Equal(t, tt.closed, closed)
			assert.Equal(t, "/check-status/sandbox", path)
		})
	}
}

func TestHostedCheckoutGateway_ParseWebhook(t *testing.T) {
	gw := NewHostedCheckoutGateway(&config.PaymentConfig{HostedMerchantKey: "MERCHANT", HostedMerchantToken: "TOKEN"}, newTestLogger())

	payload := func(status, check string) []byte {
		body, _ := json.Marshal(hostedWebhookPayload{
			UID:           "uid-1",
			InvoiceID:     "inv-1",
			Amount:        "199.00",
			CurrencyCode:  "USD",
			PaymentStatus: status,
			TransactionID: "txn-9",
			CheckValue:    check,
		})
		return body
	}

	t.Run("Valid success", func(t *testing.T) {
		check := gw.GenerateCheckValue("uid-1", "inv-1", "199.00", "USD", "SUCCESS")
		evt, err := gw.ParseWebhook(payload("success", check), nil)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentEventSucceeded, evt.Kind)
		assert.Equal(t, "uid-1:SUCCESS", evt.EventID)
		assert.Equal(t, "txn-9", evt.PaymentRef)
		assert.Equal(t, int64(19900), evt.Amount.AmountMinor)
	})

	t.Run("Tampered amount", func(t *testing.T) {
		check := gw.GenerateCheckValue("uid-1", "inv-1", "1.00", "USD", "SUCCESS")
		_, err := gw.ParseWebhook(payload("SUCCESS", check), nil)
		assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	})

	t.Run("Malformed body", func(t *testing.T) {
		_, err := gw.ParseWebhook([]byte(`not json`), nil)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}

func TestHostedCheckoutGateway_Refund(t *testing.T) {
	gw, cleanup := setupHostedTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refund/sandbox", r.URL.Path)
		var req hostedRefundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refund-abc", req.RequestID)
		_ = json.NewEncoder(w).Encode(hostedRefundResponse{Status: "SUCCESS", RefundID: "rf-1"})
	})
	defer cleanup()

	ref, err := gw.Refund(context.Background(), RefundRequest{
		PaymentRef:     "txn-9",
		Amount:         models.NewMoney(19900, "USD"),
		IdempotencyKey: "refund-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "rf-1", ref)
}
