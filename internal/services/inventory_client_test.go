package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupInventoryTest(t *testing.T, handler http.HandlerFunc) (*InventoryClient, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := NewInventoryClient(config.InventoryConfig{
		BaseURL:             server.URL + "/",
		APIKey:              "inv_key",
		Timeout:             2 * time.Second,
		RetryAttempts:       3,
		RetryBaseDelay:      time.Millisecond,
		BreakerMaxFailures:  10,
		BreakerResetTimeout: time.Minute,
	}, newTestLogger())
	return client, server.Close
}

func TestInventoryClient_Revalidate(t *testing.T) {
	t.Run("Returns the current quote", func(t *testing.T) {
		expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		client, cleanup := setupInventoryTest(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/offers/revalidate", r.URL.Path)
			assert.Equal(t, "Bearer inv_key", r.Header.Get("Authorization"))
			var req revalidateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, models.ProductFlight, req.ProductType)
			_ = json.NewEncoder(w).Encode(revalidateResponse{OfferRef: req.OfferRef, AmountMinor: 22500, Currency: "usd", ExpiresAt: expires})
		})
		defer cleanup()

		quote, err := client.Revalidate(context.Background(), models.ProductFlight, "off_123")
		require.NoError(t, err)
		assert.Equal(t, models.NewMoney(22500, "USD"), quote.Price)
		assert.Equal(t, "off_123", quote.OfferRef)
		assert.True(t, quote.ExpiresAt.Equal(expires))
	})

	t.Run("Retries transient failures", func(t *testing.T) {
		var calls int32
		client, cleanup := setupInventoryTest(t, func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(revalidateResponse{AmountMinor: 19900, Currency: "USD"})
		})
		defer cleanup()

		quote, err := client.Revalidate(context.Background(), models.ProductFlight, "off_123")
		require.NoError(t, err)
		assert.Equal(t, int64(19900), quote.Price.AmountMinor)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Unavailable after retries", func(t *testing.T) {
		client, cleanup := setupInventoryTest(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		defer cleanup()

		_, err := client.Revalidate(context.Background(), models.ProductFlight, "off_123")
		assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
	})

	t.Run("Gone offer is a validation error", func(t *testing.T) {
		var calls int32
		client, cleanup := setupInventoryTest(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusGone)
			_ = json.NewEncoder(w).Encode(providerError{Code: "offer_expired"})
		})
		defer cleanup()

		_, err := client.Revalidate(context.Background(), models.ProductFlight, "off_123")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestInventoryClient_CommitOrder(t *testing.T) {
	req := CommitOrderRequest{
		BookingID:      "b-1",
		IdempotencyKey: "attempt-key",
		ProductType:    models.ProductFlight,
		OfferRef:       "off_123",
		Price:          models.NewMoney(19900, "USD"),
		Contact:        models.BuyerContact{Name: "Ada", Email: "ada@example.com"},
	}

	t.Run("Forwards the attempt key", func(t *testing.T) {
		client, cleanup := setupInventoryTest(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/orders", r.URL.Path)
			assert.Equal(t, "attempt-key", r.Header.Get("Idempotency-Key"))
			var body commitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(19900), body.AmountMinor)
			_ = json.NewEncoder(w).Encode(commitResponse{OrderRef: "PNR123"})
		})
		defer cleanup()

		order, err := client.CommitOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "PNR123", order.OrderRef)
	})

	t.Run("Rejection carries a reason", func(t *testing.T) {
		client, cleanup := setupInventoryTest(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		})
		defer cleanup()

		_, err := client.CommitOrder(context.Background(), req)
		var commitErr *apperr.ProviderCommitError
		require.True(t, errors.As(err, &commitErr))
		assert.Equal(t, "offer no longer available", commitErr.Reason)
		assert.ErrorIs(t, err, apperr.ErrProviderCommitFailed)
	})

	t.Run("Empty order reference", func(t *testing.T) {
		client, cleanup := setupInventoryTest(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})
		defer cleanup()

		_, err := client.CommitOrder(context.Background(), req)
		assert.ErrorIs(t, err, apperr.ErrProviderCommitFailed)
	})
}
