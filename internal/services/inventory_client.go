package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/resilience"
)

// InventoryProvider is the external system that quotes and issues travel orders
type InventoryProvider interface {
	// Revalidate asks for the current price of an offer
	Revalidate(ctx context.Context, productType models.ProductType, offerRef string) (*models.Quote, error)

	// CommitOrder issues the order. The idempotency key makes retries safe.
	CommitOrder(ctx context.Context, req CommitOrderRequest) (*models.OrderCommitment, error)
}

// CommitOrderRequest carries what the provider needs to issue an order
type CommitOrderRequest struct {
	BookingID      string
	IdempotencyKey string
	ProductType    models.ProductType
	OfferRef       string
	Price          models.Money
	Contact        models.BuyerContact
}

// ErrOfferUnavailable means the provider no longer sells the offer
var ErrOfferUnavailable = errors.New("offer no longer available")

// InventoryClient talks JSON over HTTP to the inventory provider
type InventoryClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	logger  *logrus.Logger
}

type revalidateRequest struct {
	ProductType models.ProductType `json:"product_type"`
	OfferRef    string             `json:"offer_ref"`
}

type revalidateResponse struct {
	OfferRef    string    `json:"offer_ref"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type commitRequest struct {
	BookingID   string              `json:"booking_id"`
	ProductType models.ProductType  `json:"product_type"`
	OfferRef    string              `json:"offer_ref"`
	AmountMinor int64               `json:"amount_minor"`
	Currency    string              `json:"currency"`
	Contact     models.BuyerContact `json:"contact"`
}

type commitResponse struct {
	OrderRef string `json:"order_ref"`
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewInventoryClient creates a client with retries and a circuit breaker from cfg
func NewInventoryClient(cfg config.InventoryConfig, logger *logrus.Logger) *InventoryClient {
	return &InventoryClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		retry: resilience.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    5 * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		}),
		logger: logger,
	}
}

// Revalidate re-quotes an offer. Transport failures map to ErrProviderUnavailable.
func (c *InventoryClient) Revalidate(ctx context.Context, productType models.ProductType, offerRef string) (*models.Quote, error) {
	var resp revalidateResponse
	err := c.call(ctx, http.MethodPost, "/offers/revalidate", "", revalidateRequest{
		ProductType: productType,
		OfferRef:    offerRef,
	}, &resp)
	if err != nil {
		if errors.Is(err, ErrOfferUnavailable) {
			return nil, apperr.Invalid("offer", "offer is no longer available")
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrProviderUnavailable, err)
	}

	if resp.OfferRef == "" {
		resp.OfferRef = offerRef
	}
	return &models.Quote{
		OfferRef:  resp.OfferRef,
		Price:     models.NewMoney(resp.AmountMinor, resp.Currency),
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// CommitOrder issues the order under the attempt's idempotency key
func (c *InventoryClient) CommitOrder(ctx context.Context, req CommitOrderRequest) (*models.OrderCommitment, error) {
	var resp commitResponse
	err := c.call(ctx, http.MethodPost, "/orders", req.IdempotencyKey, commitRequest{
		BookingID:   req.BookingID,
		ProductType: req.ProductType,
		OfferRef:    req.OfferRef,
		AmountMinor: req.Price.AmountMinor,
		Currency:    req.Price.Currency,
		Contact:     req.Contact,
	}, &resp)
	if err != nil {
		return nil, &apperr.ProviderCommitError{Reason: commitFailureReason(err), Err: err}
	}
	if resp.OrderRef == "" {
		return nil, &apperr.ProviderCommitError{Reason: "provider returned no order reference"}
	}
	return &models.OrderCommitment{OrderRef: resp.OrderRef}, nil
}

func commitFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrOfferUnavailable):
		return "offer no longer available"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "provider unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "provider timed out"
	default:
		return "provider rejected order"
	}
}

// call runs one request through the breaker and retry policy.
// 404/409/410/422 are permanent; 5xx and transport errors are retried.
func (c *InventoryClient) call(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("invalid inventory URL: %w", err))
	}

	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			return c.do(ctx, method, endpoint, idempotencyKey, payload, out)
		})
	})
}

func (c *InventoryClient) do(ctx context.Context, method, endpoint, idempotencyKey string, payload []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("endpoint", endpoint).Warn("Inventory provider call failed")
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Inventory provider responded")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(respBody, out); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusUnprocessableEntity:
		var pe providerError
		_ = json.Unmarshal(respBody, &pe)
		return resilience.Permanent(fmt.Errorf("%w: %s %s", ErrOfferUnavailable, pe.Code, pe.Message))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("inventory provider status %d", resp.StatusCode)
	default:
		return resilience.Permanent(fmt.Errorf("inventory provider status %d: %s", resp.StatusCode, string(respBody)))
	}
}
