package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smarttransit/booking-saga/pkg/resilience"
)

// ErrNotFound is returned when the server does not know the booking
var ErrNotFound = errors.New("booking not found")

// HTTPVerifier calls GET {BaseURL}/api/v1/booking/verify
type HTTPVerifier struct {
	BaseURL string
	Client  *http.Client
	Retry   resilience.RetryPolicy
}

// NewHTTPVerifier creates a verifier that retries a single call briefly
func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
		Retry: resilience.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    time.Second,
		},
	}
}

// Verify fetches the booking's status projection
func (v *HTTPVerifier) Verify(ctx context.Context, ref Ref) (*Status, error) {
	query := url.Values{}
	switch {
	case ref.SessionID != "":
		query.Set("session_id", ref.SessionID)
	case ref.BookingID != "":
		query.Set("booking_id", ref.BookingID)
	default:
		return nil, errors.New("session id or booking id is required")
	}
	endpoint := v.BaseURL + "/api/v1/booking/verify?" + query.Encode()

	var status Status
	err := v.Retry.Do(ctx, func(ctx context.Context) error {
		return v.get(ctx, endpoint, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (v *HTTPVerifier) get(ctx context.Context, endpoint string, out *Status) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(body, out); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to parse verify response: %w", err))
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return resilience.Permanent(ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("verify returned status %d", resp.StatusCode)
	default:
		return resilience.Permanent(fmt.Errorf("verify returned status %d: %s", resp.StatusCode, string(body)))
	}
}
