package poller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedVerifier struct {
	calls   int
	results []*Status
	errs    []error
}

func (s *scriptedVerifier) Verify(_ context.Context, _ Ref) (*Status, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &Status{Stage: "confirming_with_provider"}, nil
}

func setupPollerTest(v Verifier, maxAttempts int) (*Poller, *[]time.Duration) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	var sleeps []time.Duration
	p := &Poller{
		Verifier:    v,
		Interval:    8 * time.Second,
		MaxAttempts: maxAttempts,
		Logger:      logger,
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}
	return p, &sleeps
}

func TestPoller_Poll(t *testing.T) {
	t.Run("Stops on terminal status", func(t *testing.T) {
		v := &scriptedVerifier{results: []*Status{
			{Stage: "awaiting_payment"},
			{Stage: "confirming_with_provider"},
			{Stage: "confirmed", Terminal: true, ProviderOrderRef: "PNR1"},
		}}
		p, sleeps := setupPollerTest(v, 45)

		res, err := p.Poll(context.Background(), Ref{BookingID: "b1"})
		require.NoError(t, err)
		assert.False(t, res.StillProcessing)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, "PNR1", res.Status.ProviderOrderRef)
		assert.Equal(t, []time.Duration{8 * time.Second, 8 * time.Second}, *sleeps)
	})

	t.Run("Cap is fail-open", func(t *testing.T) {
		v := &scriptedVerifier{}
		p, sleeps := setupPollerTest(v, 45)

		res, err := p.Poll(context.Background(), Ref{BookingID: "b1"})
		require.NoError(t, err)
		assert.True(t, res.StillProcessing)
		assert.Equal(t, 45, res.Attempts)
		assert.Equal(t, 45, v.calls)
		assert.Len(t, *sleeps, 44)
	})

	t.Run("Transient errors use an attempt", func(t *testing.T) {
		v := &scriptedVerifier{
			errs:    []error{errors.New("timeout"), errors.New("timeout")},
			results: []*Status{nil, nil, {Stage: "refunded", Terminal: true}},
		}
		p, _ := setupPollerTest(v, 5)

		res, err := p.Poll(context.Background(), Ref{SessionID: "cs_1"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, "refunded", res.Status.Stage)
	})

	t.Run("Cancellation stops polling", func(t *testing.T) {
		v := &scriptedVerifier{}
		p, _ := setupPollerTest(v, 45)
		ctx, cancel := context.WithCancel(context.Background())
		p.Sleep = func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}

		res, err := p.Poll(ctx, Ref{BookingID: "b1"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, res.Attempts)
		assert.False(t, res.StillProcessing)
	})

	t.Run("Real sleep honours context", func(t *testing.T) {
		p := New(&scriptedVerifier{}, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := p.Poll(ctx, Ref{BookingID: "b1"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestHTTPVerifier_Verify(t *testing.T) {
	t.Run("Decodes projection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/booking/verify", r.URL.Path)
			assert.Equal(t, "cs_1", r.URL.Query().Get("session_id"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"booking_id":       "b1",
				"booking_status":   "confirmed",
				"stage":            "confirmed",
				"terminal":         true,
				"payment_verified": true,
				"provider_booked":  true,
				"amount":           19900,
				"currency":         "USD",
			})
		}))
		defer server.Close()

		status, err := NewHTTPVerifier(server.URL+"/").Verify(context.Background(), Ref{SessionID: "cs_1", BookingID: "ignored"})
		require.NoError(t, err)
		assert.True(t, status.Terminal)
		assert.Equal(t, int64(19900), status.Amount)
	})

	t.Run("Retries server errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"stage":"awaiting_payment"}`))
		}))
		defer server.Close()

		v := NewHTTPVerifier(server.URL)
		v.Retry.BaseDelay = time.Millisecond
		status, err := v.Verify(context.Background(), Ref{BookingID: "b1"})
		require.NoError(t, err)
		assert.Equal(t, "awaiting_payment", status.Stage)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("Not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := NewHTTPVerifier(server.URL).Verify(context.Background(), Ref{BookingID: "b1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Missing ref", func(t *testing.T) {
		_, err := NewHTTPVerifier("http://localhost").Verify(context.Background(), Ref{})
		assert.Error(t, err)
	})
}
