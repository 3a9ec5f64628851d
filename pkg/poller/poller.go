package poller

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultInterval is the pause between verify calls
	DefaultInterval = 8 * time.Second

	// DefaultMaxAttempts bounds a poll to roughly six minutes
	DefaultMaxAttempts = 45
)

// Ref selects the booking to poll. SessionID wins when both are set.
type Ref struct {
	SessionID string
	BookingID string
}

// Status is the verify projection as seen by a client
type Status struct {
	BookingID        string `json:"booking_id"`
	BookingStatus    string `json:"booking_status"`
	Stage            string `json:"stage"`
	Terminal         bool   `json:"terminal"`
	PaymentVerified  bool   `json:"payment_verified"`
	ProviderBooked   bool   `json:"provider_booked"`
	ProviderOrderRef string `json:"provider_order_ref,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	RefundReason     string `json:"refund_reason,omitempty"`
}

// Verifier fetches the current status of a booking
type Verifier interface {
	Verify(ctx context.Context, ref Ref) (*Status, error)
}

// Result is the outcome of a poll. StillProcessing means the attempt cap was
// reached before a terminal status; Status holds the last one seen, if any.
type Result struct {
	Status          *Status
	Attempts        int
	StillProcessing bool
}

// Poller polls a Verifier until the booking is terminal, the context ends or
// MaxAttempts is used up
type Poller struct {
	Verifier    Verifier
	Interval    time.Duration
	MaxAttempts int
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *logrus.Logger
}

// New creates a Poller with the default interval and cap
func New(v Verifier, logger *logrus.Logger) *Poller {
	return &Poller{
		Verifier:    v,
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Logger:      logger,
	}
}

// Poll returns as soon as a terminal status is seen. Hitting the cap is not an
// error: the result is marked StillProcessing and the buyer is told out of band.
// A failed verify call uses up an attempt and polling continues.
func (p *Poller) Poll(ctx context.Context, ref Ref) (*Result, error) {
	if p.Verifier == nil {
		return nil, errors.New("poller: no verifier")
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	result := &Result{}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempts = attempt

		status, err := p.Verifier.Verify(ctx, ref)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			p.log().WithError(err).WithField("attempt", attempt).Warn("Verify call failed")
		default:
			result.Status = status
			p.log().WithFields(logrus.Fields{
				"attempt": attempt,
				"stage":   status.Stage,
			}).Debug("Booking status polled")
			if status.Terminal {
				return result, nil
			}
		}

		if attempt < maxAttempts {
			if err := sleep(ctx, interval); err != nil {
				return result, err
			}
		}
	}

	result.StillProcessing = true
	return result, nil
}

func (p *Poller) log() *logrus.Logger {
	if p.Logger == nil {
		return logrus.StandardLogger()
	}
	return p.Logger
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
