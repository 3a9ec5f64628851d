package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
	"golang.org/x/sync/errgroup"
)

// ReconcileReport summarizes one reconciler pass
type ReconcileReport struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
}

// BookingResumer continues a saga from its stored state
type BookingResumer interface {
	Resume(ctx context.Context, id uuid.UUID) (*models.ProvisionalBooking, error)
}

// SagaReconciler re-drives bookings left in processing_provider, for example
// after a crash between payment and commit or a failed refund call
type SagaReconciler struct {
	bookings    BookingStore
	resumer     BookingResumer
	audit       PaymentAuditLogger
	clock       clock.Clock
	after       time.Duration
	limit       int
	concurrency int
	logger      *logrus.Logger
}

// NewSagaReconciler creates a SagaReconciler
func NewSagaReconciler(
	bookings BookingStore,
	resumer BookingResumer,
	audit PaymentAuditLogger,
	clk clock.Clock,
	after time.Duration,
	limit int,
	logger *logrus.Logger,
) *SagaReconciler {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if limit <= 0 {
		limit = 100
	}
	return &SagaReconciler{
		bookings:    bookings,
		resumer:     resumer,
		audit:       audit,
		clock:       clk,
		after:       after,
		limit:       limit,
		concurrency: 4,
		logger:      logger,
	}
}

// RunOnce resumes one batch of stuck bookings. Individual failures are counted
// as pending and retried on the next pass.
func (r *SagaReconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	stuck, err := r.bookings.ListStuckProcessing(ctx, r.clock.Now().Add(-r.after), r.limit)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Scanned: len(stuck)}
	if len(stuck) == 0 {
		return report, nil
	}
	r.logger.WithField("count", len(stuck)).Info("Reconciling stuck bookings")

	var resolved int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, booking := range stuck {
		booking := booking
		g.Go(func() error {
			if r.resume(gctx, booking) {
				atomic.AddInt64(&resolved, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Resolved = int(resolved)
	report.Pending = report.Scanned - report.Resolved
	r.logger.WithFields(logrus.Fields{
		"resolved": report.Resolved,
		"pending":  report.Pending,
	}).Info("Reconciliation finished")
	return report, ctx.Err()
}

func (r *SagaReconciler) resume(ctx context.Context, booking *models.ProvisionalBooking) bool {
	if r.audit != nil {
		entry := models.NewPaymentAudit(models.AuditReconciliationRetry, models.AuditSourceReconciler).
			ForBooking(booking).
			SetDetail("refund_pending", booking.RefundReason != nil)
		if err := r.audit.Log(ctx, entry); err != nil {
			r.logger.WithError(err).Warn("Payment audit write failed")
		}
	}

	current, err := r.resumer.Resume(ctx, booking.ID)
	if err != nil {
		r.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Booking still unresolved")
		return false
	}
	return current.Status.IsTerminal()
}
