package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ============================================================================
// BOOKING STORE
// ============================================================================

type memBookingStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	byID     map[uuid.UUID]*models.ProvisionalBooking
	byKey    map[string]uuid.UUID
	createFn func(b *models.ProvisionalBooking) error
}

func newMemBookingStore(clk clock.Clock) *memBookingStore {
	return &memBookingStore{
		clock: clk,
		byID:  make(map[uuid.UUID]*models.ProvisionalBooking),
		byKey: make(map[string]uuid.UUID),
	}
}

func (s *memBookingStore) copyOf(b *models.ProvisionalBooking) *models.ProvisionalBooking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func (s *memBookingStore) Create(_ context.Context, b *models.ProvisionalBooking) (*models.ProvisionalBooking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !b.HoldExpiry.After(now) {
		return nil, false, apperr.ErrHoldExpired
	}
	if s.createFn != nil {
		if err := s.createFn(b); err != nil {
			return nil, false, err
		}
	}
	if id, ok := s.byKey[b.IdempotencyKey]; ok {
		return s.copyOf(s.byID[id]), false, nil
	}

	stored := s.copyOf(b)
	stored.ID = uuid.New()
	stored.Status = models.StatusPendingPayment
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	s.byKey[stored.IdempotencyKey] = stored.ID
	return s.copyOf(stored), true, nil
}

func (s *memBookingStore) GetByID(_ context.Context, id uuid.UUID) (*models.ProvisionalBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.byID[id]), nil
}

func (s *memBookingStore) GetByIdempotencyKey(_ context.Context, key string) (*models.ProvisionalBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	return s.copyOf(s.byID[id]), nil
}

func (s *memBookingStore) GetByCheckoutSessionRef(_ context.Context, ref string) (*models.ProvisionalBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.bySessionLocked(ref)), nil
}

func (s *memBookingStore) bySessionLocked(ref string) *models.ProvisionalBooking {
	for _, b := range s.byID {
		if b.CheckoutSessionRef != nil && *b.CheckoutSessionRef == ref {
			return b
		}
	}
	return nil
}

func (s *memBookingStore) AttachCheckoutSession(_ context.Context, id uuid.UUID, provider string, session *models.CheckoutSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok || b.Status != models.StatusPendingPayment || b.CheckoutSessionRef != nil {
		return false, nil
	}
	ref, url := session.SessionRef, session.URL
	b.PaymentProvider = &provider
	b.CheckoutSessionRef = &ref
	b.CheckoutURL = &url
	b.UpdatedAt = s.clock.Now()
	return true, nil
}

func (s *memBookingStore) Transition(_ context.Context, _ sqlx.ExecerContext, id uuid.UUID, from, to models.BookingStatus, patch models.TransitionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, from, to, patch)
}

func (s *memBookingStore) transitionLocked(id uuid.UUID, from, to models.BookingStatus, patch models.TransitionPatch) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", database.ErrIllegalTransition, from, to)
	}
	b, ok := s.byID[id]
	if !ok || b.Status != from {
		return fmt.Errorf("%w: %s expected %s", database.ErrStaleTransition, id, from)
	}
	b.Status = to
	s.patchLocked(b, patch)
	return nil
}

func (s *memBookingStore) Annotate(_ context.Context, id uuid.UUID, status models.BookingStatus, patch models.TransitionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok || b.Status != status {
		return fmt.Errorf("%w: %s expected %s", database.ErrStaleTransition, id, status)
	}
	s.patchLocked(b, patch)
	return nil
}

func (s *memBookingStore) patchLocked(b *models.ProvisionalBooking, p models.TransitionPatch) {
	if p.PaymentRef != nil {
		b.PaymentRef = p.PaymentRef
	}
	if p.ProviderOrderRef != nil {
		b.ProviderOrderRef = p.ProviderOrderRef
	}
	if p.RefundRef != nil {
		b.RefundRef = p.RefundRef
	}
	if p.RefundReason != nil {
		b.RefundReason = p.RefundReason
	}
	if p.LastError != nil {
		b.LastError = p.LastError
	}
	b.UpdatedAt = s.clock.Now()
}

func (s *memBookingStore) list(status models.BookingStatus, keep func(b *models.ProvisionalBooking) bool, limit int) []*models.ProvisionalBooking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProvisionalBooking
	for _, b := range s.byID {
		if b.Status == status && keep(b) {
			out = append(out, s.copyOf(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memBookingStore) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]*models.ProvisionalBooking, error) {
	return s.list(models.StatusPendingPayment, func(b *models.ProvisionalBooking) bool {
		return b.HoldExpiry.Before(cutoff)
	}, limit), nil
}

func (s *memBookingStore) ListStuckProcessing(_ context.Context, olderThan time.Time, limit int) ([]*models.ProvisionalBooking, error) {
	return s.list(models.StatusProcessingProvider, func(b *models.ProvisionalBooking) bool {
		return b.UpdatedAt.Before(olderThan)
	}, limit), nil
}

func (s *memBookingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// put stores a booking as-is, bypassing the hold gate
func (s *memBookingStore) put(b *models.ProvisionalBooking) *models.ProvisionalBooking {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.clock.Now()
	}
	s.byID[b.ID] = s.copyOf(b)
	s.byKey[b.IdempotencyKey] = b.ID
	return s.copyOf(b)
}

// ============================================================================
// PAYMENT EVENT APPLIER
// ============================================================================

// memEventApplier mirrors PaymentEventStore: claim, lock, decide, mark processed
type memEventApplier struct {
	bookings  *memBookingStore
	mu        sync.Mutex
	processed map[string]bool
	failNext  error
}

func newMemEventApplier(bookings *memBookingStore) *memEventApplier {
	return &memEventApplier{bookings: bookings, processed: make(map[string]bool)}
}

func (a *memEventApplier) Apply(_ context.Context, evt *models.PaymentEvent, decide database.DecideFunc) (*database.ApplyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return nil, err
	}

	key := evt.Provider + "/" + evt.EventID
	if a.processed[key] {
		return &database.ApplyResult{Replay: true}, nil
	}

	a.bookings.mu.Lock()
	defer a.bookings.mu.Unlock()

	result := &database.ApplyResult{}
	locked := a.bookings.bySessionLocked(evt.SessionRef)
	var view *models.ProvisionalBooking
	if locked != nil {
		view = a.bookings.copyOf(locked)
		result.From = locked.Status
	}

	if d := decide(view); d != nil {
		result.Note = d.Note
		if d.To != "" && locked != nil {
			if err := a.bookings.transitionLocked(locked.ID, locked.Status, d.To, d.Patch); err != nil {
				return nil, err
			}
			result.Applied = true
		}
	}
	if locked != nil {
		result.Booking = a.bookings.copyOf(locked)
	}
	a.processed[key] = true
	return result, nil
}

// ============================================================================
// AUDIT
// ============================================================================

type memAudit struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (a *memAudit) Log(_ context.Context, entry *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAudit) count(eventType models.PaymentAuditEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// ============================================================================
// GATEWAY
// ============================================================================

type fakeGateway struct {
	mu             sync.Mutex
	createCalls    int
	createErr      error
	expireClosed   bool
	expireErr      error
	expired        []string
	refundErr      error
	refunds        []RefundRequest
	webhookSecret  string
	parsedEvent    *models.PaymentEvent
	sessionExpires []time.Time
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{expireClosed: true, webhookSecret: "whsec_test"}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateSession(_ context.Context, b *models.ProvisionalBooking, expiresAt time.Time) (*models.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.sessionExpires = append(g.sessionExpires, expiresAt)
	if g.createErr != nil {
		return nil, g.createErr
	}
	// same booking, same session: the provider honours the idempotency key
	ref := "cs_" + b.ID.String()
	return &models.CheckoutSession{SessionRef: ref, URL: "https://pay.example.com/" + ref}, nil
}

func (g *fakeGateway) ExpireSession(_ context.Context, ref string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expireErr != nil {
		return false, g.expireErr
	}
	g.expired = append(g.expired, ref)
	return g.expireClosed, nil
}

func (g *fakeGateway) Refund(_ context.Context, req RefundRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return "", g.refundErr
	}
	return "re_" + req.IdempotencyKey, nil
}

func (g *fakeGateway) ParseWebhook(_ []byte, headers http.Header) (*models.PaymentEvent, error) {
	if headers.Get("X-Signature") != g.webhookSecret {
		return nil, apperr.ErrInvalidSignature
	}
	return g.parsedEvent, nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

// ============================================================================
// INVENTORY
// ============================================================================

type fakeInventory struct {
	mu          sync.Mutex
	quote       *models.Quote
	quoteErr    error
	commitErr   error
	commitCalls []CommitOrderRequest
	revalidated int
}

func (f *fakeInventory) Revalidate(_ context.Context, _ models.ProductType, offerRef string) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revalidated++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	q := *f.quote
	q.OfferRef = offerRef
	return &q, nil
}

func (f *fakeInventory) CommitOrder(_ context.Context, req CommitOrderRequest) (*models.OrderCommitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls = append(f.commitCalls, req)
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	return &models.OrderCommitment{OrderRef: "PNR-" + req.IdempotencyKey[:6]}, nil
}

func (f *fakeInventory) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commitCalls)
}

// ============================================================================
// NOTIFIER
// ============================================================================

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []models.BookingStatus
}

func (n *recordingNotifier) NotifyBookingOutcome(_ context.Context, b *models.ProvisionalBooking) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, b.Status)
}
