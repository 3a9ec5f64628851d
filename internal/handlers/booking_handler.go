package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/middleware"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/internal/services"
	"github.com/smarttransit/booking-saga/pkg/poller"
)

// AttemptIssuer mints idempotency keys for new purchase attempts
type AttemptIssuer interface {
	Issue() string
}

// OfferValidator reconfirms a selected offer
type OfferValidator interface {
	Validate(ctx context.Context, req *models.ValidatePrebookingRequest) (*services.ValidationOutcome, error)
}

// PriceChangeResolver applies the buyer's answer to a price change
type PriceChangeResolver interface {
	Resolve(ctx context.Context, key string, d services.Decision) (*services.Resolution, error)
}

// BookingCreator stores a provisional booking and opens payment
type BookingCreator interface {
	CreateProvisionalBooking(ctx context.Context, req *models.CreateProvisionalBookingRequest) (*models.CreateProvisionalBookingResponse, error)
}

// BookingVerifier projects a booking's saga state
type BookingVerifier interface {
	Verify(ctx context.Context, q models.VerifyQuery) (*models.BookingStatusView, error)
}

// BuyerAuditor records buyer actions
type BuyerAuditor interface {
	LogAttempt(ctx context.Context, meta services.RequestMeta, action, idempotencyKey string, details map[string]interface{}) error
	LogBookingCreated(ctx context.Context, meta services.RequestMeta, resp *models.CreateProvisionalBookingResponse, idempotencyKey string) error
}

// BookingHandler serves the buyer side of the booking saga
type BookingHandler struct {
	issuer     AttemptIssuer
	validator  OfferValidator
	negotiator PriceChangeResolver
	bookings   BookingCreator
	status     BookingVerifier
	audit      BuyerAuditor
	logger     *logrus.Logger

	pollInterval    time.Duration
	pollMaxAttempts int
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(
	issuer AttemptIssuer,
	validator OfferValidator,
	negotiator PriceChangeResolver,
	bookings BookingCreator,
	status BookingVerifier,
	audit BuyerAuditor,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		issuer:     issuer,
		validator:  validator,
		negotiator: negotiator,
		bookings:   bookings,
		status:     status,
		audit:      audit,
		logger:     logger,

		pollInterval:    poller.DefaultInterval,
		pollMaxAttempts: poller.DefaultMaxAttempts,
	}
}

// WithPollPolicy sets the cadence advertised to clients that poll /verify
func (h *BookingHandler) WithPollPolicy(interval time.Duration, maxAttempts int) *BookingHandler {
	if interval > 0 {
		h.pollInterval = interval
	}
	if maxAttempts > 0 {
		h.pollMaxAttempts = maxAttempts
	}
	return h
}

// IssueAttempt handles POST /api/v1/booking/attempts
// @Summary Start a purchase attempt
// @Tags Booking
// @Produce json
// @Success 200 {object} models.IssueAttemptResponse
// @Router /booking/attempts [post]
func (h *BookingHandler) IssueAttempt(c *gin.Context) {
	key := h.issuer.Issue()
	h.safeLogAttempt(c, services.AuditActionAttemptIssued, key, nil)
	c.JSON(http.StatusOK, models.IssueAttemptResponse{
		IdempotencyKey:      key,
		PollIntervalSeconds: int(h.pollInterval / time.Second),
		PollMaxAttempts:     h.pollMaxAttempts,
	})
}

// Validate handles POST /api/v1/booking/validate
// @Summary Revalidate the selected offer with the inventory provider
// @Tags Booking
// @Accept json
// @Produce json
// @Param request body models.ValidatePrebookingRequest true "Attempt and selected offer"
// @Success 200 {object} models.ValidatePrebookingResponse
// @Failure 409 {object} models.ValidatePrebookingResponse
// @Failure 503 {object} ErrorResponse
// @Router /booking/validate [post]
func (h *BookingHandler) Validate(c *gin.Context) {
	var req models.ValidatePrebookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcome, err := h.validator.Validate(c.Request.Context(), &req)
	if err != nil {
		var changed *apperr.PriceChangedError
		if errors.As(err, &changed) {
			h.safeLogAttempt(c, services.AuditActionPriceChanged, req.IdempotencyKey, map[string]interface{}{
				"old_price": changed.OldPrice.String(),
				"new_price": changed.NewPrice.String(),
			})
			c.JSON(http.StatusConflict, models.ValidatePrebookingResponse{
				OK:       false,
				Code:     apperr.Kind(err),
				OldPrice: &changed.OldPrice,
				NewPrice: &changed.NewPrice,
			})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	if existing := outcome.ExistingBooking; existing != nil {
		id := existing.ID
		c.JSON(http.StatusOK, models.ValidatePrebookingResponse{
			OK:              true,
			Code:            apperr.Kind(apperr.ErrDuplicateAttemptResolved),
			ExistingBooking: true,
			BookingID:       &id,
			BookingStatus:   existing.Status,
		})
		return
	}

	h.safeLogAttempt(c, services.AuditActionOfferValidated, req.IdempotencyKey, map[string]interface{}{
		"offer_ref": outcome.ValidatedOffer.OfferRef,
		"price":     outcome.ValidatedOffer.Price.String(),
	})
	c.JSON(http.StatusOK, models.ValidatePrebookingResponse{
		OK:             true,
		ValidatedOffer: outcome.ValidatedOffer,
	})
}

// AcceptPriceChange handles POST /api/v1/booking/price-change/accept
// @Summary Continue the attempt at the new price under a fresh key
// @Tags Booking
// @Accept json
// @Produce json
// @Param request body models.PriceChangeDecisionRequest true "Suspended attempt"
// @Success 200 {object} models.PriceChangeAcceptResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /booking/price-change/accept [post]
func (h *BookingHandler) AcceptPriceChange(c *gin.Context) {
	var req models.PriceChangeDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.negotiator.Resolve(c.Request.Context(), req.IdempotencyKey, services.Resume{})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.safeLogAttempt(c, services.AuditActionPriceAccepted, req.IdempotencyKey, map[string]interface{}{
		"new_idempotency_key": res.IdempotencyKey,
		"price":               res.ValidatedOffer.Price.String(),
	})
	c.JSON(http.StatusOK, models.PriceChangeAcceptResponse{
		OK:             true,
		IdempotencyKey: res.IdempotencyKey,
		ValidatedOffer: *res.ValidatedOffer,
	})
}

// RejectPriceChange handles POST /api/v1/booking/price-change/reject
func (h *BookingHandler) RejectPriceChange(c *gin.Context) {
	var req models.PriceChangeDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if _, err := h.negotiator.Resolve(c.Request.Context(), req.IdempotencyKey, services.Abort{}); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.safeLogAttempt(c, services.AuditActionPriceRejected, req.IdempotencyKey, nil)
	c.JSON(http.StatusOK, gin.H{"ok": true, "aborted": true})
}

// CreateProvisional handles POST /api/v1/booking/provisional
// @Summary Store the booking at the revalidated price and open checkout
// @Tags Booking
// @Accept json
// @Produce json
// @Param request body models.CreateProvisionalBookingRequest true "Validated attempt and buyer contact"
// @Success 201 {object} models.CreateProvisionalBookingResponse
// @Success 200 {object} models.CreateProvisionalBookingResponse "existing booking for this attempt"
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /booking/provisional [post]
func (h *BookingHandler) CreateProvisional(c *gin.Context) {
	var req models.CreateProvisionalBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.UserID = middleware.UserID(c)

	resp, err := h.bookings.CreateProvisionalBooking(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"idempotency_key": req.IdempotencyKey,
			"code":            apperr.Kind(err),
		}).Warn("Provisional booking refused")
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			respondError(c, h.logger, err)
			return
		}
		body := errorBody(err)
		body["reason"] = body["error"]
		c.JSON(status, body)
		return
	}

	if err := h.audit.LogBookingCreated(c.Request.Context(), requestMeta(c), resp, req.IdempotencyKey); err != nil {
		logAuditError(h.logger, "LogBookingCreated", err)
	}

	status := http.StatusCreated
	if resp.Existing {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// Verify handles GET /api/v1/booking/verify?session_id=|booking_id=
// @Summary Read the booking's saga state
// @Tags Booking
// @Produce json
// @Param session_id query string false "Checkout session reference"
// @Param booking_id query string false "Booking id"
// @Success 200 {object} models.BookingStatusView
// @Failure 404 {object} ErrorResponse
// @Router /booking/verify [get]
func (h *BookingHandler) Verify(c *gin.Context) {
	q := models.VerifyQuery{SessionID: c.Query("session_id")}
	if raw := c.Query("booking_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, h.logger, apperr.Invalid("booking_id", "must be a UUID"))
			return
		}
		q.BookingID = &id
	}

	view, err := h.status.Verify(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !view.Terminal {
		c.Header("Retry-After", strconv.Itoa(int(h.pollInterval/time.Second)))
	}
	c.JSON(http.StatusOK, view)
}
