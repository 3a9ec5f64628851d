package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/internal/services"
)

const (
	auditEventsLimit     = 100
	defaultMismatchLimit = 50
	maxMismatchLimit     = 500
)

// OperatorAuthenticator signs operators in
type OperatorAuthenticator interface {
	Login(ctx context.Context, email, password string) (*models.OperatorLoginResponse, error)
}

// JobRunner runs and reports the background saga jobs
type JobRunner interface {
	RunNow(ctx context.Context) (*services.SweepReport, *services.ReconcileReport, error)
	GetJobStatus() map[string]interface{}
}

// PaymentTrail reads the payment audit trail
type PaymentTrail interface {
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error)
	GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}

// OperatorAuditor records operator actions and reads the audit log
type OperatorAuditor interface {
	LogOperatorLogin(ctx context.Context, meta services.RequestMeta, email string, operatorID *uuid.UUID, success bool, reason string) error
	Log(ctx context.Context, meta services.RequestMeta, event services.AuditEvent) error
	GetEntityEvents(ctx context.Context, entityID uuid.UUID, limit int) ([]services.AuditLogEntry, error)
}

// AdminHandler serves the operator routes
type AdminHandler struct {
	auth   OperatorAuthenticator
	jobs   JobRunner
	trail  PaymentTrail
	audit  OperatorAuditor
	logger *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(auth OperatorAuthenticator, jobs JobRunner, trail PaymentTrail, audit OperatorAuditor, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		auth:   auth,
		jobs:   jobs,
		trail:  trail,
		audit:  audit,
		logger: logger,
	}
}

// Login handles operator login requests
// @Summary Operator login
// @Description Authenticate an operator and return an admin access token
// @Tags Admin
// @Accept json
// @Produce json
// @Param loginRequest body models.OperatorLoginRequest true "Login credentials"
// @Success 200 {object} models.OperatorLoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /admin/login [post]
func (h *AdminHandler) Login(c *gin.Context) {
	var req models.OperatorLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	response, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"email": req.Email,
			"error": err.Error(),
		}).Warn("Operator login failed")
		h.safeLogOperatorLogin(c, req.Email, nil, false, err.Error())

		if errors.Is(err, services.ErrInvalidCredentials) || errors.Is(err, services.ErrOperatorInactive) {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "code": "INVALID_CREDENTIALS", "error": err.Error()})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	id := response.Operator.ID
	h.safeLogOperatorLogin(c, req.Email, &id, true, "")
	h.logger.WithFields(logrus.Fields{
		"operator_id": id,
		"email":       response.Operator.Email,
	}).Info("Operator login successful")

	c.JSON(http.StatusOK, response)
}

// Reconcile runs the hold sweeper and the saga reconciler now
// @Summary Trigger sweep and reconcile
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /admin/reconcile [post]
func (h *AdminHandler) Reconcile(c *gin.Context) {
	sweep, reconcile, err := h.jobs.RunNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.safeLogReconcile(c, map[string]interface{}{
		"sweep":     sweep,
		"reconcile": reconcile,
	})
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"sweep":     sweep,
		"reconcile": reconcile,
	})
}

// Jobs reports the scheduled jobs
func (h *AdminHandler) Jobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.GetJobStatus())
}

// BookingAudit returns a booking's payment trail and buyer audit events
// @Summary Booking audit trail
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking id"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /admin/bookings/{id}/audit [get]
func (h *AdminHandler) BookingAudit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, apperr.Invalid("id", "must be a UUID"))
		return
	}

	payments, err := h.trail.GetByBookingID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	events, err := h.audit.GetEntityEvents(c.Request.Context(), id, auditEventsLimit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": id,
		"payments":   payments,
		"events":     events,
	})
}

// AmountMismatches lists charges whose amount differed from the booking, newest first
// @Summary Amount mismatches
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries (default 50, max 500)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /admin/payments/mismatches [get]
func (h *AdminHandler) AmountMismatches(c *gin.Context) {
	limit := defaultMismatchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxMismatchLimit {
			respondError(c, h.logger, apperr.Invalid("limit", "must be between 1 and 500"))
			return
		}
		limit = n
	}

	entries, err := h.trail.GetAmountMismatches(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.PaymentAudit{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":      len(entries),
		"mismatches": entries,
	})
}
