package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
)

// maxWebhookBody caps the size of one webhook delivery
const maxWebhookBody = 256 << 10

// WebhookReceiver verifies and ingests a provider delivery
type WebhookReceiver interface {
	Receive(ctx context.Context, provider string, body []byte, headers http.Header) (*models.IngestResult, error)
}

// WebhookHandler accepts payment provider notifications
type WebhookHandler struct {
	receiver WebhookReceiver
	logger   *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(receiver WebhookReceiver, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{receiver: receiver, logger: logger}
}

// Receive handles POST /api/v1/payments/webhook/:provider.
// 2xx acknowledges the delivery. A 5xx asks the provider to redeliver, which
// is only returned when nothing was recorded for the event.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": "payload too large"})
		return
	}

	result, err := h.receiver.Receive(c.Request.Context(), provider, body, c.Request.Header)
	if err != nil {
		log := h.logger.WithError(err).WithFields(logrus.Fields{
			"provider": provider,
			"code":     apperr.Kind(err),
		})
		switch {
		case errors.Is(err, apperr.ErrInvalidSignature), errors.Is(err, apperr.ErrValidation):
			log.Warn("Webhook delivery refused")
			c.JSON(http.StatusBadRequest, errorBody(err))
		case errors.Is(err, apperr.ErrNotFound):
			c.JSON(http.StatusNotFound, errorBody(err))
		default:
			log.Error("Webhook not processed, provider will redeliver")
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "code": apperr.Kind(err), "error": "retry later"})
		}
		return
	}

	h.logger.WithFields(logrus.Fields{
		"provider":   provider,
		"outcome":    result.Outcome,
		"booking_id": result.BookingID,
	}).Info("Webhook acknowledged")
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"outcome": result.Outcome,
		"status":  result.Status,
	})
}
