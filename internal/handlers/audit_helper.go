package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/middleware"
	"github.com/smarttransit/booking-saga/internal/services"
	"github.com/smarttransit/booking-saga/internal/utils"
)

// logAuditError logs an audit write failure without failing the request
func logAuditError(logger *logrus.Logger, operation string, err error) {
	if err != nil {
		logger.WithError(err).WithField("operation", operation).Warn("Audit write failed")
	}
}

// requestMeta identifies the caller of c
func requestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{
		UserID:    middleware.UserID(c),
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	}
}

func (h *BookingHandler) safeLogAttempt(c *gin.Context, action, key string, details map[string]interface{}) {
	if err := h.audit.LogAttempt(c.Request.Context(), requestMeta(c), action, key, details); err != nil {
		logAuditError(h.logger, "LogAttempt", err)
	}
}

func (h *AdminHandler) safeLogOperatorLogin(c *gin.Context, email string, operatorID *uuid.UUID, success bool, reason string) {
	if err := h.audit.LogOperatorLogin(c.Request.Context(), requestMeta(c), email, operatorID, success, reason); err != nil {
		logAuditError(h.logger, "LogOperatorLogin", err)
	}
}

func (h *AdminHandler) safeLogReconcile(c *gin.Context, details map[string]interface{}) {
	if err := h.audit.Log(c.Request.Context(), requestMeta(c), services.AuditEvent{
		Action:     services.AuditActionReconcileTriggered,
		EntityType: "operator",
		EntityID:   middleware.UserID(c),
		Details:    details,
	}); err != nil {
		logAuditError(h.logger, "Log", err)
	}
}
