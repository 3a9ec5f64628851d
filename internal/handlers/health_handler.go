package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// HealthHandler reports the health of the database and the quote store
type HealthHandler struct {
	checks  map[string]HealthCheck
	version string
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. A nil check is skipped.
func NewHealthHandler(version string, checks map[string]HealthCheck) *HealthHandler {
	filtered := make(map[string]HealthCheck, len(checks))
	for name, check := range checks {
		if check != nil {
			filtered[name] = check
		}
	}
	return &HealthHandler{checks: filtered, version: version, timeout: 3 * time.Second}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"version":   h.version,
		"timestamp": time.Now().Unix(),
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body[name] = "unhealthy"
			body[name+"_error"] = err.Error()
			continue
		}
		body[name] = "healthy"
	}
	c.JSON(status, body)
}
