package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// errorBody builds the failure body for err
func errorBody(err error) gin.H {
	body := gin.H{
		"ok":    false,
		"code":  apperr.Kind(err),
		"error": err.Error(),
	}
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}
	return body
}

// respondError writes err with its mapped status. Server faults are logged
// with the request path, and their details are not echoed to the client.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path": c.FullPath(),
			"code": body["code"],
		}).Error("Request failed")
		if status == http.StatusInternalServerError {
			body["error"] = "internal error"
		}
	}
	c.JSON(status, body)
}

// badRequest answers a request body that did not bind
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"ok":      false,
		"code":    "VALIDATION_ERROR",
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
