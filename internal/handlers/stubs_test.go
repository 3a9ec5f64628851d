package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/internal/services"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func serveWithToken(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type stubIssuer struct{ key string }

func (s stubIssuer) Issue() string { return s.key }

type stubValidator struct {
	outcome *services.ValidationOutcome
	err     error
	got     *models.ValidatePrebookingRequest
}

func (s *stubValidator) Validate(_ context.Context, req *models.ValidatePrebookingRequest) (*services.ValidationOutcome, error) {
	s.got = req
	return s.outcome, s.err
}

type stubResolver struct {
	res       *services.Resolution
	err       error
	decisions []services.Decision
}

func (s *stubResolver) Resolve(_ context.Context, _ string, d services.Decision) (*services.Resolution, error) {
	s.decisions = append(s.decisions, d)
	return s.res, s.err
}

type stubCreator struct {
	resp *models.CreateProvisionalBookingResponse
	err  error
	got  *models.CreateProvisionalBookingRequest
}

func (s *stubCreator) CreateProvisionalBooking(_ context.Context, req *models.CreateProvisionalBookingRequest) (*models.CreateProvisionalBookingResponse, error) {
	s.got = req
	return s.resp, s.err
}

type stubVerifier struct {
	view *models.BookingStatusView
	err  error
	got  models.VerifyQuery
}

func (s *stubVerifier) Verify(_ context.Context, q models.VerifyQuery) (*models.BookingStatusView, error) {
	s.got = q
	return s.view, s.err
}

// recordingAuditor implements both BuyerAuditor and OperatorAuditor
type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
	metas   []services.RequestMeta
	err     error
	events  []services.AuditLogEntry
}

func (a *recordingAuditor) record(meta services.RequestMeta, action string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	a.metas = append(a.metas, meta)
	return a.err
}

func (a *recordingAuditor) LogAttempt(_ context.Context, meta services.RequestMeta, action, _ string, _ map[string]interface{}) error {
	return a.record(meta, action)
}

func (a *recordingAuditor) LogBookingCreated(_ context.Context, meta services.RequestMeta, _ *models.CreateProvisionalBookingResponse, _ string) error {
	return a.record(meta, services.AuditActionBookingCreated)
}

func (a *recordingAuditor) LogOperatorLogin(_ context.Context, meta services.RequestMeta, _ string, _ *uuid.UUID, success bool, _ string) error {
	if success {
		return a.record(meta, services.AuditActionOperatorLogin)
	}
	return a.record(meta, services.AuditActionOperatorLoginFail)
}

func (a *recordingAuditor) Log(_ context.Context, meta services.RequestMeta, event services.AuditEvent) error {
	return a.record(meta, event.Action)
}

func (a *recordingAuditor) GetEntityEvents(_ context.Context, _ uuid.UUID, _ int) ([]services.AuditLogEntry, error) {
	return a.events, nil
}

type stubReceiver struct {
	result   *models.IngestResult
	err      error
	provider string
	body     []byte
}

func (s *stubReceiver) Receive(_ context.Context, provider string, body []byte, _ http.Header) (*models.IngestResult, error) {
	s.provider = provider
	s.body = body
	return s.result, s.err
}
