package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

// HTTPGateway sends SMS through a token-authenticated bulk SMS API
type HTTPGateway struct {
	apiURL   string
	username string
	password string
	mask     string
	client   *http.Client
	clock    clock.Clock
	logger   *logrus.Logger

	// Token management
	token       string
	tokenMutex  sync.RWMutex
	tokenExpiry time.Time
}

// HTTPConfig holds configuration for the HTTP SMS gateway
type HTTPConfig struct {
	APIURL   string
	Username string
	Password string
	Mask     string
}

// NewHTTPGateway creates a new HTTP SMS gateway client
func NewHTTPGateway(config HTTPConfig, clk clock.Clock, logger *logrus.Logger) *HTTPGateway {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &HTTPGateway{
		apiURL:   config.APIURL,
		username: config.Username,
		password: config.Password,
		mask:     config.Mask,
		clock:    clk,
		logger:   logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// LoginRequest represents the login request structure
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents the login response structure
type LoginResponse struct {
	Status     string `json:"status"`
	Comment    string `json:"comment"`
	Token      string `json:"token"`
	Expiration int    `json:"expiration"` // Token expiry in seconds
	ErrCode    string `json:"errCode"`
}

// Recipient represents a single SMS recipient
type Recipient struct {
	Mobile string `json:"mobile"`
}

// SendRequest represents the SMS sending request structure
type SendRequest struct {
	MSISDN        []Recipient `json:"msisdn"`
	Message       string      `json:"message"`
	SourceAddress string      `json:"sourceAddress,omitempty"`
	TransactionID int64       `json:"transaction_id"`
}

// SendResponse represents the SMS sending response structure
type SendResponse struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Data    struct {
		CampaignID   int     `json:"campaignId"`
		CampaignCost float64 `json:"campaignCost"`
	} `json:"data"`
	ErrCode string `json:"errCode"`
}

// login retrieves a fresh access token
func (g *HTTPGateway) login(ctx context.Context) error {
	var loginResp LoginResponse
	if err := g.post(ctx, "/login", "", LoginRequest{Username: g.username, Password: g.password}, &loginResp); err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	if loginResp.Status != "success" {
		return fmt.Errorf("login failed: %s (error code: %s)", loginResp.Comment, loginResp.ErrCode)
	}

	g.tokenMutex.Lock()
	g.token = loginResp.Token
	g.tokenExpiry = g.clock.Now().Add(time.Duration(loginResp.Expiration) * time.Second)
	g.tokenMutex.Unlock()

	g.logger.WithField("expires_in", loginResp.Expiration).Debug("SMS gateway token refreshed")
	return nil
}

// isTokenValid checks if the current token is still valid
func (g *HTTPGateway) isTokenValid() bool {
	g.tokenMutex.RLock()
	defer g.tokenMutex.RUnlock()

	if g.token == "" {
		return false
	}

	// Consider token invalid 5 minutes before actual expiry
	return g.clock.Now().Before(g.tokenExpiry.Add(-5 * time.Minute))
}

func (g *HTTPGateway) accessToken(ctx context.Context) (string, error) {
	if !g.isTokenValid() {
		if err := g.login(ctx); err != nil {
			return "", err
		}
	}
	g.tokenMutex.RLock()
	defer g.tokenMutex.RUnlock()
	return g.token, nil
}

// Send delivers message to one number
func (g *HTTPGateway) Send(ctx context.Context, to, message string) error {
	recipient, err := FormatRecipient(to)
	if err != nil {
		return err
	}

	token, err := g.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req := SendRequest{
		MSISDN:        []Recipient{{Mobile: recipient}},
		Message:       message,
		SourceAddress: g.mask,
		TransactionID: g.clock.Now().UnixMicro(),
	}

	var resp SendResponse
	if err := g.post(ctx, "/sms", token, req, &resp); err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("SMS sending failed: %s (error code: %s)", resp.Comment, resp.ErrCode)
	}

	g.logger.WithFields(logrus.Fields{
		"transaction_id": req.TransactionID,
		"campaign_id":    resp.Data.CampaignID,
	}).Info("SMS sent")
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, path, token string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("SMS API returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// Name returns the name of this SMS gateway
func (g *HTTPGateway) Name() string {
	return "http"
}
