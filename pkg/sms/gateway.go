package sms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrInvalidRecipient is returned when a number cannot be sent to
var ErrInvalidRecipient = errors.New("invalid SMS recipient")

// Gateway sends a text message to one buyer
type Gateway interface {
	// Send delivers message to an E.164 number
	Send(ctx context.Context, to, message string) error

	// Name returns the name of the SMS gateway implementation
	Name() string
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// FormatRecipient converts an E.164 number to the digits-only form the API expects.
// Input: "+14155550123" or "+94 77 123 4567"
// Output: "14155550123", "94771234567"
func FormatRecipient(phone string) (string, error) {
	trimmed := strings.TrimSpace(phone)
	if !strings.HasPrefix(trimmed, "+") {
		return "", fmt.Errorf("%w: %q has no country code", ErrInvalidRecipient, phone)
	}

	digits := nonDigits.ReplaceAllString(trimmed, "")
	if len(digits) < 8 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %d digits (expected 8 to 15)", ErrInvalidRecipient, len(digits))
	}
	return digits, nil
}

// LogGateway writes messages to the log instead of sending them (SMS_MODE=dev)
type LogGateway struct {
	logger *logrus.Logger
}

// NewLogGateway creates a LogGateway
func NewLogGateway(logger *logrus.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// Send logs the message
func (g *LogGateway) Send(_ context.Context, to, message string) error {
	recipient, err := FormatRecipient(to)
	if err != nil {
		return err
	}
	g.logger.WithFields(logrus.Fields{
		"to":      recipient,
		"message": message,
	}).Info("SMS (dev mode, not sent)")
	return nil
}

// Name returns the name of this SMS gateway
func (g *LogGateway) Name() string {
	return "log"
}
