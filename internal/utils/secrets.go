package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DeploymentSecrets are the values a new deployment must generate once
type DeploymentSecrets struct {
	JWTSecret         string
	WebhookSecret     string
	OperatorBootstrap string
}

// GenerateDeploymentSecrets generates the JWT signing key, a shared secret for
// gateways configured with one, and a first operator password
func GenerateDeploymentSecrets() (*DeploymentSecrets, error) {
	jwtSecret, err := GenerateSecret(32) // 256-bit
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	webhookSecret, err := GenerateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	password, err := GenerateSecret(12)
	if err != nil {
		return nil, fmt.Errorf("failed to generate operator password: %w", err)
	}
	return &DeploymentSecrets{
		JWTSecret:         jwtSecret,
		WebhookSecret:     webhookSecret,
		OperatorBootstrap: password,
	}, nil
}
