package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/jwt"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrOperatorInactive is returned when a disabled operator signs in
var ErrOperatorInactive = errors.New("account is inactive")

// OperatorStore is the operator persistence used for sign-in
type OperatorStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Operator, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
}

// OperatorAuthService handles operator authentication for the admin routes
type OperatorAuthService struct {
	operators  OperatorStore
	jwtService *jwt.Service
	logger     *logrus.Logger
}

// NewOperatorAuthService creates a new operator auth service
func NewOperatorAuthService(operators OperatorStore, jwtService *jwt.Service, logger *logrus.Logger) *OperatorAuthService {
	return &OperatorAuthService{
		operators:  operators,
		jwtService: jwtService,
		logger:     logger,
	}
}

// Login authenticates an operator and returns an admin access token
func (s *OperatorAuthService) Login(ctx context.Context, email, password string) (*models.OperatorLoginResponse, error) {
	operator, err := s.operators.GetByEmail(ctx, email)
	if err != nil || operator == nil {
		return nil, ErrInvalidCredentials
	}

	if !operator.IsActive {
		return nil, ErrOperatorInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := s.jwtService.GenerateAccessToken(operator.ID, operator.Email, []string{jwt.RoleAdmin})
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	// Don't fail the login over bookkeeping
	if err := s.operators.UpdateLastLogin(ctx, operator.ID); err != nil {
		s.logger.WithError(err).WithField("operator_id", operator.ID).Warn("Failed to update last login")
	}

	return &models.OperatorLoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtService.Expiry().Seconds()),
		Operator:    operator,
	}, nil
}

// HashPassword hashes a password for storage in operators.password_hash
func HashPassword(password string) (string, error) {
	if len(password) < 12 {
		return "", fmt.Errorf("password must be at least 12 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
