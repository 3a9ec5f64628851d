package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/smarttransit/booking-saga/internal/models"
)

const operatorColumns = `id, email, password_hash, full_name, is_active, last_login_at, created_at, updated_at`

// OperatorRepository handles back-office operator accounts
type OperatorRepository struct {
	db *sqlx.DB
}

// NewOperatorRepository creates a new operator repository
func NewOperatorRepository(db *sqlx.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// GetByEmail retrieves an operator by email, or nil when there is none
func (r *OperatorRepository) GetByEmail(ctx context.Context, email string) (*models.Operator, error) {
	var op models.Operator
	err := r.db.GetContext(ctx, &op, `SELECT `+operatorColumns+` FROM operators WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return &op, nil
}

// Create inserts a new operator, or updates the password of an existing email
func (r *OperatorRepository) Create(ctx context.Context, op *models.Operator) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}

	query := `
		INSERT INTO operators (id, email, password_hash, full_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, full_name = EXCLUDED.full_name, updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		op.ID, op.Email, op.PasswordHash, op.FullName, op.IsActive,
	).Scan(&op.ID, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last login timestamp
func (r *OperatorRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE operators
		SET last_login_at = $1, updated_at = $1
		WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}
