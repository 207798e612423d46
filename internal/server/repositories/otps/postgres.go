package otps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/dbx"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert stores a fresh code, replacing any earlier code for the same
// purpose and subject and resetting its attempt counter.
func (r *PostgresRepository) Upsert(ctx context.Context, code *models.OneTimeCode) error {
	query := `
		INSERT INTO otps (purpose, subject, code_hash, attempts, expires_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (purpose, subject)
		DO UPDATE SET code_hash = EXCLUDED.code_hash, attempts = 0,
			expires_at = EXCLUDED.expires_at, created_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, code.Purpose, code.Subject, code.CodeHash, code.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, purpose models.OTPPurpose, subject string) (*models.OneTimeCode, error) {
	query := `
		SELECT purpose, subject, code_hash, attempts, expires_at, created_at
		FROM otps WHERE purpose = $1 AND subject = $2
	`
	var c models.OneTimeCode
	err := r.db.QueryRowContext(ctx, query, purpose, subject).Scan(
		&c.Purpose, &c.Subject, &c.CodeHash, &c.Attempts, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select code: %w", err)
	}
	return &c, nil
}

// IncrementAttempts records a failed guess and returns the new count.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, purpose models.OTPPurpose, subject string) (int, error) {
	query := `
		UPDATE otps SET attempts = attempts + 1
		WHERE purpose = $1 AND subject = $2
		RETURNING attempts
	`
	var attempts int
	if err := r.db.QueryRowContext(ctx, query, purpose, subject).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, purpose models.OTPPurpose, subject string) error {
	query := `DELETE FROM otps WHERE purpose = $1 AND subject = $2`
	if _, err := r.db.ExecContext(ctx, query, purpose, subject); err != nil {
		return fmt.Errorf("failed to delete code: %w", err)
	}
	return nil
}
