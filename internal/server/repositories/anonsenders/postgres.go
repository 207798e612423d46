package anonsenders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

func (r *PostgresRepository) Get(ctx context.Context, email string) (*models.AnonymousSender, error) {
	query := `
		SELECT email, monthly_quota_used, monthly_transfers_used, window_started_at, verified_at, created_at
		FROM anon_senders WHERE email = $1
	`
	var (
		a        models.AnonymousSender
		verified sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&a.Email, &a.MonthlyQuotaUsed, &a.MonthlyTransfersUsed, &a.WindowStartedAt, &verified, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select sender: %w", err)
	}
	if verified.Valid {
		a.VerifiedAt = &verified.Time
	}
	return &a, nil
}

// MarkVerified records a successful email verification, creating the sender
// on first use.
func (r *PostgresRepository) MarkVerified(ctx context.Context, email string, now time.Time) error {
	query := `
		INSERT INTO anon_senders (email, window_started_at, verified_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (email) DO UPDATE SET verified_at = EXCLUDED.verified_at
	`
	if _, err := r.db.ExecContext(ctx, query, email, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ResetWindowIfElapsed starts a fresh usage window when the current one is
// older than models.AnonymousWindow. It reports whether a reset happened.
func (r *PostgresRepository) ResetWindowIfElapsed(ctx context.Context, email string, now time.Time) (bool, error) {
	query := `
		UPDATE anon_senders
		SET monthly_quota_used = 0, monthly_transfers_used = 0, window_started_at = $2
		WHERE email = $1 AND window_started_at <= $3
	`
	res, err := r.db.ExecContext(ctx, query, email, now, now.Add(-models.AnonymousWindow))
	if err != nil {
		return false, fmt.Errorf("failed to reset window: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// AddUsage adjusts the window counters atomically, clamped at zero.
func (r *PostgresRepository) AddUsage(ctx context.Context, email string, bytes int64, transfers int) error {
	query := `
		UPDATE anon_senders SET
			monthly_quota_used = GREATEST(monthly_quota_used + $2, 0),
			monthly_transfers_used = GREATEST(monthly_transfers_used + $3, 0)
		WHERE email = $1
	`
	res, err := r.db.ExecContext(ctx, query, email, bytes, transfers)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
