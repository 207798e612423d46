package users

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

// PostgresRepository implements user storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the user with the given id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, plan, is_admin, storage_used, storage_limit, monthly_transfers,
			max_monthly_transfers, files_count, retention_days, billing_customer_id,
			usage_reset_at, created_at, updated_at
		FROM users WHERE id = $1
	`
	var (
		u        models.User
		customer sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Plan, &u.Admin, &u.StorageUsed, &u.StorageLimit, &u.MonthlyTransfers,
		&u.MaxMonthlyTransfers, &u.FilesCount, &u.RetentionDays, &customer,
		&u.UsageResetAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select user: %w", err)
	}
	u.BillingCustomerID = customer.String
	return &u, nil
}

// CreateIfMissing inserts the account with the limits of its plan. An
// existing row is left untouched.
func (r *PostgresRepository) CreateIfMissing(ctx context.Context, user *models.User) error {
	limits := models.LimitsFor(user.Plan)
	plan := user.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	query := `
		INSERT INTO users (id, email, plan, is_admin, storage_limit, max_monthly_transfers, retention_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, plan, user.Admin, limits.StorageLimit, limits.MaxMonthlyTransfers, limits.RetentionDays)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ApplyUsage adds a signed delta to the counters in one statement. Counters
// are clamped at zero so a late decrement can never drive them negative.
func (r *PostgresRepository) ApplyUsage(ctx context.Context, id string, delta models.UsageDelta) error {
	if delta.IsZero() {
		return nil
	}
	query := `
		UPDATE users SET
			storage_used = GREATEST(storage_used + $2, 0),
			files_count = GREATEST(files_count + $3, 0),
			monthly_transfers = GREATEST(monthly_transfers + $4, 0),
			updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, delta.Storage, delta.Files, delta.Transfers)
	if err != nil {
		return fmt.Errorf("failed to apply usage: %w", err)
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

// SetBillingCustomerIfEmpty stores customerID only when no customer is
// linked yet. It returns common.ErrVersionConflict when another writer won.
func (r *PostgresRepository) SetBillingCustomerIfEmpty(ctx context.Context, id, customerID string) error {
	query := `
		UPDATE users SET billing_customer_id = $2, updated_at = now()
		WHERE id = $1 AND billing_customer_id IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, customerID)
	if err != nil {
		return fmt.Errorf("failed to set billing customer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("wrong rows affected count: %d", n)
	}
}

// ResetMonthlyUsage zeroes the monthly transfer counter of every account
// whose usage window started before the cutoff.
func (r *PostgresRepository) ResetMonthlyUsage(ctx context.Context, now, before time.Time) (int64, error) {
	query := `UPDATE users SET monthly_transfers = 0, usage_reset_at = $1 WHERE usage_reset_at < $2`
	res, err := r.db.ExecContext(ctx, query, now, before)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	return res.RowsAffected()
}
