package twofactor

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

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.TwoFactor, error) {
	query := `SELECT user_id, secret, enabled, last_step, created_at, updated_at FROM two_factor WHERE user_id = $1`
	var tf models.TwoFactor
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&tf.UserID, &tf.Secret, &tf.Enabled, &tf.LastStep, &tf.CreatedAt, &tf.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select two factor: %w", err)
	}
	return &tf, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, tf *models.TwoFactor) error {
	query := `
		INSERT INTO two_factor (user_id, secret, enabled, last_step)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET secret = EXCLUDED.secret, enabled = EXCLUDED.enabled,
			last_step = EXCLUDED.last_step, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, tf.UserID, tf.Secret, tf.Enabled, tf.LastStep); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// AdvanceStep records step as the newest accepted TOTP step. It returns
// false when an equal or newer step was already accepted, so a token
// verifies at most once even under concurrent calls.
func (r *PostgresRepository) AdvanceStep(ctx context.Context, userID string, step int64) (bool, error) {
	query := `UPDATE two_factor SET last_step = $2, updated_at = now() WHERE user_id = $1 AND last_step < $2`
	res, err := r.db.ExecContext(ctx, query, userID, step)
	if err != nil {
		return false, fmt.Errorf("failed to advance totp step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// Delete removes the enrolment. Backup codes go with it by cascade.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM two_factor WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete two factor: %w", err)
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

// ReplaceBackupCodes drops existing codes and stores the new digests. Run it
// inside a transaction.
func (r *PostgresRepository) ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear backup codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`, userID, h); err != nil {
			return fmt.Errorf("failed to insert backup code: %w", err)
		}
	}
	return nil
}

// ConsumeBackupCode deletes a matching code. A code can be consumed once.
func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = $1 AND code_hash = $2`, userID, hash)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_codes WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *models.TOTPSetupSession) error {
	query := `
		INSERT INTO totp_setup_sessions (user_id, secret, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query, s.UserID, s.Secret, s.ExpiresAt).Scan(&s.ID, &s.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*models.TOTPSetupSession, error) {
	query := `SELECT id, user_id, secret, expires_at, created_at FROM totp_setup_sessions WHERE id = $1`
	var s models.TOTPSetupSession
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.UserID, &s.Secret, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select setup session: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM totp_setup_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete setup session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM totp_setup_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
