package transfers

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

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, public_id, owner_id, sender_email, title, message, recipient_email,
	delivery_method, password_hash, status, total_size, file_count, download_count,
	is_encrypted, source, expires_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(s scanner) (*models.Transfer, error) {
	var (
		t           models.Transfer
		ownerID     sql.NullString
		senderEmail sql.NullString
	)
	err := s.Scan(&t.ID, &t.PublicID, &ownerID, &senderEmail, &t.Title, &t.Message, &t.RecipientEmail,
		&t.DeliveryMethod, &t.PasswordHash, &t.Status, &t.TotalSize, &t.FileCount, &t.DownloadCount,
		&t.IsEncrypted, &t.Source, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.OwnerID = ownerID.String
	t.SenderEmail = senderEmail.String
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts t and fills in its generated id and timestamps.
func (r *PostgresRepository) Create(ctx context.Context, t *models.Transfer) error {
	query := `
		INSERT INTO transfers (public_id, owner_id, sender_email, title, message, recipient_email,
			delivery_method, password_hash, status, is_encrypted, source, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		t.PublicID, nullString(t.OwnerID), nullString(t.SenderEmail), t.Title, t.Message, t.RecipientEmail,
		t.DeliveryMethod, t.PasswordHash, t.Status, t.IsEncrypted, t.Source, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.Transfer, error) {
	query := `SELECT ` + columns + ` FROM transfers WHERE ` + where
	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select transfer: %w", err)
	}
	return t, nil
}

// GetByID returns a transfer by internal id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Transfer, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByPublicID returns a transfer by its share-link id.
func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*models.Transfer, error) {
	return r.getOne(ctx, `public_id = $1`, publicID)
}

// ListByOwner returns the owner's transfers, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Transfer, error) {
	query := `SELECT ` + columns + ` FROM transfers WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select transfers: %w", err)
	}
	defer rows.Close()

	var result []*models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListExpired returns up to limit ids of transfers whose expiry is before now,
// oldest first.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM transfers WHERE expires_at < $1 ORDER BY expires_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired transfers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Activate moves a pending transfer to active and records its totals.
// It reports false when the transfer was not pending, so a repeated
// confirmation changes nothing.
func (r *PostgresRepository) Activate(ctx context.Context, id string, totalSize int64, fileCount int) (bool, error) {
	query := `
		UPDATE transfers SET status = 'active', total_size = $2, file_count = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, totalSize, fileCount)
	if err != nil {
		return false, fmt.Errorf("failed to activate transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// AdjustTotals shifts total_size and file_count, never below zero.
func (r *PostgresRepository) AdjustTotals(ctx context.Context, id string, sizeDelta int64, countDelta int) error {
	query := `
		UPDATE transfers
		SET total_size = GREATEST(total_size + $2, 0), file_count = GREATEST(file_count + $3, 0), updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, sizeDelta, countDelta); err != nil {
		return fmt.Errorf("failed to adjust transfer totals: %w", err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored password hash.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	query := `UPDATE transfers SET password_hash = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}

// IncrementDownloads bumps the download counter.
func (r *PostgresRepository) IncrementDownloads(ctx context.Context, id string) error {
	query := `UPDATE transfers SET download_count = download_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}
	return nil
}

// Delete removes the transfer row and returns what was deleted. Exactly one
// concurrent caller gets the row; the others get common.ErrNotFound.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (*models.Transfer, error) {
	query := `DELETE FROM transfers WHERE id = $1 RETURNING ` + columns
	t, err := scanTransfer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete transfer: %w", err)
	}
	return t, nil
}
