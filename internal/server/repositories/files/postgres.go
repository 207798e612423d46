package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/dbx"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, transfer_id, owner_id, storage_key, name, mime_type, size,
	enc_algorithm, encrypted_key, nonce, status, download_count, created_at, updated_at`

const deletedColumns = `id, transfer_id, owner_id, storage_key, size, status`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var (
		f          models.File
		transferID sql.NullString
	)
	err := s.Scan(&f.ID, &transferID, &f.OwnerID, &f.StorageKey, &f.Name, &f.MimeType, &f.Size,
		&f.EncAlgorithm, &f.EncryptedKey, &f.Nonce, &f.Status, &f.DownloadCount, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.TransferID = transferID.String
	return &f, nil
}

func scanDeleted(s scanner) (*models.DeletedFile, error) {
	var (
		d          models.DeletedFile
		transferID sql.NullString
	)
	if err := s.Scan(&d.ID, &transferID, &d.OwnerID, &d.StorageKey, &d.Size, &d.Status); err != nil {
		return nil, err
	}
	d.TransferID = transferID.String
	return &d, nil
}

// Create inserts a pending file record and fills in its id and timestamps.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (transfer_id, owner_id, storage_key, name, mime_type, size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	transferID := sql.NullString{String: file.TransferID, Valid: file.TransferID != ""}
	err := r.db.QueryRowContext(ctx, query,
		transferID, file.OwnerID, file.StorageKey, file.Name, file.MimeType, file.Size, file.Status,
	).Scan(&file.ID, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns a file record.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + columns + ` FROM files WHERE id = $1`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return f, nil
}

// ListByTransfer returns the files of a transfer in upload order.
func (r *PostgresRepository) ListByTransfer(ctx context.Context, transferID string) ([]*models.File, error) {
	query := `SELECT ` + columns + ` FROM files WHERE transfer_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUploaded flips a pending file to completed. It reports false when the
// file was already completed, which makes confirmation idempotent.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, id string) (bool, error) {
	query := `UPDATE files SET status = 'completed', updated_at = now() WHERE id = $1 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark uploaded: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	switch ra {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("wrong rows affected count: %d", ra)
	}
}

// MarkTransferUploaded completes every still-pending file of a transfer and
// returns the size and count of the files it flipped.
func (r *PostgresRepository) MarkTransferUploaded(ctx context.Context, transferID string) (int64, int, error) {
	query := `
		UPDATE files SET status = 'completed', updated_at = now()
		WHERE transfer_id = $1 AND status = 'pending'
		RETURNING size
	`
	rows, err := r.db.QueryContext(ctx, query, transferID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to mark transfer files uploaded: %w", err)
	}
	defer rows.Close()

	var (
		total int64
		count int
	)
	for rows.Next() {
		var size int64
		if err := rows.Scan(&size); err != nil {
			return 0, 0, err
		}
		total += size
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	return total, count, nil
}

// CompletedTotals sums the completed files of a transfer.
func (r *PostgresRepository) CompletedTotals(ctx context.Context, transferID string) (int64, int, error) {
	query := `SELECT COALESCE(SUM(size), 0), COUNT(*) FROM files WHERE transfer_id = $1 AND status = 'completed'`
	var (
		total int64
		count int
	)
	if err := r.db.QueryRowContext(ctx, query, transferID).Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to sum files: %w", err)
	}
	return total, count, nil
}

// SetEncryption points a pending file at its encrypted blob. The update
// only applies while the file still references prevStorageKey; a concurrent
// upload that got there first yields common.ErrVersionConflict.
func (r *PostgresRepository) SetEncryption(ctx context.Context, id, prevStorageKey string, c models.EncryptedContent) error {
	query := `
		UPDATE files SET storage_key = $3, enc_algorithm = $4, encrypted_key = $5, nonce = $6, size = $7, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND storage_key = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, prevStorageKey, c.StorageKey, c.Algorithm, c.WrappedKey, c.Nonce, c.Size)
	if err != nil {
		return fmt.Errorf("failed to store encryption metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrVersionConflict
	}
	return nil
}

// IncrementDownloads bumps the download counter.
func (r *PostgresRepository) IncrementDownloads(ctx context.Context, id string) error {
	query := `UPDATE files SET download_count = download_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}
	return nil
}

// Delete removes a file record. Only the caller whose DELETE removed the row
// gets it back; later callers get common.ErrNotFound.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (*models.DeletedFile, error) {
	query := `DELETE FROM files WHERE id = $1 RETURNING ` + deletedColumns
	d, err := scanDeleted(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete file: %w", err)
	}
	return d, nil
}

// DeleteByTransfer removes every file of a transfer and returns them.
func (r *PostgresRepository) DeleteByTransfer(ctx context.Context, transferID string) ([]*models.DeletedFile, error) {
	query := `DELETE FROM files WHERE transfer_id = $1 RETURNING ` + deletedColumns
	rows, err := r.db.QueryContext(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete files: %w", err)
	}
	defer rows.Close()

	var result []*models.DeletedFile
	for rows.Next() {
		d, err := scanDeleted(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
