package events

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/flyfile/internal/dbx"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.DownloadEvent) error {
	query := `
		INSERT INTO download_events (transfer_id, file_id, owner_id, ip_hash, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query, e.TransferID, e.FileID, e.OwnerID, e.IPHash, e.UserAgent, e.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
