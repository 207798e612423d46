// Package files persists file metadata records.
package files

import (
	"context"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
	ListByTransfer(ctx context.Context, transferID string) ([]*models.File, error)
	MarkUploaded(ctx context.Context, id string) (bool, error)
	MarkTransferUploaded(ctx context.Context, transferID string) (int64, int, error)
	CompletedTotals(ctx context.Context, transferID string) (int64, int, error)
	SetEncryption(ctx context.Context, id, prevStorageKey string, c models.EncryptedContent) error
	IncrementDownloads(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (*models.DeletedFile, error)
	DeleteByTransfer(ctx context.Context, transferID string) ([]*models.DeletedFile, error)
}
