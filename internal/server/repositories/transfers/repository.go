// Package transfers persists transfer records.
package transfers

import (
	"context"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.Transfer) error
	GetByID(ctx context.Context, id string) (*models.Transfer, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Transfer, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Transfer, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	Activate(ctx context.Context, id string, totalSize int64, fileCount int) (bool, error)
	AdjustTotals(ctx context.Context, id string, sizeDelta int64, countDelta int) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	IncrementDownloads(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (*models.Transfer, error)
}
