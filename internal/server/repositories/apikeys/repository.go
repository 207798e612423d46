// Package apikeys persists programmatic credentials by their digest.
package apikeys

import (
	"context"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByHash(ctx context.Context, hash string) (*models.APIKey, error)
	ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	RecordUsage(ctx context.Context, id string, now time.Time) error
	Deactivate(ctx context.Context, id, userID string) error
}
