// Package events records download analytics.
package events

import (
	"context"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, e *models.DownloadEvent) error
}
