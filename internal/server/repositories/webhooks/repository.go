// Package webhooks persists outbound notification endpoints.
package webhooks

import (
	"context"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, hook *models.Webhook) error
	ListByUser(ctx context.Context, userID string) ([]*models.Webhook, error)
	Delete(ctx context.Context, id, userID string) error
}
