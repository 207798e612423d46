// Package users persists account records and their usage counters.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	CreateIfMissing(ctx context.Context, user *models.User) error
	ApplyUsage(ctx context.Context, id string, delta models.UsageDelta) error
	SetBillingCustomerIfEmpty(ctx context.Context, id, customerID string) error
	ResetMonthlyUsage(ctx context.Context, now, before time.Time) (int64, error)
}
