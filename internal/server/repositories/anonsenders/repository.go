// Package anonsenders persists verification state and rolling usage of
// email addresses that send without an account.
package anonsenders

import (
	"context"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, email string) (*models.AnonymousSender, error)
	MarkVerified(ctx context.Context, email string, now time.Time) error
	ResetWindowIfElapsed(ctx context.Context, email string, now time.Time) (bool, error)
	AddUsage(ctx context.Context, email string, bytes int64, transfers int) error
}
