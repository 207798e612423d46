// Package otps persists hashed one-time verification codes.
package otps

import (
	"context"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, code *models.OneTimeCode) error
	Get(ctx context.Context, purpose models.OTPPurpose, subject string) (*models.OneTimeCode, error)
	IncrementAttempts(ctx context.Context, purpose models.OTPPurpose, subject string) (int, error)
	Delete(ctx context.Context, purpose models.OTPPurpose, subject string) error
}
