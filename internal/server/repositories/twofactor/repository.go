// Package twofactor persists TOTP enrolments, their backup codes and
// pending setup sessions.
package twofactor

import (
	"context"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, userID string) (*models.TwoFactor, error)
	Upsert(ctx context.Context, tf *models.TwoFactor) error
	AdvanceStep(ctx context.Context, userID string, step int64) (bool, error)
	Delete(ctx context.Context, userID string) error

	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error
	ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error)
	CountBackupCodes(ctx context.Context, userID string) (int, error)

	CreateSession(ctx context.Context, s *models.TOTPSetupSession) error
	GetSession(ctx context.Context, id string) (*models.TOTPSetupSession, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
