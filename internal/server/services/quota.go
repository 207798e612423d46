package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
)

// QuotaService owns account records and their plan limits. Counter changes
// themselves happen in the lifecycle operations through
// users.Repository.ApplyUsage, inside the same transaction as the state
// change that causes them.
type QuotaService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewQuotaService(db *sql.DB, rm repomanager.RepositoryManager) *QuotaService {
	return &QuotaService{db: db, repomanager: rm}
}

// EnsureAccount returns the account of an authenticated caller, creating the
// row with free-plan limits on first sight.
func (s *QuotaService) EnsureAccount(ctx context.Context, id *access.Identity) (*models.User, error) {
	if err := access.RequireAccount(id); err != nil {
		return nil, err
	}
	repo := s.repomanager.Users(s.db)
	if err := repo.CreateIfMissing(ctx, &models.User{ID: id.UserID, Email: id.Email, Plan: models.PlanFree}); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return repo.Get(ctx, id.UserID)
}

// Usage returns the quota snapshot of the caller.
func (s *QuotaService) Usage(ctx context.Context, id *access.Identity) (*models.Usage, error) {
	u, err := s.EnsureAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.Usage{
		Plan:                u.Plan,
		StorageUsed:         u.StorageUsed,
		StorageLimit:        u.StorageLimit,
		MonthlyTransfers:    u.MonthlyTransfers,
		MaxMonthlyTransfers: u.MaxMonthlyTransfers,
		FilesCount:          u.FilesCount,
		RetentionDays:       u.RetentionDays,
	}, nil
}

// CheckStorage is an advisory check made before an upload starts.
// Concurrent uploads can overshoot the limit slightly.
func CheckStorage(u *models.User, size int64) error {
	if u.StorageLimit != models.Unlimited && u.StorageUsed+size > u.StorageLimit {
		return fmt.Errorf("%w: storage limit of %d bytes reached", common.ErrQuotaExceeded, u.StorageLimit)
	}
	return nil
}

// CheckTransfers is an advisory check made before a transfer is created.
func CheckTransfers(u *models.User) error {
	if u.MaxMonthlyTransfers != models.Unlimited && u.MonthlyTransfers >= u.MaxMonthlyTransfers {
		return fmt.Errorf("%w: monthly transfer limit of %d reached", common.ErrQuotaExceeded, u.MaxMonthlyTransfers)
	}
	return nil
}
