package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/dbx"
	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/access"
	"github.com/dmitrijs2005/flyfile/internal/server/credentials"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/ratelimit"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
)

const setupSessionTTL = 10 * time.Minute

// TwoFactorSetup is a staged TOTP secret awaiting confirmation.
type TwoFactorSetup struct {
	SessionID string
	Secret    string
	URI       string
	ExpiresAt time.Time
}

// TwoFactorStatus describes an account's enrolment.
type TwoFactorStatus struct {
	Enabled     bool
	BackupCodes int
}

// TwoFactorService manages TOTP enrolment. Secrets are generated and staged
// server side; a client never supplies one.
type TwoFactorService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	limiter     RateLimiter
	issuer      string
	logger      logging.Logger
	now         func() time.Time
}

func NewTwoFactorService(db *sql.DB, rm repomanager.RepositoryManager, limiter RateLimiter, issuer string, logger logging.Logger) *TwoFactorService {
	return &TwoFactorService{
		db:          db,
		repomanager: rm,
		limiter:     limiter,
		issuer:      issuer,
		logger:      logger,
		now:         time.Now,
	}
}

// requireBearer limits credential management to signed-in users; API keys
// cannot manage credentials.
func requireBearer(id *access.Identity) error {
	if err := access.RequireAccount(id); err != nil {
		return err
	}
	if id.Method != access.MethodBearer {
		return common.ErrForbidden
	}
	return nil
}

// Status reports whether two-factor authentication is on and how many
// backup codes remain.
func (s *TwoFactorService) Status(ctx context.Context, id *access.Identity) (*TwoFactorStatus, error) {
	if err := requireBearer(id); err != nil {
		return nil, err
	}
	repo := s.repomanager.TwoFactor(s.db)
	tf, err := repo.Get(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return &TwoFactorStatus{}, nil
		}
		return nil, err
	}
	n, err := repo.CountBackupCodes(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{Enabled: tf.Enabled, BackupCodes: n}, nil
}

// Setup stages a new secret for the caller.
func (s *TwoFactorService) Setup(ctx context.Context, id *access.Identity) (*TwoFactorSetup, error) {
	if err := requireBearer(id); err != nil {
		return nil, err
	}
	repo := s.repomanager.TwoFactor(s.db)

	tf, err := repo.Get(ctx, id.UserID)
	switch {
	case err == nil && tf.Enabled:
		return nil, common.Validationf("two-factor authentication is already enabled")
	case err != nil && !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	account := id.Email
	if account == "" {
		account = id.UserID
	}
	secret, uri, err := credentials.GenerateTOTP(s.issuer, account)
	if err != nil {
		return nil, err
	}

	session := &models.TOTPSetupSession{UserID: id.UserID, Secret: secret, ExpiresAt: s.now().Add(setupSessionTTL)}
	if err := repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{SessionID: session.ID, Secret: secret, URI: uri, ExpiresAt: session.ExpiresAt}, nil
}

// Confirm enables two-factor authentication once the caller proves
// possession of the staged secret, and returns single-use backup codes.
// They are shown this once; only digests are kept.
func (s *TwoFactorService) Confirm(ctx context.Context, id *access.Identity, sessionID, token string) ([]string, error) {
	if err := requireBearer(id); err != nil {
		return nil, err
	}
	repo := s.repomanager.TwoFactor(s.db)

	session, err := repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != id.UserID {
		return nil, common.ErrForbidden
	}
	now := s.now()
	if now.After(session.ExpiresAt) {
		if err := repo.DeleteSession(ctx, sessionID); err != nil {
			s.logger.Warn(ctx, "failed to delete expired setup session", "session_id", sessionID, "error", err)
		}
		return nil, fmt.Errorf("%w: setup session", common.ErrExpired)
	}

	if err := s.budget(ctx, id.UserID); err != nil {
		return nil, err
	}
	step, ok := credentials.MatchTOTP(session.Secret, token, now)
	if !ok {
		s.recordFailure(ctx, id.UserID)
		return nil, common.ErrInvalidCredentials
	}

	codes, err := credentials.GenerateBackupCodes(credentials.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = credentials.HashCode(c)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := s.repomanager.TwoFactor(tx)
		if err := txRepo.Upsert(ctx, &models.TwoFactor{UserID: id.UserID, Secret: session.Secret, Enabled: true, LastStep: step}); err != nil {
			return err
		}
		if err := txRepo.ReplaceBackupCodes(ctx, id.UserID, hashes); err != nil {
			return err
		}
		return txRepo.DeleteSession(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}

	s.resetBudget(ctx, id.UserID)
	s.logger.Info(ctx, "two-factor enabled", "user_id", id.UserID)
	return codes, nil
}

// Verify checks a TOTP token or consumes a backup code. Both are single
// use. Failures count against a per-account budget.
func (s *TwoFactorService) Verify(ctx context.Context, id *access.Identity, code string) error {
	if err := requireBearer(id); err != nil {
		return err
	}
	if err := s.budget(ctx, id.UserID); err != nil {
		return err
	}

	repo := s.repomanager.TwoFactor(s.db)
	tf, err := repo.Get(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.Validationf("two-factor authentication is not enabled")
		}
		return err
	}
	if !tf.Enabled {
		return common.Validationf("two-factor authentication is not enabled")
	}

	var ok bool
	if credentials.IsTOTPToken(code) {
		// A token is accepted once: its step must be newer than the last one used.
		if step, matched := credentials.MatchTOTP(tf.Secret, code, s.now()); matched && step > tf.LastStep {
			if ok, err = repo.AdvanceStep(ctx, id.UserID, step); err != nil {
				return err
			}
		}
	} else {
		hash := credentials.HashCode(credentials.NormalizeBackupCode(code))
		if ok, err = repo.ConsumeBackupCode(ctx, id.UserID, hash); err != nil {
			return err
		}
	}
	if !ok {
		s.recordFailure(ctx, id.UserID)
		return common.ErrInvalidCredentials
	}

	s.resetBudget(ctx, id.UserID)
	return nil
}

// Disable turns two-factor authentication off after a successful Verify.
func (s *TwoFactorService) Disable(ctx context.Context, id *access.Identity, code string) error {
	if err := s.Verify(ctx, id, code); err != nil {
		return err
	}
	if err := s.repomanager.TwoFactor(s.db).Delete(ctx, id.UserID); err != nil {
		return err
	}
	s.logger.Info(ctx, "two-factor disabled", "user_id", id.UserID)
	return nil
}

func (s *TwoFactorService) budget(ctx context.Context, userID string) error {
	d, err := s.limiter.Peek(ctx, ratelimit.BucketTwoFactor, userID)
	if err != nil {
		return err
	}
	return d.Err()
}

func (s *TwoFactorService) recordFailure(ctx context.Context, userID string) {
	if _, err := s.limiter.Fail(ctx, ratelimit.BucketTwoFactor, userID); err != nil {
		s.logger.Warn(ctx, "failed to record two-factor failure", "user_id", userID, "error", err)
	}
}

func (s *TwoFactorService) resetBudget(ctx context.Context, userID string) {
	if err := s.limiter.Reset(ctx, ratelimit.BucketTwoFactor, userID); err != nil {
		s.logger.Warn(ctx, "failed to reset two-factor budget", "user_id", userID, "error", err)
	}
}
