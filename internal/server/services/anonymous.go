package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/logging"
	"github.com/dmitrijs2005/flyfile/internal/server/credentials"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
	"github.com/dmitrijs2005/flyfile/internal/server/notify"
	"github.com/dmitrijs2005/flyfile/internal/server/ratelimit"
	"github.com/dmitrijs2005/flyfile/internal/server/repositories/repomanager"
)

const (
	otpDigits      = 6
	otpTTL         = 10 * time.Minute
	otpMaxAttempts = 5
)

// AnonymousService verifies sender emails for transfers created without an
// account and enforces the fixed anonymous limits over a rolling window.
type AnonymousService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	limiter     RateLimiter
	queue       TaskQueue
	mailer      notify.Sender
	logger      logging.Logger
	now         func() time.Time
}

func NewAnonymousService(db *sql.DB, rm repomanager.RepositoryManager, limiter RateLimiter, queue TaskQueue, mailer notify.Sender, logger logging.Logger) *AnonymousService {
	return &AnonymousService{
		db:          db,
		repomanager: rm,
		limiter:     limiter,
		queue:       queue,
		mailer:      mailer,
		logger:      logger,
		now:         time.Now,
	}
}

// RequestCode emails a fresh verification code to the sender, replacing any
// earlier one.
func (s *AnonymousService) RequestCode(ctx context.Context, email string) error {
	email, err := common.NormalizeEmail(email)
	if err != nil {
		return err
	}

	d, err := s.limiter.Allow(ctx, ratelimit.BucketOTP, email)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return d.Err()
	}

	code, err := credentials.GenerateNumericCode(otpDigits)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	err = s.repomanager.OTPs(s.db).Upsert(ctx, &models.OneTimeCode{
		Purpose:   models.OTPAnonymousSender,
		Subject:   email,
		CodeHash:  credentials.HashCode(code),
		ExpiresAt: s.now().Add(otpTTL),
	})
	if err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	msg := notify.VerificationCode(email, code, int(otpTTL/time.Minute))
	if !s.queue.Submit("anonymous-otp", func(ctx context.Context) error { return s.mailer.Send(ctx, msg) }) {
		s.logger.Warn(ctx, "verification email dropped", "email", email)
	}
	return nil
}

// VerifyCode checks a code. Expired codes and exhausted attempt budgets
// delete the stored code so it cannot be retried.
func (s *AnonymousService) VerifyCode(ctx context.Context, email, code string) error {
	email, err := common.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if len(code) != otpDigits {
		return common.Validationf("code must be %d digits", otpDigits)
	}

	repo := s.repomanager.OTPs(s.db)
	rec, err := repo.Get(ctx, models.OTPAnonymousSender, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrInvalidCredentials
		}
		return err
	}

	now := s.now()
	if now.After(rec.ExpiresAt) {
		if err := repo.Delete(ctx, models.OTPAnonymousSender, email); err != nil {
			s.logger.Warn(ctx, "failed to delete expired code", "email", email, "error", err)
		}
		return fmt.Errorf("%w: verification code", common.ErrExpired)
	}

	if !credentials.CompareCode(code, rec.CodeHash) {
		attempts, err := repo.IncrementAttempts(ctx, models.OTPAnonymousSender, email)
		if err != nil {
			return err
		}
		if attempts >= otpMaxAttempts {
			if err := repo.Delete(ctx, models.OTPAnonymousSender, email); err != nil {
				s.logger.Warn(ctx, "failed to delete exhausted code", "email", email, "error", err)
			}
			return common.ErrTooManyAttempts
		}
		return common.ErrInvalidCredentials
	}

	if err := repo.Delete(ctx, models.OTPAnonymousSender, email); err != nil {
		return err
	}
	return s.repomanager.AnonymousSenders(s.db).MarkVerified(ctx, email, now)
}

// CheckSender returns the sender record when email may create another
// anonymous transfer, resetting the usage window first if it has elapsed.
func (s *AnonymousService) CheckSender(ctx context.Context, email string) (*models.AnonymousSender, error) {
	email, err := common.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.AnonymousSenders(s.db)
	sender, err := repo.Get(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: sender email is not verified", common.ErrForbidden)
		}
		return nil, err
	}

	now := s.now()
	if !sender.IsVerified(now) {
		return nil, fmt.Errorf("%w: sender email is not verified", common.ErrForbidden)
	}

	if sender.WindowElapsed(now) {
		if _, err := repo.ResetWindowIfElapsed(ctx, email, now); err != nil {
			return nil, err
		}
		if sender, err = repo.Get(ctx, email); err != nil {
			return nil, err
		}
	}

	if sender.MonthlyTransfersUsed >= models.AnonymousMaxTransfers {
		return nil, fmt.Errorf("%w: anonymous transfer limit of %d reached", common.ErrQuotaExceeded, models.AnonymousMaxTransfers)
	}
	return sender, nil
}

// CheckSenderBytes is the advisory storage check for an anonymous upload.
func CheckSenderBytes(sender *models.AnonymousSender, size int64) error {
	if sender.MonthlyQuotaUsed+size > models.AnonymousMaxBytes {
		return fmt.Errorf("%w: anonymous storage limit of %d bytes reached", common.ErrQuotaExceeded, models.AnonymousMaxBytes)
	}
	return nil
}
