package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

var codePattern = regexp.MustCompile(`code is (\d{6})`)

func requestCode(t *testing.T, f *fixture, email string) string {
	t.Helper()
	require.NoError(t, f.anon.RequestCode(context.Background(), email))
	m := codePattern.FindStringSubmatch(f.mailer.last().Body)
	require.Len(t, m, 2)
	return m[1]
}

func TestAnonymous_RequestAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := requestCode(t, f, "Sender@Example.com")
	assert.Equal(t, "sender@example.com", f.mailer.last().To)

	stored := f.st.otps[otpKey(models.OTPAnonymousSender, "sender@example.com")]
	require.NotNil(t, stored)
	assert.NotEqual(t, code, stored.CodeHash)

	require.NoError(t, f.anon.VerifyCode(ctx, "sender@example.com", code))
	assert.Empty(t, f.st.otps, "code is single use")

	sender, err := f.anon.CheckSender(ctx, "sender@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sender@example.com", sender.Email)

	err = f.anon.VerifyCode(ctx, "sender@example.com", code)
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestAnonymous_ExpiredCodeIsDeleted(t *testing.T) {
	f := newFixture(t)
	code := requestCode(t, f, "a@example.com")

	f.now = f.now.Add(otpTTL + time.Second)
	err := f.anon.VerifyCode(context.Background(), "a@example.com", code)
	require.ErrorIs(t, err, common.ErrExpired)
	assert.Empty(t, f.st.otps)
}

func TestAnonymous_AttemptsExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := requestCode(t, f, "a@example.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 1; i < otpMaxAttempts; i++ {
		require.ErrorIs(t, f.anon.VerifyCode(ctx, "a@example.com", wrong), common.ErrInvalidCredentials)
	}
	require.ErrorIs(t, f.anon.VerifyCode(ctx, "a@example.com", wrong), common.ErrTooManyAttempts)
	assert.Empty(t, f.st.otps)

	// even the right code is gone now
	require.ErrorIs(t, f.anon.VerifyCode(ctx, "a@example.com", code), common.ErrInvalidCredentials)
}

func TestAnonymous_Validation(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.anon.RequestCode(context.Background(), "nope"), common.ErrValidation)
	require.ErrorIs(t, f.anon.VerifyCode(context.Background(), "a@example.com", "12"), common.ErrValidation)
}

func TestAnonymous_RequestCodeRateLimited(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.anon.RequestCode(context.Background(), "a@example.com"))
	}
	require.ErrorIs(t, f.anon.RequestCode(context.Background(), "a@example.com"), common.ErrRateLimited)
}

func TestAnonymous_CheckSenderWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	verified := f.now
	f.st.senders["a@example.com"] = &models.AnonymousSender{
		Email:                "a@example.com",
		MonthlyTransfersUsed: models.AnonymousMaxTransfers,
		WindowStartedAt:      f.now.Add(-models.AnonymousWindow - time.Hour),
		VerifiedAt:           &verified,
	}

	sender, err := f.anon.CheckSender(ctx, "a@example.com")
	require.NoError(t, err, "an elapsed window is reset before checking")
	assert.Equal(t, 0, sender.MonthlyTransfersUsed)

	f.st.senders["a@example.com"].MonthlyTransfersUsed = models.AnonymousMaxTransfers
	_, err = f.anon.CheckSender(ctx, "a@example.com")
	require.ErrorIs(t, err, common.ErrQuotaExceeded)

	require.ErrorIs(t, CheckSenderBytes(&models.AnonymousSender{MonthlyQuotaUsed: models.AnonymousMaxBytes}, 1), common.ErrQuotaExceeded)
	require.NoError(t, CheckSenderBytes(&models.AnonymousSender{}, 1))
}
