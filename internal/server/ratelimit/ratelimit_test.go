package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/logging"
)

type brokenCounter struct{ Counter }

func (brokenCounter) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("backend down")
}

func (brokenCounter) Get(context.Context, string) (int64, time.Duration, error) {
	return 0, 0, errors.New("backend down")
}

func newLimiter() *Limiter {
	return New(NewMemoryCounter(), nil, logging.NopLogger{})
}

func TestAllow_EnforcesBudget(t *testing.T) {
	l := newLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, BucketSensitive, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "hit %d", i+1)
		assert.Equal(t, int64(2-i), d.Remaining)
	}

	d, err := l.Allow(ctx, BucketSensitive, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	var rl *common.RateLimitedError
	require.ErrorAs(t, d.Err(), &rl)
	assert.ErrorIs(t, d.Err(), common.ErrRateLimited)

	// Other callers and buckets are independent.
	d, err = l.Allow(ctx, BucketSensitive, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = l.Allow(ctx, BucketAPI, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestFailureBudget_FourthWrongAttemptIsRateLimited(t *testing.T) {
	l := newLimiter()
	ctx := context.Background()
	const transfer = "transfer-1"

	for i := 0; i < 3; i++ {
		d, err := l.Peek(ctx, BucketPassword, transfer)
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should be checked", i+1)
		_, err = l.Fail(ctx, BucketPassword, transfer)
		require.NoError(t, err)
	}

	d, err := l.Peek(ctx, BucketPassword, transfer)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.ErrorIs(t, d.Err(), common.ErrRateLimited)
}

func TestPeek_DoesNotCount(t *testing.T) {
	l := newLimiter()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.Peek(ctx, BucketPassword, "t")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestReset(t *testing.T) {
	l := newLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Fail(ctx, BucketTwoFactor, "u1")
		require.NoError(t, err)
	}
	d, _ := l.Peek(ctx, BucketTwoFactor, "u1")
	require.False(t, d.Allowed)

	require.NoError(t, l.Reset(ctx, BucketTwoFactor, "u1"))
	d, _ = l.Peek(ctx, BucketTwoFactor, "u1")
	assert.True(t, d.Allowed)
}

func TestBackendFailure(t *testing.T) {
	l := New(brokenCounter{}, nil, logging.NopLogger{})
	ctx := context.Background()

	d, err := l.Allow(ctx, BucketAPI, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "api bucket fails open")

	d, err = l.Allow(ctx, BucketDownload, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "download bucket fails open")

	_, err = l.Peek(ctx, BucketPassword, "k")
	assert.ErrorIs(t, err, common.ErrExternalService, "password bucket fails closed")

	_, err = l.Allow(ctx, BucketAuth, "k")
	assert.ErrorIs(t, err, common.ErrExternalService)
}

func TestUnknownBucket(t *testing.T) {
	_, err := newLimiter().Allow(context.Background(), Bucket("nope"), "k")
	assert.Error(t, err)
}
