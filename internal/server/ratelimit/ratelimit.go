// Package ratelimit throttles requests per caller and operation class, and
// caps failed secret checks per target resource.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/logging"
)

// Bucket names an independent budget.
type Bucket string

const (
	BucketAuth      Bucket = "auth"
	BucketSensitive Bucket = "sensitive"
	BucketAPI       Bucket = "api"
	BucketDownload  Bucket = "download"
	BucketPassword  Bucket = "password"
	BucketTwoFactor Bucket = "twofactor"
	BucketOTP       Bucket = "otp"
)

// Policy is the budget of one bucket. FailOpen lets requests through when
// the counter backend is unavailable.
type Policy struct {
	Limit    int64
	Window   time.Duration
	FailOpen bool
}

// DefaultPolicies returns the production budgets.
func DefaultPolicies() map[Bucket]Policy {
	return map[Bucket]Policy{
		BucketAuth:      {Limit: 5, Window: time.Minute},
		BucketSensitive: {Limit: 3, Window: time.Minute},
		BucketAPI:       {Limit: 60, Window: time.Minute, FailOpen: true},
		BucketDownload:  {Limit: 30, Window: time.Minute, FailOpen: true},
		BucketPassword:  {Limit: 3, Window: 15 * time.Minute},
		BucketTwoFactor: {Limit: 5, Window: 15 * time.Minute},
		BucketOTP:       {Limit: 5, Window: 15 * time.Minute},
	}
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Err returns a *common.RateLimitedError for a denied decision and nil
// otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &common.RateLimitedError{RetryAfter: d.RetryAfter}
}

// Limiter applies bucket policies over a Counter.
type Limiter struct {
	counter  Counter
	policies map[Bucket]Policy
	logger   logging.Logger
}

func New(counter Counter, policies map[Bucket]Policy, logger logging.Logger) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Limiter{counter: counter, policies: policies, logger: logger}
}

func (l *Limiter) policy(bucket Bucket) (Policy, error) {
	p, ok := l.policies[bucket]
	if !ok {
		return Policy{}, fmt.Errorf("unknown rate limit bucket %q", bucket)
	}
	return p, nil
}

func counterKey(bucket Bucket, key string) string {
	return string(bucket) + ":" + key
}

// Allow counts a hit against bucket for key and reports whether the hit is
// within budget.
func (l *Limiter) Allow(ctx context.Context, bucket Bucket, key string) (Decision, error) {
	p, err := l.policy(bucket)
	if err != nil {
		return Decision{}, err
	}
	count, ttl, err := l.counter.Increment(ctx, counterKey(bucket, key), p.Window)
	if err != nil {
		return l.backendFailure(ctx, bucket, p, err)
	}
	return decide(p, count, count <= p.Limit, ttl), nil
}

// Peek reports whether one more hit would be within budget without counting
// it. Failure budgets check with Peek before verifying a secret.
func (l *Limiter) Peek(ctx context.Context, bucket Bucket, key string) (Decision, error) {
	p, err := l.policy(bucket)
	if err != nil {
		return Decision{}, err
	}
	count, ttl, err := l.counter.Get(ctx, counterKey(bucket, key))
	if err != nil {
		return l.backendFailure(ctx, bucket, p, err)
	}
	return decide(p, count, count < p.Limit, ttl), nil
}

// Fail records a failed attempt against a failure budget.
func (l *Limiter) Fail(ctx context.Context, bucket Bucket, key string) (Decision, error) {
	p, err := l.policy(bucket)
	if err != nil {
		return Decision{}, err
	}
	count, ttl, err := l.counter.Increment(ctx, counterKey(bucket, key), p.Window)
	if err != nil {
		return l.backendFailure(ctx, bucket, p, err)
	}
	return decide(p, count, count < p.Limit, ttl), nil
}

// Reset clears the budget of key.
func (l *Limiter) Reset(ctx context.Context, bucket Bucket, key string) error {
	return l.counter.Reset(ctx, counterKey(bucket, key))
}

func (l *Limiter) backendFailure(ctx context.Context, bucket Bucket, p Policy, err error) (Decision, error) {
	l.logger.Warn(ctx, "rate limit backend failure", "bucket", string(bucket), "fail_open", p.FailOpen, "error", err)
	if p.FailOpen {
		return Decision{Allowed: true, Limit: p.Limit, Remaining: p.Limit}, nil
	}
	return Decision{}, fmt.Errorf("%w: rate limit backend: %v", common.ErrExternalService, err)
}

func decide(p Policy, count int64, allowed bool, ttl time.Duration) Decision {
	remaining := p.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{Allowed: allowed, Limit: p.Limit, Remaining: remaining}
	if !allowed {
		d.RetryAfter = ttl
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Second
		}
	}
	return d
}
