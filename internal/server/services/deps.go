// Package services contains server-side business logic: the transfer and
// file lifecycle, quota accounting and the credential flows around them.
// Services hold a *sql.DB and a RepositoryManager and bind repositories
// either to the pool or to a transaction.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/notify"
	"github.com/dmitrijs2005/flyfile/internal/server/ratelimit"
)

// BlobStore is the object storage the lifecycle depends on.
type BlobStore interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Fetch(ctx context.Context, key string, limit int64) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// KeyWrapper protects per-file keys with the master key.
type KeyWrapper interface {
	Wrap(fileKey []byte) ([]byte, error)
	Unwrap(wrapped []byte) ([]byte, error)
}

// RateLimiter is the subset of ratelimit.Limiter used by services.
type RateLimiter interface {
	Allow(ctx context.Context, bucket ratelimit.Bucket, key string) (ratelimit.Decision, error)
	Peek(ctx context.Context, bucket ratelimit.Bucket, key string) (ratelimit.Decision, error)
	Fail(ctx context.Context, bucket ratelimit.Bucket, key string) (ratelimit.Decision, error)
	Reset(ctx context.Context, bucket ratelimit.Bucket, key string) error
}

// TaskQueue accepts fire-and-forget work.
type TaskQueue interface {
	Submit(name string, task notify.Task) bool
}

// FailureCode classifies an error for per-item batch results.
func FailureCode(err error) string {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	case errors.Is(err, common.ErrForbidden):
		return "forbidden"
	case errors.Is(err, common.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, common.ErrValidation):
		return "validation_error"
	case errors.Is(err, common.ErrExternalService):
		return "external_service_error"
	default:
		return "internal_error"
	}
}
