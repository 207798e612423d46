// Package common defines shared constants, sentinel errors and small helpers
// used across FlyFile layers. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")

	// Request validation. The text after the sentinel is safe to show clients.
	ErrValidation = errors.New("validation error")

	// Access errors.
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("access denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")

	// Lifecycle errors.
	ErrExpired         = errors.New("expired")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrTooManyAttempts = errors.New("too many attempts")

	// Infrastructure errors.
	ErrDecryption      = errors.New("decryption failed")
	ErrExternalService = errors.New("external service error")
	ErrInternal        = errors.New("internal error")
)

// RateLimitedError carries retry guidance for a rejected request.
// It matches ErrRateLimited via errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// Validationf builds an ErrValidation error with a client-safe message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
