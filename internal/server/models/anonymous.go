package models

import "time"

// Anonymous sender limits over a rolling window.
const (
	AnonymousWindow             = 30 * 24 * time.Hour
	AnonymousMaxBytes     int64 = 5 << 30
	AnonymousMaxTransfers       = 5
)

// AnonymousSender tracks usage and verification of an email address that
// sends transfers without an account.
type AnonymousSender struct {
	Email                string
	MonthlyQuotaUsed     int64
	MonthlyTransfersUsed int
	WindowStartedAt      time.Time
	VerifiedAt           *time.Time
	CreatedAt            time.Time
}

// WindowElapsed reports whether the rolling window has passed at now.
func (a *AnonymousSender) WindowElapsed(now time.Time) bool {
	return now.Sub(a.WindowStartedAt) >= AnonymousWindow
}

// IsVerified reports whether the email was verified inside the current window.
func (a *AnonymousSender) IsVerified(now time.Time) bool {
	return a.VerifiedAt != nil && now.Sub(*a.VerifiedAt) < AnonymousWindow
}
