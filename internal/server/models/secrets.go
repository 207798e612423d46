package models

import "time"

// OTPPurpose scopes a one-time code.
type OTPPurpose string

const (
	OTPAnonymousSender OTPPurpose = "anonymous_sender"
)

// OneTimeCode is an emailed verification code. Only its digest is stored.
type OneTimeCode struct {
	Purpose   OTPPurpose
	Subject   string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TwoFactor is an enabled TOTP enrolment.
type TwoFactor struct {
	UserID  string
	Secret  string
	Enabled bool
	// LastStep is the newest TOTP time step accepted; older or equal steps
	// are replays.
	LastStep  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TOTPSetupSession holds a candidate secret until the user proves possession.
type TOTPSetupSession struct {
	ID        string
	UserID    string
	Secret    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// APIKey permissions.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
)

// APIKey is a programmatic credential. The plaintext key is shown once at
// creation; KeyHash is its SHA-256 digest.
type APIKey struct {
	ID          string
	UserID      string
	Name        string
	Prefix      string
	KeyHash     string
	Permissions []string
	Active      bool
	UsageCount  int64
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// HasPermission reports whether the key grants perm.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Usable reports whether the key can authenticate at now.
func (k *APIKey) Usable(now time.Time) bool {
	return k.Active && (k.ExpiresAt == nil || now.Before(*k.ExpiresAt))
}

// Webhook is a registered outbound notification endpoint. Secret signs
// deliveries.
type Webhook struct {
	ID        string
	UserID    string
	URL       string
	Secret    string
	Events    []string
	Active    bool
	CreatedAt time.Time
}

// DownloadEvent is one analytics record of a served download.
type DownloadEvent struct {
	TransferID string
	FileID     string
	OwnerID    string
	IPHash     string
	UserAgent  string
	CreatedAt  time.Time
}
