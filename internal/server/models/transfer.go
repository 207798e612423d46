// Package models defines server-side data models persisted in the database.
package models

import "time"

// TransferStatus is the stored lifecycle state of a transfer. Expiry is not a
// stored state; see Transfer.EffectiveStatus.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferActive  TransferStatus = "active"
	TransferExpired TransferStatus = "expired"
	TransferDeleted TransferStatus = "deleted"
)

// DeliveryMethod says how recipients learn about a transfer.
type DeliveryMethod string

const (
	DeliveryLink  DeliveryMethod = "link"
	DeliveryEmail DeliveryMethod = "email"
)

// Source records which surface created a transfer.
type Source string

const (
	SourceWeb Source = "web"
	SourceAPI Source = "api"
)

// Transfer is a named bundle of files shared through a public id.
type Transfer struct {
	// ID is the internal primary key.
	ID string
	// PublicID is the opaque, unguessable id used in share links.
	PublicID string
	// OwnerID is an account id or an anonymous capability ("anon_...").
	OwnerID string
	// SenderEmail is set for anonymous transfers.
	SenderEmail string

	Title          string
	Message        string
	RecipientEmail string
	DeliveryMethod DeliveryMethod
	// PasswordHash is empty when the transfer is not password protected.
	PasswordHash string

	Status        TransferStatus
	TotalSize     int64
	FileCount     int
	DownloadCount int64
	IsEncrypted   bool
	Source        Source

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveStatus derives the status at now. A transfer past its expiry is
// expired whatever the stored status says, except a deleted one.
func (t *Transfer) EffectiveStatus(now time.Time) TransferStatus {
	if t.Status == TransferDeleted {
		return TransferDeleted
	}
	if now.After(t.ExpiresAt) {
		return TransferExpired
	}
	return t.Status
}

// HasPassword reports whether downloads require a password.
func (t *Transfer) HasPassword() bool {
	return t.PasswordHash != ""
}
