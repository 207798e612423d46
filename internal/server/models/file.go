package models

import "time"

// FileStatus tracks the upload state of a file record.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileCompleted FileStatus = "completed"
)

// File describes server-side metadata for an uploaded blob. The bytes live in
// object storage under StorageKey.
type File struct {
	ID string
	// TransferID links the file to its transfer; empty for library files.
	TransferID string
	OwnerID    string

	StorageKey string
	Name       string
	MimeType   string
	Size       int64

	// Encryption metadata, set only for server-side encrypted files.
	// EncryptedKey is the per-file key wrapped with the master key.
	EncAlgorithm string
	EncryptedKey []byte
	Nonce        []byte

	Status        FileStatus
	DownloadCount int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EncryptedContent is the server-side encrypted blob of a pending file.
// Every upload attempt writes its own StorageKey so a blob is never paired
// with another attempt's key and nonce.
type EncryptedContent struct {
	StorageKey string
	Algorithm  string
	WrappedKey []byte
	Nonce      []byte
	Size       int64
}

// IsEncrypted reports whether the stored blob is ciphertext.
func (f *File) IsEncrypted() bool {
	return f.EncAlgorithm != ""
}

// DeletedFile is what a delete reports back so quota can be adjusted.
type DeletedFile struct {
	ID         string
	TransferID string
	OwnerID    string
	StorageKey string
	Size       int64
	Status     FileStatus
}

// UploadSlot is returned to a client that asked to upload a file.
type UploadSlot struct {
	FileID     string
	StorageKey string
	// URL is a presigned PUT URL, or the API path for server-side encrypted uploads.
	URL       string
	Method    string
	ExpiresAt time.Time
}
