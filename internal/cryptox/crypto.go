// Package cryptox implements the content cipher used for encrypted
// transfers (AES-256-GCM with a fresh 96-bit nonce per encryption) and the
// master key that protects per-file keys at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"golang.org/x/crypto/argon2"
)

// Algorithm is the identifier persisted alongside encrypted file metadata.
const Algorithm = "aes-256-gcm"

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag appended to every ciphertext.
	TagSize = 16
)

// EncryptedBlob is the result of Encrypt. Key must be persisted (wrapped)
// by the caller; it is never stored next to the ciphertext in object storage.
type EncryptedBlob struct {
	Ciphertext []byte
	Key        []byte
	Nonce      []byte
}

// DeriveMasterKey stretches a passphrase into a 32-byte key with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-256-GCM. When key is nil a random key is
// generated. A new random nonce is used on every call.
func Encrypt(plaintext, key []byte) (*EncryptedBlob, error) {
	if key == nil {
		key = common.GenerateRandByteArray(KeySize)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(NonceSize)
	ciphertext := aesgcm.Seal(nil, nonce, plaintext, nil)

	return &EncryptedBlob{Ciphertext: ciphertext, Key: key, Nonce: nonce}, nil
}

// Decrypt opens ciphertext produced by Encrypt. Every failure, including a
// wrong key, a wrong nonce or tampered bytes, is reported as
// common.ErrDecryption and no plaintext is returned.
func Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce length %d", common.ErrDecryption, len(nonce))
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}
