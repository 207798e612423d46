package cryptox

import (
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/flyfile/internal/common"
)

// KeyRing keeps the master key sealed in a memguard enclave and uses it to
// wrap per-file keys before they are written to the database.
//
// Wrapped keys are laid out as nonce || ciphertext.
type KeyRing struct {
	enclave *memguard.Enclave
}

// NewKeyRing derives the master key from passphrase and salt and seals it.
// The derived bytes are wiped once they are inside the enclave.
func NewKeyRing(passphrase, salt []byte) (*KeyRing, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("master key passphrase is empty")
	}
	key := DeriveMasterKey(passphrase, salt)
	return &KeyRing{enclave: memguard.NewEnclave(key)}, nil
}

func (k *KeyRing) withKey(fn func(key []byte) error) error {
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("open master key: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Wrap encrypts a file key with the master key.
func (k *KeyRing) Wrap(fileKey []byte) ([]byte, error) {
	var wrapped []byte
	err := k.withKey(func(key []byte) error {
		blob, err := Encrypt(fileKey, key)
		if err != nil {
			return err
		}
		wrapped = append(blob.Nonce, blob.Ciphertext...)
		return nil
	})
	return wrapped, err
}

// Unwrap reverses Wrap. A wrapped key that fails authentication yields
// common.ErrDecryption.
func (k *KeyRing) Unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) <= NonceSize {
		return nil, fmt.Errorf("%w: wrapped key too short", common.ErrDecryption)
	}
	var fileKey []byte
	err := k.withKey(func(key []byte) error {
		var err error
		fileKey, err = Decrypt(wrapped[NonceSize:], key, wrapped[:NonceSize])
		return err
	})
	return fileKey, err
}
