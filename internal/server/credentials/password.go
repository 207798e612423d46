// Package credentials hashes and verifies secrets: transfer passwords,
// one-time codes, TOTP tokens and backup codes.
package credentials

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashKind tells which scheme produced a stored password hash.
type HashKind int

const (
	// HashKindLegacy is an unsalted SHA-256 digest, 64 lowercase hex chars.
	// It is only ever verified, never produced.
	HashKindLegacy HashKind = iota + 1
	// HashKindModern is a bcrypt hash.
	HashKindModern
)

// DefaultBcryptCost is the work factor for new password hashes.
const DefaultBcryptCost = 12

// ErrUnknownHash is returned for stored values that match neither scheme.
var ErrUnknownHash = errors.New("unrecognised password hash")

// Hash is a stored password hash with its scheme resolved once at parse time.
type Hash struct {
	Kind  HashKind
	Value string
}

// ParseHash classifies a stored hash.
func ParseHash(stored string) (Hash, error) {
	switch {
	case isLegacyDigest(stored):
		return Hash{Kind: HashKindLegacy, Value: stored}, nil
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return Hash{Kind: HashKindModern, Value: stored}, nil
	default:
		return Hash{}, ErrUnknownHash
	}
}

func isLegacyDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Verification is the outcome of PasswordHasher.Verify. When a legacy hash
// matched, Upgraded holds a fresh bcrypt hash the caller should store.
type Verification struct {
	OK       bool
	Upgraded string
}

// PasswordHasher produces bcrypt hashes and verifies both schemes.
type PasswordHasher struct {
	Cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{Cost: cost}
}

// Hash returns a bcrypt hash of plain.
func (h *PasswordHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify checks plain against stored. Legacy digests are compared in
// constant time and, on success, re-hashed with bcrypt.
func (h *PasswordHasher) Verify(plain, stored string) (Verification, error) {
	hash, err := ParseHash(stored)
	if err != nil {
		return Verification{}, err
	}

	switch hash.Kind {
	case HashKindLegacy:
		sum := sha256.Sum256([]byte(plain))
		digest := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(digest), []byte(hash.Value)) != 1 {
			return Verification{}, nil
		}
		upgraded, err := h.Hash(plain)
		if err != nil {
			// the password was still correct
			return Verification{OK: true}, nil
		}
		return Verification{OK: true, Upgraded: upgraded}, nil

	default:
		err := bcrypt.CompareHashAndPassword([]byte(hash.Value), []byte(plain))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Verification{}, nil
		}
		if err != nil {
			return Verification{}, fmt.Errorf("compare password: %w", err)
		}
		return Verification{OK: true}, nil
	}
}

// Burn spends one bcrypt comparison worth of time, so a missing record
// costs about as much as a wrong password.
func (h *PasswordHasher) Burn(plain string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("flyfile-dummy"), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
