// Package access resolves who is calling and whether they may touch a
// resource.
package access

import (
	"context"
	"crypto/subtle"
	"slices"
	"strings"

	"github.com/dmitrijs2005/flyfile/internal/common"
)

// Method is how a caller proved its identity.
type Method string

const (
	MethodBearer    Method = "bearer"
	MethodAPIKey    Method = "api_key"
	MethodAnonymous Method = "anonymous"
)

// Identity is the authenticated caller. It is established once by the Gate
// and passed down through the context; handlers never rebuild it from
// headers.
type Identity struct {
	UserID string
	Email  string
	Method Method
	Admin  bool
	// AnonymousID is the capability presented by anonymous callers.
	AnonymousID string
	// Permissions is set for API-key callers only.
	Permissions []string
}

// OwnerID is the id stored as owner on resources the caller creates.
func (i *Identity) OwnerID() string {
	if i.Method == MethodAnonymous {
		return i.AnonymousID
	}
	return i.UserID
}

// IsAccount reports whether the caller is a signed-in account holder.
func (i *Identity) IsAccount() bool {
	return i != nil && i.Method != MethodAnonymous && i.UserID != ""
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFromContext returns the caller or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}

// NewAnonymousID issues a fresh anonymous capability.
func NewAnonymousID() (string, error) {
	s, err := common.MakeRandHexString(16)
	if err != nil {
		return "", err
	}
	return common.AnonymousIDPrefix + s, nil
}

// IsAnonymousID reports whether id has the shape of an anonymous capability.
func IsAnonymousID(id string) bool {
	rest, ok := strings.CutPrefix(id, common.AnonymousIDPrefix)
	if !ok || len(rest) != 32 {
		return false
	}
	for _, c := range rest {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// Authorize allows the owning account, or an anonymous caller presenting the
// capability that owns the resource.
func Authorize(id *Identity, ownerID string) error {
	if id == nil {
		return common.ErrUnauthenticated
	}
	if ownerID == "" {
		return common.ErrForbidden
	}
	if IsAnonymousID(ownerID) {
		if id.AnonymousID != "" && subtle.ConstantTimeCompare([]byte(id.AnonymousID), []byte(ownerID)) == 1 {
			return nil
		}
		return common.ErrForbidden
	}
	if id.UserID != "" && id.UserID == ownerID {
		return nil
	}
	return common.ErrForbidden
}

// AuthorizeAdmin allows admin accounts only.
func AuthorizeAdmin(id *Identity) error {
	if id == nil {
		return common.ErrUnauthenticated
	}
	if !id.Admin || id.Method == MethodAnonymous {
		return common.ErrForbidden
	}
	return nil
}

// RequirePermission checks an API-key caller's permission set. Other methods
// carry full rights of their account.
func RequirePermission(id *Identity, perm string) error {
	if id == nil {
		return common.ErrUnauthenticated
	}
	if id.Method != MethodAPIKey {
		return nil
	}
	if slices.Contains(id.Permissions, perm) {
		return nil
	}
	return common.ErrForbidden
}

// RequireAccount rejects anonymous callers.
func RequireAccount(id *Identity) error {
	if !id.IsAccount() {
		return common.ErrUnauthenticated
	}
	return nil
}
