package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/auth"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

// TokenVerifier checks signed identity tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Claims, error)
}

// KeyResolver maps a presented API key to its record.
type KeyResolver interface {
	Resolve(ctx context.Context, plaintext string) (*models.APIKey, error)
}

// Credentials are the raw proofs a request carried.
type Credentials struct {
	Bearer      string
	APIKey      string
	AnonymousID string
}

// BearerFromHeader extracts the bearer token from an Authorization header value.
func BearerFromHeader(h string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Gate authenticates requests.
type Gate struct {
	tokens TokenVerifier
	keys   KeyResolver
	now    func() time.Time
}

func NewGate(tokens TokenVerifier, keys KeyResolver) *Gate {
	return &Gate{tokens: tokens, keys: keys, now: time.Now}
}

// Authenticate resolves the caller. A bearer token wins over an API key,
// which wins over an anonymous capability. With no proof at all it returns
// (nil, nil); callers decide whether anonymity is acceptable. Every failure
// returns common.ErrUnauthenticated without saying which part was wrong.
func (g *Gate) Authenticate(ctx context.Context, c Credentials) (*Identity, error) {
	switch {
	case c.Bearer != "":
		claims, err := g.tokens.VerifyToken(ctx, c.Bearer)
		if err != nil {
			return nil, unauthenticated(err)
		}
		return &Identity{
			UserID:      claims.UserID,
			Email:       claims.Email,
			Method:      MethodBearer,
			Admin:       claims.Admin,
			AnonymousID: validAnonymous(c.AnonymousID),
		}, nil

	case c.APIKey != "":
		if g.keys == nil {
			return nil, common.ErrUnauthenticated
		}
		key, err := g.keys.Resolve(ctx, c.APIKey)
		if err != nil {
			return nil, unauthenticated(err)
		}
		if !key.Usable(g.now()) {
			return nil, common.ErrUnauthenticated
		}
		return &Identity{
			UserID:      key.UserID,
			Method:      MethodAPIKey,
			Permissions: key.Permissions,
		}, nil

	case c.AnonymousID != "":
		if !IsAnonymousID(c.AnonymousID) {
			return nil, common.ErrUnauthenticated
		}
		return &Identity{Method: MethodAnonymous, AnonymousID: c.AnonymousID}, nil
	}
	return nil, nil
}

func validAnonymous(id string) string {
	if IsAnonymousID(id) {
		return id
	}
	return ""
}

func unauthenticated(err error) error {
	if errors.Is(err, common.ErrExternalService) {
		return err
	}
	return common.ErrUnauthenticated
}
