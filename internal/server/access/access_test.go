package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/dmitrijs2005/flyfile/internal/server/auth"
	"github.com/dmitrijs2005/flyfile/internal/server/models"
)

type fakeVerifier struct {
	claims *auth.Claims
	err    error
}

func (f *fakeVerifier) VerifyToken(context.Context, string) (*auth.Claims, error) {
	return f.claims, f.err
}

type fakeResolver struct {
	key *models.APIKey
	err error
}

func (f *fakeResolver) Resolve(context.Context, string) (*models.APIKey, error) {
	return f.key, f.err
}

func TestAuthenticate_Bearer(t *testing.T) {
	g := NewGate(&fakeVerifier{claims: &auth.Claims{UserID: "u1", Email: "a@example.com", Admin: true}}, nil)

	id, err := g.Authenticate(context.Background(), Credentials{Bearer: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, MethodBearer, id.Method)
	assert.True(t, id.Admin)
	assert.Equal(t, "u1", id.OwnerID())
}

func TestAuthenticate_BadTokenIsGeneric(t *testing.T) {
	for _, cause := range []error{common.ErrTokenExpired, common.ErrInvalidToken, errors.New("weird")} {
		g := NewGate(&fakeVerifier{err: cause}, nil)
		_, err := g.Authenticate(context.Background(), Credentials{Bearer: "tok"})
		assert.Equal(t, common.ErrUnauthenticated, err)
	}
}

func TestAuthenticate_APIKey(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	tests := []struct {
		name    string
		key     *models.APIKey
		err     error
		wantErr bool
	}{
		{name: "active", key: &models.APIKey{UserID: "u1", Active: true, Permissions: []string{"read"}}},
		{name: "revoked", key: &models.APIKey{UserID: "u1", Active: false}, wantErr: true},
		{name: "expired", key: &models.APIKey{UserID: "u1", Active: true, ExpiresAt: &past}, wantErr: true},
		{name: "unknown", err: common.ErrNotFound, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(&fakeVerifier{}, &fakeResolver{key: tt.key, err: tt.err})
			g.now = func() time.Time { return now }

			id, err := g.Authenticate(context.Background(), Credentials{APIKey: "ff_x"})
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrUnauthenticated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, MethodAPIKey, id.Method)
			assert.NoError(t, RequirePermission(id, models.PermissionRead))
			assert.ErrorIs(t, RequirePermission(id, models.PermissionWrite), common.ErrForbidden)
		})
	}
}

func TestAuthenticate_Anonymous(t *testing.T) {
	g := NewGate(&fakeVerifier{}, nil)
	anon, err := NewAnonymousID()
	require.NoError(t, err)

	id, err := g.Authenticate(context.Background(), Credentials{AnonymousID: anon})
	require.NoError(t, err)
	assert.Equal(t, MethodAnonymous, id.Method)
	assert.Equal(t, anon, id.OwnerID())
	assert.False(t, id.IsAccount())

	_, err = g.Authenticate(context.Background(), Credentials{AnonymousID: "anon_nothex"})
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	id, err = g.Authenticate(context.Background(), Credentials{})
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestBearerFromHeader(t *testing.T) {
	assert.Equal(t, "abc", BearerFromHeader("Bearer abc"))
	assert.Equal(t, "abc", BearerFromHeader("bearer  abc "))
	assert.Equal(t, "", BearerFromHeader("Basic abc"))
	assert.Equal(t, "", BearerFromHeader("abc"))
}

func TestAuthorize(t *testing.T) {
	anon, _ := NewAnonymousID()
	other, _ := NewAnonymousID()

	account := &Identity{UserID: "u1", Method: MethodBearer}
	anonymous := &Identity{Method: MethodAnonymous, AnonymousID: anon}

	assert.NoError(t, Authorize(account, "u1"))
	assert.ErrorIs(t, Authorize(account, "u2"), common.ErrForbidden)
	assert.ErrorIs(t, Authorize(account, anon), common.ErrForbidden)
	assert.NoError(t, Authorize(anonymous, anon))
	assert.ErrorIs(t, Authorize(anonymous, other), common.ErrForbidden)
	assert.ErrorIs(t, Authorize(anonymous, "u1"), common.ErrForbidden)
	assert.ErrorIs(t, Authorize(nil, "u1"), common.ErrUnauthenticated)
	assert.ErrorIs(t, Authorize(account, ""), common.ErrForbidden)
}

func TestAuthorizeAdmin(t *testing.T) {
	assert.NoError(t, AuthorizeAdmin(&Identity{UserID: "u1", Method: MethodBearer, Admin: true}))
	assert.ErrorIs(t, AuthorizeAdmin(&Identity{UserID: "u1", Method: MethodBearer}), common.ErrForbidden)
	assert.ErrorIs(t, AuthorizeAdmin(nil), common.ErrUnauthenticated)
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, IdentityFromContext(ctx))

	id := &Identity{UserID: "u1"}
	assert.Same(t, id, IdentityFromContext(WithIdentity(ctx, id)))
}

func TestIsAnonymousID(t *testing.T) {
	id, err := NewAnonymousID()
	require.NoError(t, err)
	assert.True(t, IsAnonymousID(id))
	assert.Len(t, id, len(common.AnonymousIDPrefix)+32)
	assert.False(t, IsAnonymousID("u1"))
	assert.False(t, IsAnonymousID("anon_"))
	assert.False(t, IsAnonymousID("anon_0123456789ABCDEF0123456789abcdef"))
}

func TestOriginChecker(t *testing.T) {
	dev := NewOriginChecker([]string{"http://localhost:3000", "https://flyfile.example/"}, false)
	prod := NewOriginChecker([]string{"https://flyfile.example"}, true)

	assert.NoError(t, dev.Check("http://localhost:3000", ""))
	assert.NoError(t, dev.Check("", "https://flyfile.example/transfers/new"))
	assert.ErrorIs(t, dev.Check("https://evil.example", ""), common.ErrForbidden)
	assert.NoError(t, dev.Check("", ""), "missing headers pass outside production")

	assert.NoError(t, prod.Check("https://FLYFILE.example", ""))
	assert.ErrorIs(t, prod.Check("", ""), common.ErrForbidden, "missing headers fail closed in production")
	assert.ErrorIs(t, prod.Check("null", ""), common.ErrForbidden)
}
