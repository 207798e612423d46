// Package auth verifies identity tokens issued by the external identity
// provider. Tokens are HS256 JWTs; the subject claim is the account id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/flyfile/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// Claims is the verified subset of token claims FlyFile relies on.
type Claims struct {
	UserID string `mapstructure:"sub"`
	Email  string `mapstructure:"email"`
	Admin  bool   `mapstructure:"admin"`
	Issuer string `mapstructure:"iss"`
}

// GenerateToken signs claims with secretKey. The identity provider owns token
// issuance in production; this is used by tests and local tooling.
func GenerateToken(c Claims, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	mc := jwt.MapClaims{
		"sub":   c.UserID,
		"email": c.Email,
		"admin": c.Admin,
		"iat":   jwt.NewNumericDate(now),
		"exp":   jwt.NewNumericDate(now.Add(validityDuration)),
	}
	if c.Issuer != "" {
		mc["iss"] = c.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	return token.SignedString(secretKey)
}

// Verifier validates bearer tokens against a shared secret.
type Verifier struct {
	secretKey []byte
	issuer    string
}

func NewVerifier(secretKey []byte, issuer string) *Verifier {
	return &Verifier{secretKey: secretKey, issuer: issuer}
}

// VerifyToken checks signature, algorithm, expiry and (when configured) the
// issuer, then decodes the claims. Expired tokens yield common.ErrTokenExpired,
// anything else that fails yields common.ErrInvalidToken.
func (v *Verifier) VerifyToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	mc := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, mc, func(t *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	claims := &Claims{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           claims,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(map[string]any(mc)); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}

	return claims, nil
}
