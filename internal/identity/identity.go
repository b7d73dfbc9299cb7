// Package identity adapts the external authentication provider spec.md §1
// treats as an "identity resolver returning a stable user id and email".
// The shipped adapter validates a JWT bearer token (golang-jwt/jwt/v5, the
// dependency the rest of the example pack reaches for whenever it needs
// bearer-token auth); it never touches storage — account linking happens
// in the caller against the User repository (SPEC_FULL.md §4.14).
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type Identity struct {
	ID    string
	Email string
}

type Resolver interface {
	Resolve(ctx context.Context, bearerToken string) (Identity, error)
}

var ErrUnauthorized = errors.New("identity: invalid or expired token")

type JWTResolver struct {
	publicKey []byte
	issuer    string
	audience  string
}

func NewJWTResolver(publicKey []byte, issuer, audience string) *JWTResolver {
	return &JWTResolver{publicKey: publicKey, issuer: issuer, audience: audience}
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

func (r *JWTResolver) Resolve(ctx context.Context, bearerToken string) (Identity, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(r.publicKey)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: malformed public key: %w", err)
	}

	var c claims
	token, err := jwt.ParseWithClaims(bearerToken, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	},
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(r.audience),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthorized
	}
	if c.Subject == "" || c.Email == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ID: c.Subject, Email: c.Email}, nil
}
