package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return priv, pubPEM
}

func signToken(t *testing.T, priv *rsa.PrivateKey, sub, email, issuer, audience string, expiry time.Duration) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
		Email: email,
	})
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestResolveValidToken(t *testing.T) {
	priv, pub := generateKeyPair(t)
	resolver := NewJWTResolver(pub, "https://auth.example", "orchestrator")
	tok := signToken(t, priv, "user-123", "user@example.com", "https://auth.example", "orchestrator", time.Hour)

	id, err := resolver.Resolve(nil, tok)
	require.NoError(t, err)
	require.Equal(t, "user-123", id.ID)
	require.Equal(t, "user@example.com", id.Email)
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	priv, pub := generateKeyPair(t)
	resolver := NewJWTResolver(pub, "https://auth.example", "orchestrator")
	tok := signToken(t, priv, "user-123", "user@example.com", "https://auth.example", "orchestrator", -time.Hour)

	_, err := resolver.Resolve(nil, tok)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestResolveRejectsWrongIssuer(t *testing.T) {
	priv, pub := generateKeyPair(t)
	resolver := NewJWTResolver(pub, "https://auth.example", "orchestrator")
	tok := signToken(t, priv, "user-123", "user@example.com", "https://someone-else.example", "orchestrator", time.Hour)

	_, err := resolver.Resolve(nil, tok)
	require.ErrorIs(t, err, ErrUnauthorized)
}
