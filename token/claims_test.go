package token_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
)

func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-1",
		"email": "user@test.com",
		"roles": []string{" user ", "ADMIN", ""},
		"exp":   exp.Unix(),
		"iat":   exp.Add(-time.Hour).Unix(),
	}).SignedString([]byte("not-checked"))
	require.NoError(t, err)

	c, err := token.ParseClaims(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, "user@test.com", c.Email)
	require.Equal(t, []string{"user", "ADMIN"}, c.Roles)
	require.True(t, exp.Equal(*c.ExpiresAt))
	require.NotNil(t, c.IssuedAt)
	require.Equal(t, token.RoleAdmin, c.PrimaryRole())
	require.True(t, c.HasRole(token.RoleUser))
	require.False(t, c.HasRole(token.RoleProvider))
}

func TestParseClaims_SingleRoleClaim(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "provider"}).SignedString([]byte("k"))
	require.NoError(t, err)

	c, err := token.ParseClaims(raw)
	require.NoError(t, err)
	require.Equal(t, token.RoleProvider, c.PrimaryRole())
	require.Nil(t, c.ExpiresAt)
}

func TestParseClaims_Invalid(t *testing.T) {
	_, err := token.ParseClaims("access-token")
	require.True(t, errors.Is(err, errors.ErrInvalidToken))

	_, err = (&token.Pair{}).Claims()
	require.True(t, errors.Is(err, errors.ErrMissingAccessToken))
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := token.NewVerifier(&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}})

	t.Run("valid signature", func(t *testing.T) {
		raw := signRS256(t, key, jwt.MapClaims{"sub": "user-1", "roles": []string{"USER"}})
		c, err := v.Verify(ctx, raw)
		require.NoError(t, err)
		require.Equal(t, "user-1", c.Subject)
		require.Equal(t, token.RoleUser, c.PrimaryRole())
	})

	t.Run("wrong key", func(t *testing.T) {
		raw := signRS256(t, other, jwt.MapClaims{"sub": "user-1"})
		_, err := v.Verify(ctx, raw)
		require.True(t, errors.Is(err, errors.ErrInvalidToken))
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := v.Verify(ctx, "garbage")
		require.True(t, errors.Is(err, errors.ErrInvalidToken))
	})
}
