package token_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestPair_Expired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Minute)
	p := &token.Pair{AccessToken: "a", ExpiresAt: &expiry}

	require.False(t, p.Expired(now, 0))
	require.True(t, p.Expired(now, time.Minute))
	require.True(t, p.Expired(now.Add(2*time.Minute), 0))
	require.False(t, (&token.Pair{AccessToken: "a"}).Expired(now, time.Hour), "unknown expiry")

	var nilPair *token.Pair
	require.False(t, nilPair.Expired(now, 0))
}

func TestPair_Equal(t *testing.T) {
	t1 := time.Unix(100, 0)
	t2 := time.Unix(100, 0).UTC()

	require.True(t, (*token.Pair)(nil).Equal(nil))
	require.False(t, (&token.Pair{}).Equal(nil))
	require.True(t, (&token.Pair{AccessToken: "a", ExpiresAt: &t1}).Equal(&token.Pair{AccessToken: "a", ExpiresAt: &t2}))
	require.False(t, (&token.Pair{AccessToken: "a", ExpiresAt: &t1}).Equal(&token.Pair{AccessToken: "a"}))
	require.False(t, (&token.Pair{AccessToken: "a", RefreshToken: "x"}).Equal(&token.Pair{AccessToken: "a", RefreshToken: "y"}))
}

func TestPair_OAuth2RoundTrip(t *testing.T) {
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &token.Pair{AccessToken: "a", RefreshToken: "r", ExpiresAt: &expiry}

	ot := p.OAuth2()
	require.Equal(t, "Bearer", ot.TokenType)
	require.Equal(t, expiry, ot.Expiry)
	require.Equal(t, p, token.FromOAuth2(ot))

	require.Nil(t, token.FromOAuth2(&oauth2.Token{AccessToken: "a"}).ExpiresAt)
	require.Nil(t, token.FromOAuth2(nil))
}

func TestDecode(t *testing.T) {
	p, err := token.Decode([]byte(`{"accessToken":"a","refreshToken":"r","expiresAt":"2030-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	require.Equal(t, "a", p.AccessToken)
	require.Equal(t, 2030, p.ExpiresAt.Year())

	_, err = token.Decode([]byte(`{"refreshToken":"r"}`))
	require.True(t, errors.Is(err, errors.ErrCorruptEntry))
}
