package token

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"golang.org/x/oauth2"
)

// Pair is the access/refresh token pair issued by the auth service. A Pair is
// never modified after construction; a login or refresh produces a new one.
type Pair struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"` // Access token expiry, when known
}

func (p *Pair) Clone() *Pair {
	if p == nil {
		return nil
	}
	c := *p
	c.ExpiresAt = utils.Clone(p.ExpiresAt)
	return &c
}

// Equal reports whether both pairs hold the same tokens and expiry. Two nil
// pairs are equal.
func (p *Pair) Equal(o *Pair) bool {
	if p == nil || o == nil {
		return p == nil && o == nil
	}
	if p.AccessToken != o.AccessToken || p.RefreshToken != o.RefreshToken {
		return false
	}
	if p.ExpiresAt == nil || o.ExpiresAt == nil {
		return p.ExpiresAt == nil && o.ExpiresAt == nil
	}
	return p.ExpiresAt.Equal(*o.ExpiresAt)
}

// Expired reports whether the access token is known to expire within skew of
// now. A pair without an expiry is never considered expired.
func (p *Pair) Expired(now time.Time, skew time.Duration) bool {
	if p == nil || p.ExpiresAt == nil {
		return false
	}
	return !now.Add(skew).Before(*p.ExpiresAt)
}

// OAuth2 converts the pair for use with golang.org/x/oauth2 clients.
func (p *Pair) OAuth2() *oauth2.Token {
	if p == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       utils.Value(p.ExpiresAt),
	}
}

func FromOAuth2(t *oauth2.Token) *Pair {
	if t == nil {
		return nil
	}
	p := &Pair{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if !t.Expiry.IsZero() {
		expiry := t.Expiry
		p.ExpiresAt = &expiry
	}
	return p
}

func (p *Pair) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a stored pair. Anything that is not a JSON object with a
// non-empty access token is reported as errors.ErrCorruptEntry.
func Decode(data []byte) (*Pair, error) {
	var p Pair
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(errors.ErrCorruptEntry, "decode token pair: %v", err)
	}
	if strings.TrimSpace(p.AccessToken) == "" {
		return nil, errors.Wrapf(errors.ErrCorruptEntry, "decode token pair: missing access token")
	}
	return &p, nil
}
