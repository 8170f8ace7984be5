package auth

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
)

// tokenBody accepts both the camelCase shape of the session API and the
// snake_case shape of an OAuth2 token endpoint. Some deployments nest the
// pair under "tokens" next to the user info.
type tokenBody struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    json.RawMessage `json:"expiresAt"`
	ExpiresIn    json.RawMessage `json:"expiresIn"`

	OAuthAccessToken  string          `json:"access_token"`
	OAuthRefreshToken string          `json:"refresh_token"`
	OAuthExpiresIn    json.RawMessage `json:"expires_in"`

	Tokens *tokenBody `json:"tokens"`
}

func pairFromBody(data []byte, now time.Time) (*token.Pair, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.Wrapf(errors.ErrProtocol, "empty response body")
	}

	var body tokenBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errors.Wrapf(errors.ErrProtocol, "decode token response: %v", err)
	}
	if body.Tokens != nil {
		body = *body.Tokens
	}

	pair := &token.Pair{
		AccessToken:  firstNonEmpty(body.AccessToken, body.OAuthAccessToken),
		RefreshToken: firstNonEmpty(body.RefreshToken, body.OAuthRefreshToken),
	}
	if pair.AccessToken == "" {
		return nil, errors.Wrapf(errors.ErrProtocol, "token response has no access token")
	}

	pair.ExpiresAt = expiry(body, pair.AccessToken, now)
	return pair, nil
}

// expiry prefers an explicit timestamp (RFC 3339 or unix seconds), then a
// relative lifetime in seconds, then the access token's own exp claim.
func expiry(body tokenBody, accessToken string, now time.Time) *time.Time {
	var at string
	if json.Unmarshal(body.ExpiresAt, &at) == nil && at != "" {
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			return &t
		}
	}
	if secs, ok := number(body.ExpiresAt); ok && secs > 0 {
		t := time.Unix(int64(secs), 0).UTC()
		return &t
	}

	for _, raw := range []json.RawMessage{body.ExpiresIn, body.OAuthExpiresIn} {
		if secs, ok := number(raw); ok && secs > 0 {
			t := now.Add(time.Duration(secs * float64(time.Second)))
			return &t
		}
	}

	if claims, err := token.ParseClaims(accessToken); err == nil {
		return claims.ExpiresAt
	}
	return nil
}

// number accepts a JSON number or a numeric string.
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return n, err == nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
