package token

import (
	"context"
	"encoding/json"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// Verifier checks access token signatures against a JSON Web Key Set before
// decoding claims. It is optional: clients that only display claims can use
// ParseClaims directly.
type Verifier struct {
	keySet oidc.KeySet
}

// NewVerifier wraps any oidc.KeySet, e.g. oidc.StaticKeySet in tests.
func NewVerifier(keySet oidc.KeySet) *Verifier {
	return &Verifier{keySet: keySet}
}

// NewRemoteVerifier fetches and caches keys from jwksURL. ctx governs the
// background key fetches, not a single verification.
func NewRemoteVerifier(ctx context.Context, jwksURL string) *Verifier {
	return NewVerifier(oidc.NewRemoteKeySet(ctx, jwksURL))
}

// Verify checks the signature of raw and returns its claims. Expiry is not
// enforced here; callers compare Claims.ExpiresAt themselves.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	payload, err := v.keySet.VerifySignature(ctx, raw)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "verify signature: %v", err)
	}

	var mapClaims jwt.MapClaims
	if err := json.Unmarshal(payload, &mapClaims); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "decode verified payload: %v", err)
	}
	return claimsFromMap(mapClaims)
}
