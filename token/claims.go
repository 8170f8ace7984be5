package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
)

// Role is an application role carried in the access token.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleUser     Role = "USER"
	RoleProvider Role = "PROVIDER"
)

// knownRoles is the precedence used by PrimaryRole.
var knownRoles = []Role{RoleAdmin, RoleUser, RoleProvider}

// Claims is the subset of access token claims the client cares about.
type Claims struct {
	Subject   string
	Email     string
	Roles     []string
	ExpiresAt *time.Time
	IssuedAt  *time.Time
}

// ParseClaims decodes the payload of a JWT access token without checking its
// signature. The server is the authority on validity; this is only used for
// display and for deriving a missing expiry.
func ParseClaims(raw string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "parse access token: %v", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "unexpected claims type %T", parsed.Claims)
	}
	return claimsFromMap(mapClaims)
}

func claimsFromMap(mapClaims jwt.MapClaims) (*Claims, error) {
	c := &Claims{}
	c.Subject, _ = mapClaims.GetSubject()
	if email, ok := mapClaims["email"].(string); ok {
		c.Email = email
	}

	c.Roles = utils.ToStringSlice(mapClaims["roles"])
	if len(c.Roles) == 0 {
		c.Roles = utils.ToStringSlice(mapClaims["role"])
	}

	exp, err := mapClaims.GetExpirationTime()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "exp claim: %v", err)
	}
	if exp != nil {
		c.ExpiresAt = utils.Ptr(exp.Time)
	}

	iat, err := mapClaims.GetIssuedAt()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "iat claim: %v", err)
	}
	if iat != nil {
		c.IssuedAt = utils.Ptr(iat.Time)
	}
	return c, nil
}

// PrimaryRole returns the highest known role in the claims, or "" if the
// token carries none of them.
func (c *Claims) PrimaryRole() Role {
	if c == nil {
		return ""
	}
	for _, known := range knownRoles {
		for _, r := range c.Roles {
			if strings.EqualFold(r, string(known)) {
				return known
			}
		}
	}
	return ""
}

func (c *Claims) HasRole(role Role) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if strings.EqualFold(r, string(role)) {
			return true
		}
	}
	return false
}

// Claims decodes the access token of the pair. See ParseClaims.
func (p *Pair) Claims() (*Claims, error) {
	if p == nil || p.AccessToken == "" {
		return nil, errors.ErrMissingAccessToken
	}
	return ParseClaims(p.AccessToken)
}
