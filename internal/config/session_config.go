package config

import "time"

type SessionConfig interface {
	GetCurrentUserPath() string
	GetHTTPTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetRestoreTimeout() time.Duration
	GetJWKSURL() string
}

func (c mainConfig) GetCurrentUserPath() string {
	if c.CurrentUserPath == "" {
		return "/api/users/me"
	}
	return c.CurrentUserPath
}

func (c mainConfig) GetHTTPTimeout() time.Duration {
	if c.HTTPTimeout <= 0 {
		return 15 * time.Second
	}
	return c.HTTPTimeout
}

func (c mainConfig) GetRefreshTimeout() time.Duration {
	if c.RefreshTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RefreshTimeout
}

func (c mainConfig) GetRestoreTimeout() time.Duration {
	if c.RestoreTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RestoreTimeout
}

// GetJWKSURL returns the key set used to verify access token signatures
// before their claims are trusted; empty disables verification.
func (c mainConfig) GetJWKSURL() string {
	return c.JWKSURL
}
