// Package auth talks to the external auth service: it exchanges credentials
// or a refresh token for a token pair. It never stores tokens itself.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20

	RequestIDHeader = "X-Request-ID"
)

// Paths are the auth service endpoints, relative to the base URL.
type Paths struct {
	Login   string
	Refresh string
	Logout  string
}

var DefaultPaths = Paths{
	Login:   "/api/auth/login",
	Refresh: "/api/auth/refresh",
	Logout:  "/api/auth/logout",
}

// Credentials are sent as-is to the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type Client struct {
	baseURL    string
	paths      Paths
	httpClient *http.Client
	logger     zerolog.Logger
	nowTime    func() time.Time
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPaths overrides individual endpoints; empty fields keep the default.
func WithPaths(p Paths) ClientOption {
	return func(c *Client) {
		if p.Login != "" {
			c.paths.Login = p.Login
		}
		if p.Refresh != "" {
			c.paths.Refresh = p.Refresh
		}
		if p.Logout != "" {
			c.paths.Logout = p.Logout
		}
	}
}

// WithNowTime sets the clock used to turn expiresIn into an absolute time
// (primarily for testing).
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		paths:      DefaultPaths,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.Logger,
		nowTime:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "auth_client").Logger()
	return c
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (*token.Pair, error) {
	return c.tokenRequest(ctx, "Login", c.paths.Login, creds, DefaultLoginMessage)
}

// Refresh exchanges a refresh token for a new pair. An empty refresh token
// fails without a network call.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, errors.ErrMissingRefreshToken
	}
	return c.tokenRequest(ctx, "Refresh", c.paths.Refresh, refreshRequest{RefreshToken: refreshToken}, DefaultRefreshMessage)
}

// Logout tells the auth service to end the session behind accessToken.
// Callers clear local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	status, data, err := c.post(ctx, "Logout", c.paths.Logout, accessToken, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return newRequestError(status, c.decode(data), DefaultLogoutMessage)
	}
	return nil
}

func (c *Client) tokenRequest(ctx context.Context, op, path string, body any, defaultMessage string) (*token.Pair, error) {
	status, data, err := c.post(ctx, op, path, "", body)
	if err != nil {
		return nil, err
	}

	payload := c.decode(data)
	if status < 200 || status > 299 {
		reqErr := newRequestError(status, payload, defaultMessage)
		c.logger.Debug().Str("op", op).Int("status", status).Str("message", reqErr.Message).Msg("auth request rejected")
		return nil, reqErr
	}

	pair, err := pairFromBody(data, c.nowTime())
	if err != nil {
		c.logger.Warn().Str("op", op).Int("status", status).Err(err).Msg("unusable auth response")
		body, _ := payload.(map[string]any)
		return nil, &RequestError{Status: status, Payload: body, Message: defaultMessage, Err: err}
	}
	return pair, nil
}

func (c *Client) post(ctx context.Context, op, path, bearer string, body any) (int, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, pkgerrors.Wrapf(err, "[%s] encode request", op)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, pkgerrors.Wrapf(err, "[%s] build request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, pkgerrors.Wrapf(err, "[%s] request failed", op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, pkgerrors.Wrapf(err, "[%s] read response", op)
	}
	return resp.StatusCode, data, nil
}

// decode parses a JSON body, returning nil for empty or invalid bodies.
func (c *Client) decode(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse auth service response")
		return nil
	}
	return payload
}
