// Package httpclient sends API requests with the current bearer token. On a
// 401 it refreshes once (sharing the refresh with concurrent requests) and
// retries once; if the session cannot be refreshed it forces a logout.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/token"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 10 << 20

	RequestIDHeader = "X-Request-ID"
)

// Tokens supplies the current access token. *token.Store implements it.
type Tokens interface {
	AccessToken(ctx context.Context) string
}

// Refresher is the shared refresh and forced logout. *refresh.Coordinator
// implements it.
type Refresher interface {
	RefreshRejected(ctx context.Context, accessToken string) (*token.Pair, error)
	ExpireRejected(ctx context.Context, accessToken string, cause error) bool
}

// Request describes one API call. Body is sent as JSON unless it is an
// io.Reader or []byte, which are sent as-is.
type Request struct {
	Method   string
	Path     string // Relative to the base URL, or an absolute URL
	Query    url.Values
	Header   http.Header
	Body     any
	SkipAuth bool // No bearer token and no refresh handling
}

type Response struct {
	Status int
	Header http.Header
	Body   any    // Decoded JSON, nil for empty, 204 or unparseable bodies
	Raw    []byte // Body bytes as received
}

// Decode unmarshals the body into out. It does nothing when Body is nil.
func (r *Response) Decode(out any) error {
	if r == nil || r.Body == nil || out == nil {
		return nil
	}
	return json.Unmarshal(r.Raw, out)
}

type Client struct {
	baseURL    string
	tokens     Tokens
	refresher  Refresher
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func New(baseURL string, tokens Tokens, refresher Refresher, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		refresher:  refresher,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "httpclient").Logger()
	return c
}

// Do sends req. A 401 triggers (or joins) a refresh and one retry with the
// new token; a 401 on the retry is returned as is. If the refresh fails the
// session is force-logged-out and an HTTPError with AuthExpiredMessage that
// wraps errors.ErrSessionExpired is returned.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()

	status, header, data, sentToken, err := c.send(ctx, req, body, requestID)
	if err != nil {
		return nil, err
	}
	if status != http.StatusUnauthorized || req.SkipAuth {
		return c.finish(status, header, data)
	}

	if err := c.resolveUnauthorized(ctx, sentToken, status, data); err != nil {
		return nil, err
	}

	c.metrics.RequestRetried()
	status, header, data, _, err = c.send(ctx, req, body, requestID)
	if err != nil {
		return nil, err
	}
	return c.finish(status, header, data)
}

// resolveUnauthorized makes a new access token available after a 401, or
// returns the error to surface, forcing a logout if the refresh failed.
func (c *Client) resolveUnauthorized(ctx context.Context, sentToken string, status int, data []byte) error {
	if sentToken != "" && c.tokens.AccessToken(ctx) == "" {
		// The session ended while this request was in flight.
		return newExpiredError(status, c.decode(data), errors.ErrSessionExpired)
	}

	_, err := c.refresher.RefreshRejected(ctx, sentToken)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, errors.ErrStaleResponse) {
		// Logged out or logged in again while refreshing; nothing to force.
		if now := c.tokens.AccessToken(ctx); now != "" && now != sentToken {
			return nil
		}
		return newExpiredError(status, c.decode(data), errors.ErrSessionExpired, err)
	}

	c.logger.Debug().Err(err).Msg("refresh after 401 failed")
	c.refresher.ExpireRejected(ctx, sentToken, err)
	return newExpiredError(status, c.decode(data), errors.ErrSessionExpired, err)
}

func newExpiredError(status int, payload any, errs ...error) *HTTPError {
	e := newHTTPError(status, payload, errs...)
	e.Message = AuthExpiredMessage
	return e
}

func (c *Client) send(ctx context.Context, req Request, body []byte, requestID string) (int, http.Header, []byte, string, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(req.Path, req.Query), reader)
	if err != nil {
		return 0, nil, nil, "", pkgerrors.Wrapf(err, "[%s %s] build request", method, req.Path)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)

	var sentToken string
	if !req.SkipAuth {
		if sentToken = c.tokens.AccessToken(ctx); sentToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+sentToken)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, "", pkgerrors.Wrapf(err, "[%s %s] request failed", method, req.Path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, "", pkgerrors.Wrapf(err, "[%s %s] read response", method, req.Path)
	}
	return resp.StatusCode, resp.Header, data, sentToken, nil
}

func (c *Client) finish(status int, header http.Header, data []byte) (*Response, error) {
	var payload any
	if status != http.StatusNoContent {
		payload = c.decode(data)
	}
	if status < 200 || status > 299 {
		return nil, newHTTPError(status, payload)
	}
	return &Response{Status: status, Header: header, Body: payload, Raw: data}, nil
}

// decode parses a JSON body, returning nil for empty or invalid bodies.
func (c *Client) decode(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse JSON response")
		return nil
	}
	return payload
}

func (c *Client) url(path string, query url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u = c.baseURL + path
	}
	if len(query) == 0 {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + query.Encode()
	}
	return u + "?" + query.Encode()
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "read request body")
		}
		return data, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "encode request body")
		}
		return data, nil
	}
}
