// Package refresh makes sure at most one token refresh is in flight per
// store, and clears the session when a refresh cannot save it.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/authevents"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout = 30 * time.Second
	defaultSkew    = 30 * time.Second
)

// Refresher exchanges a refresh token for a new pair. *auth.Client
// implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*token.Pair, error)
}

// call is one in-flight refresh. pair and err are written before done is
// closed and never after.
type call struct {
	done chan struct{}
	pair *token.Pair
	err  error
}

type Coordinator struct {
	store     *token.Store
	refresher Refresher
	bus       *authevents.Bus
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
	skew      time.Duration
	nowTime   func() time.Time

	mu      sync.Mutex
	pending *call
}

type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTimeout bounds a refresh call. Callers that stop waiting do not cancel
// it; only this timeout does.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExpirySkew treats access tokens as expired this long before their
// actual expiry in TokenSource.
func WithExpirySkew(d time.Duration) Option {
	return func(c *Coordinator) {
		c.skew = d
	}
}

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowTime = nowFunc
	}
}

// NewCoordinator wires a refresher to store. bus may be nil, in which case
// forced logouts are not broadcast.
func NewCoordinator(store *token.Store, refresher Refresher, bus *authevents.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		bus:       bus,
		logger:    log.Logger,
		timeout:   defaultTimeout,
		skew:      defaultSkew,
		nowTime:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "refresh").Logger()
	return c
}

// Refresh returns a fresh pair, starting a refresh or joining the one already
// in flight. Every caller waiting on the same refresh gets the same result.
// On success the new pair is already in the store. If the store was written
// by someone else while the refresh ran (a logout, a new login), the result
// is discarded and errors.ErrStaleResponse returned.
func (c *Coordinator) Refresh(ctx context.Context) (*token.Pair, error) {
	return c.refresh(ctx, "", false)
}

// RefreshRejected is Refresh for a caller whose request was rejected with
// accessToken. If the store already holds a different access token, because
// a refresh finished after the request was sent, that pair is returned
// without another network call.
func (c *Coordinator) RefreshRejected(ctx context.Context, accessToken string) (*token.Pair, error) {
	return c.refresh(ctx, accessToken, true)
}

func (c *Coordinator) refresh(ctx context.Context, rejected string, conditional bool) (*token.Pair, error) {
	c.mu.Lock()
	if p := c.pending; p != nil {
		c.mu.Unlock()
		c.metrics.RefreshJoined()
		return wait(ctx, p)
	}

	// A finished refresh has written the store before clearing pending, so
	// current is up to date here.
	current, version := c.store.Current(ctx)
	if conditional && current != nil && current.AccessToken != "" && current.AccessToken != rejected {
		c.mu.Unlock()
		return current, nil
	}
	if current == nil || current.RefreshToken == "" {
		c.mu.Unlock()
		return nil, errors.ErrMissingRefreshToken
	}

	p := &call{done: make(chan struct{})}
	c.pending = p
	c.mu.Unlock()

	c.metrics.RefreshStarted()
	go c.run(context.WithoutCancel(ctx), p, version, current.RefreshToken)
	return wait(ctx, p)
}

// Pending reports whether a refresh is in flight.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func wait(ctx context.Context, p *call) (*token.Pair, error) {
	select {
	case <-p.done:
		return p.pair.Clone(), p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, p *call, version uint64, refreshToken string) {
	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		close(p.done)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pair, err := c.refresher.Refresh(ctx, refreshToken)
	switch {
	case err != nil:
		p.err = err
		c.metrics.RefreshCompleted(metrics.OutcomeFailure)
		c.logger.Debug().Err(err).Msg("refresh failed")
		return
	case pair == nil || pair.AccessToken == "":
		p.err = errors.Wrapf(errors.ErrMissingAccessToken, "refresh returned no tokens")
		c.metrics.RefreshCompleted(metrics.OutcomeFailure)
		return
	}

	pair = pair.Clone()
	if pair.RefreshToken == "" {
		// Not every server rotates refresh tokens.
		pair.RefreshToken = refreshToken
	}

	if !c.store.CompareAndSet(ctx, version, pair) {
		p.err = errors.ErrStaleResponse
		c.metrics.RefreshCompleted(metrics.OutcomeStale)
		c.logger.Debug().Msg("discarding refresh result, tokens changed meanwhile")
		return
	}

	p.pair = pair
	c.metrics.RefreshCompleted(metrics.OutcomeSuccess)
	c.logger.Debug().Msg("tokens refreshed")
}

// ForceLogout clears the store and broadcasts SessionExpired. cause is
// recorded on the event for diagnostics and may be nil.
func (c *Coordinator) ForceLogout(ctx context.Context, cause error) {
	c.store.Set(ctx, nil)
	c.expired(cause)
}

// ExpireRejected is ForceLogout for a request rejected with accessToken
// ("" for a request sent without one). It does nothing and returns false if
// the store no longer holds that token, so callers sharing one failed refresh
// log out once.
func (c *Coordinator) ExpireRejected(ctx context.Context, accessToken string, cause error) bool {
	current, version := c.store.Current(ctx)
	switch {
	case current == nil && accessToken != "":
		return false
	case current != nil && current.AccessToken != accessToken:
		return false
	}
	if !c.store.CompareAndSet(ctx, version, nil) {
		return false
	}
	c.expired(cause)
	return true
}

func (c *Coordinator) expired(cause error) {
	c.metrics.ForcedLogout()

	event := authevents.Event{Kind: authevents.SessionExpired}
	if cause != nil {
		event.Reason = cause.Error()
	}
	c.logger.Info().Str("reason", event.Reason).Msg("session expired, forced logout")

	if c.bus != nil {
		c.bus.Publish(event)
	}
}

// TokenSource adapts the store for golang.org/x/oauth2: it returns the
// stored pair, refreshing first when the access token is known to expire
// within the configured skew.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Coordinator
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	p := ts.c.store.Get(ts.ctx)
	if p == nil {
		return nil, errors.ErrMissingAccessToken
	}
	if !p.Expired(ts.c.nowTime(), ts.c.skew) {
		return p.OAuth2(), nil
	}

	refreshed, err := ts.c.Refresh(ts.ctx)
	if errors.Is(err, errors.ErrStaleResponse) {
		// Someone else wrote the store; use whatever is there now.
		if p = ts.c.store.Get(ts.ctx); p != nil {
			return p.OAuth2(), nil
		}
		return nil, errors.ErrMissingAccessToken
	}
	if err != nil {
		return nil, err
	}
	return refreshed.OAuth2(), nil
}
