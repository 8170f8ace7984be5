// Package sessions owns the session state machine: it logs in and out
// through the auth service, restores a persisted session once at start-up
// and publishes a Snapshot on every transition.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/authevents"
	"github.com/jrsteele09/go-auth-session/httpclient"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/internal/notify"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultRestoreTimeout = 30 * time.Second
	logoutTimeout         = 10 * time.Second
)

// Authenticator is the auth service as seen by the manager; *auth.Client
// implements it.
type Authenticator interface {
	Login(ctx context.Context, creds auth.Credentials) (*token.Pair, error)
	Logout(ctx context.Context, accessToken string) error
}

// UserFetcher loads the signed-in user; *users.Service implements it.
type UserFetcher interface {
	Current(ctx context.Context) (*users.User, error)
}

type Deps struct {
	Store  *token.Store
	Auth   Authenticator
	Users  UserFetcher
	Events *authevents.Bus // optional
}

type Manager struct {
	store          *token.Store
	auth           Authenticator
	users          UserFetcher
	events         *authevents.Bus
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	restoreTimeout time.Duration

	mu               sync.Mutex
	state            Snapshot
	epoch            uint64
	attemptedRestore bool
	disposed         bool
	listeners        *notify.Dispatcher[Snapshot]

	unsubscribeStore  func()
	unsubscribeEvents func()
	ready             chan struct{}
	readyOnce         sync.Once
	background        sync.WaitGroup
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithRestoreTimeout bounds the current-user fetch made when restoring a
// persisted session.
func WithRestoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.restoreTimeout = d
		}
	}
}

// New creates a manager over deps. If the store holds tokens the manager
// starts Authenticating and restores the session in the background; Ready
// is closed once that settles.
func New(ctx context.Context, deps Deps, opts ...Option) (*Manager, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("sessions: token store is required")
	case deps.Auth == nil:
		return nil, errors.New("sessions: authenticator is required")
	case deps.Users == nil:
		return nil, errors.New("sessions: user fetcher is required")
	}

	m := &Manager{
		store:          deps.Store,
		auth:           deps.Auth,
		users:          deps.Users,
		events:         deps.Events,
		logger:         log.Logger,
		restoreTimeout: defaultRestoreTimeout,
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "session_manager").Logger()
	m.listeners = notify.New[Snapshot]("session_manager", m.logger)

	tokens := m.store.Get(ctx)
	m.state = Snapshot{Status: StatusIdle}
	if tokens != nil {
		m.state = Snapshot{Status: StatusAuthenticating, Tokens: tokens}
	}
	m.attemptedRestore = tokens == nil

	m.unsubscribeStore = m.store.Subscribe(m.onTokens)
	m.unsubscribeEvents = func() {}
	if m.events != nil {
		m.unsubscribeEvents = m.events.Subscribe(m.onEvent)
	}

	if tokens == nil {
		m.markReady()
	} else {
		go m.restore(context.WithoutCancel(ctx))
	}
	return m, nil
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe calls fn with the current snapshot and then with every later
// one, in order. After Dispose fn gets the final snapshot only.
func (m *Manager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	if m.disposed {
		snap := m.state.clone()
		m.mu.Unlock()
		fn(snap)
		return func() {}
	}
	unsubscribe := m.listeners.SubscribeWith(m.state.clone(), fn)
	m.mu.Unlock()

	m.listeners.Drain()
	return unsubscribe
}

// Ready is closed once the start-up restore has settled, or immediately when
// there was nothing to restore.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Login signs in with creds, stores the returned tokens and fetches the
// current user. On failure the session is cleared, the snapshot moves to
// Error and the transport error is returned. If a logout or expiry happens
// while the login is in flight, the late result is discarded and
// errors.ErrStaleResponse is returned.
func (m *Manager) Login(ctx context.Context, creds auth.Credentials) (*users.User, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil, errors.ErrDisposed
	}
	m.attemptedRestore = true
	m.epoch++
	epoch := m.epoch
	m.state.Status = StatusAuthenticating
	m.state.Error = ""
	m.state.Reason = ReasonNone
	m.publishLocked()
	m.mu.Unlock()
	m.listeners.Drain()

	pair, err := m.auth.Login(ctx, creds)
	if err != nil {
		return nil, m.loginFailed(ctx, epoch, err)
	}
	if !m.writeTokens(ctx, epoch, pair) {
		return nil, errors.Wrapf(errors.ErrStaleResponse, "login")
	}

	user, err := m.users.Current(ctx)
	if err != nil {
		return nil, m.loginFailed(ctx, epoch, err)
	}

	m.mu.Lock()
	if m.disposed || m.epoch != epoch || m.state.Tokens == nil {
		m.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrStaleResponse, "login")
	}
	m.state.Status = StatusAuthenticated
	m.state.CurrentUser = user.Clone()
	m.state.Error = ""
	m.state.Reason = ReasonNone
	m.publishLocked()
	m.mu.Unlock()
	m.listeners.Drain()

	m.logger.Info().Str("user_id", user.ID).Msg("signed in")
	return user, nil
}

// Logout clears the session immediately and tells the auth service in the
// background. It does nothing after Dispose.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	accessToken := m.store.AccessToken(ctx)
	m.epoch++
	epoch := m.epoch
	m.attemptedRestore = true
	m.state = Snapshot{Status: StatusIdle}
	m.publishLocked()
	m.mu.Unlock()
	m.listeners.Drain()

	m.writeTokens(ctx, epoch, nil)

	if accessToken == "" {
		return
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()
		if err := m.auth.Logout(ctx, accessToken); err != nil {
			m.logger.Debug().Err(err).Msg("server logout failed, local session already cleared")
		}
	}()
}

// Wait blocks until background server logouts have finished or ctx is done.
// Short-lived processes call it before exiting.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose detaches the manager from the store and the event bus and drops
// every listener. Results of calls still in flight are discarded.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.epoch++
	m.mu.Unlock()

	m.unsubscribeStore()
	m.unsubscribeEvents()
	m.listeners.Clear()
	m.markReady()
}

func (m *Manager) restore(ctx context.Context) {
	defer m.markReady()

	m.mu.Lock()
	if m.disposed || m.attemptedRestore || m.state.Tokens == nil {
		m.mu.Unlock()
		return
	}
	m.attemptedRestore = true
	epoch := m.epoch
	m.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, m.restoreTimeout)
	user, err := m.users.Current(fetchCtx)
	cancel()

	m.mu.Lock()
	if m.disposed || m.epoch != epoch {
		m.mu.Unlock()
		m.logger.Debug().Msg("discarding superseded restore result")
		return
	}

	if err == nil && m.state.Tokens != nil {
		m.state.Status = StatusAuthenticated
		m.state.CurrentUser = user.Clone()
		m.state.Error = ""
		m.state.Reason = ReasonNone
		m.publishLocked()
		m.mu.Unlock()
		m.listeners.Drain()
		m.logger.Info().Str("user_id", user.ID).Msg("session restored")
		return
	}

	if err == nil {
		err = errors.ErrMissingAccessToken
	}
	m.epoch++
	epoch = m.epoch
	m.state = Snapshot{
		Status: StatusIdle,
		Error:  errorMessage(err, RestoreFailedMessage),
		Reason: ReasonRestoreFailed,
	}
	m.publishLocked()
	m.mu.Unlock()
	m.listeners.Drain()

	m.logger.Warn().Err(err).Msg("session restore failed")
	m.writeTokens(ctx, epoch, nil)
}

// loginFailed moves a current login to Error, clears the store and returns
// err, or a stale-response error if the login was superseded.
func (m *Manager) loginFailed(ctx context.Context, epoch uint64, err error) error {
	m.mu.Lock()
	if m.disposed || m.epoch != epoch {
		m.mu.Unlock()
		return errors.WrapWith(err, errors.ErrStaleResponse, "login")
	}
	m.epoch++
	epoch = m.epoch
	m.state = Snapshot{
		Status: StatusError,
		Error:  errorMessage(err, LoginFailedMessage),
		Reason: ReasonLoginFailed,
	}
	m.publishLocked()
	m.mu.Unlock()
	m.listeners.Drain()

	m.logger.Warn().Err(err).Msg("sign in failed")
	m.writeTokens(ctx, epoch, nil)
	return err
}

// writeTokens writes p to the store as long as epoch is still current. The
// store is never written under m.mu since its listeners call back into the
// manager.
func (m *Manager) writeTokens(ctx context.Context, epoch uint64, p *token.Pair) bool {
	for {
		m.mu.Lock()
		if m.disposed || m.epoch != epoch {
			m.mu.Unlock()
			return false
		}
		version := m.store.Version()
		m.mu.Unlock()

		if m.store.CompareAndSet(ctx, version, p) {
			return true
		}
	}
}

func (m *Manager) onTokens(p *token.Pair) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}

	switch {
	case p == nil && m.state.Tokens == nil:
		// Already signed out; keep any error on display.
		m.mu.Unlock()
		return
	case p == nil:
		m.epoch++
		m.state = Snapshot{Status: StatusIdle}
	case m.state.Status == StatusIdle || m.state.Status == StatusError:
		m.mu.Unlock()
		m.logger.Debug().Msg("ignoring tokens written outside a session")
		return
	default:
		m.state.Tokens = p.Clone()
	}
	m.publishLocked()
	m.mu.Unlock()
	m.listeners.Drain()
}

func (m *Manager) onEvent(e authevents.Event) {
	if e.Kind != authevents.SessionExpired {
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.epoch++
	epoch := m.epoch
	m.attemptedRestore = true
	m.state = Snapshot{
		Status: StatusIdle,
		Error:  SessionExpiredMessage,
		Reason: ReasonSessionExpired,
	}
	m.publishLocked()
	m.mu.Unlock()
	m.listeners.Drain()

	// The publisher normally cleared the store already.
	ctx := context.Background()
	if m.store.Get(ctx) != nil {
		m.writeTokens(ctx, epoch, nil)
	}
}

// publishLocked queues the current state for listeners; callers Drain after
// releasing m.mu.
func (m *Manager) publishLocked() {
	m.metrics.Transition(string(m.state.Status))
	m.logger.Debug().
		Str("status", string(m.state.Status)).
		Str("reason", string(m.state.Reason)).
		Msg("session state changed")
	m.listeners.Enqueue(m.state.clone())
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

// errorMessage picks the most specific message available for err.
func errorMessage(err error, fallback string) string {
	var reqErr *auth.RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		return httpErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}
