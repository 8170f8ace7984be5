package sessions_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/authevents"
	"github.com/jrsteele09/go-auth-session/httpclient"
	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	tokenfakerepo "github.com/jrsteele09/go-auth-session/token/repofake"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/jrsteele09/go-auth-session/users/userfake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	testCreds = auth.Credentials{Email: "user@test.com", Password: "secret123"}
	testPair  = &token.Pair{AccessToken: "access-token", RefreshToken: "refresh-token"}
	testUser  = &users.User{ID: "user-1", Email: "user@test.com", Name: "Test User", Role: "USER"}
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeAuth struct {
	mu      sync.Mutex
	pair    *token.Pair
	err     error
	gate    chan struct{}
	logins  int
	logouts []string
}

func (a *fakeAuth) Login(ctx context.Context, _ auth.Credentials) (*token.Pair, error) {
	a.mu.Lock()
	a.logins++
	gate := a.gate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return a.pair.Clone(), nil
}

func (a *fakeAuth) Logout(_ context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts = append(a.logouts, accessToken)
	return nil
}

func (a *fakeAuth) loginCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logins
}

func (a *fakeAuth) logoutCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.logouts...)
}

// recorder collects published snapshots and checks the status invariants on
// each one.
type recorder struct {
	t     *testing.T
	mu    sync.Mutex
	snaps []sessions.Snapshot
}

func (r *recorder) add(s sessions.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch s.Status {
	case sessions.StatusAuthenticated:
		if s.Tokens == nil {
			r.t.Errorf("authenticated snapshot without tokens: %+v", s)
		}
	case sessions.StatusIdle:
		if s.Tokens != nil || s.CurrentUser != nil {
			r.t.Errorf("idle snapshot with session data: %+v", s)
		}
	}
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []sessions.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sessions.Snapshot(nil), r.snaps...)
}

func (r *recorder) statuses() []sessions.Status {
	var out []sessions.Status
	for _, s := range r.all() {
		out = append(out, s.Status)
	}
	return out
}

func (r *recorder) last() sessions.Snapshot {
	all := r.all()
	return all[len(all)-1]
}

type testFixture struct {
	repo  *tokenfakerepo.FakeTokenRepo
	store *token.Store
	auth  *fakeAuth
	users *userfake.FakeUserFetcher
	bus   *authevents.Bus
}

func setupFixture(t *testing.T, stored *token.Pair) *testFixture {
	t.Helper()
	ctx := context.Background()

	f := &testFixture{
		repo:  tokenfakerepo.NewFakeTokenRepo(),
		auth:  &fakeAuth{pair: testPair},
		users: userfake.NewFakeUserFetcher(testUser),
		bus:   authevents.NewBus(authevents.WithLogger(zerolog.Nop())),
	}
	if stored != nil {
		data, err := stored.Encode()
		require.NoError(t, err)
		f.repo.Put(token.DefaultStorageKey, data)
	}
	f.store = token.NewStore(ctx, f.repo, token.WithLogger(zerolog.Nop()))
	t.Cleanup(f.store.Close)
	return f
}

func (f *testFixture) newManager(t *testing.T) (*sessions.Manager, *recorder) {
	t.Helper()
	m, err := sessions.New(context.Background(), sessions.Deps{
		Store:  f.store,
		Auth:   f.auth,
		Users:  f.users,
		Events: f.bus,
	}, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(m.Dispose)

	rec := &recorder{t: t}
	m.Subscribe(rec.add)
	return m, rec
}

func waitReady(t *testing.T, m *sessions.Manager) {
	t.Helper()
	select {
	case <-m.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("restore did not settle")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	f := setupFixture(t, nil)

	_, err := sessions.New(context.Background(), sessions.Deps{Auth: f.auth, Users: f.users})
	require.Error(t, err)
	_, err = sessions.New(context.Background(), sessions.Deps{Store: f.store, Users: f.users})
	require.Error(t, err)
	_, err = sessions.New(context.Background(), sessions.Deps{Store: f.store, Auth: f.auth})
	require.Error(t, err)
}

func TestManager_StartsIdleWithoutStoredTokens(t *testing.T) {
	f := setupFixture(t, nil)
	m, rec := f.newManager(t)
	waitReady(t, m)

	require.Equal(t, sessions.Snapshot{Status: sessions.StatusIdle}, m.Snapshot())
	require.Equal(t, []sessions.Status{sessions.StatusIdle}, rec.statuses())
	require.Equal(t, 0, f.users.Calls())
}

func TestManager_LoginSucceeds(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	m, rec := f.newManager(t)

	user, err := m.Login(ctx, testCreds)
	require.NoError(t, err)
	require.Equal(t, testUser, user)

	require.Equal(t, []sessions.Status{
		sessions.StatusIdle,
		sessions.StatusAuthenticating,
		sessions.StatusAuthenticating,
		sessions.StatusAuthenticated,
	}, rec.statuses())

	snap := m.Snapshot()
	require.Equal(t, sessions.StatusAuthenticated, snap.Status)
	require.True(t, snap.Tokens.Equal(testPair))
	require.Equal(t, testUser, snap.CurrentUser)
	require.Empty(t, snap.Error)
	require.True(t, f.store.Get(ctx).Equal(testPair))
	require.True(t, f.repo.Has(token.DefaultStorageKey))
}

func TestManager_LoginFails(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "server message",
			err:     &auth.RequestError{Status: 401, Message: "Invalid email or password"},
			message: "Invalid email or password",
		},
		{
			name:    "fallback",
			err:     &auth.RequestError{Status: 500},
			message: sessions.LoginFailedMessage,
		},
		{
			name:    "plain error",
			err:     errors.New("connection refused"),
			message: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := setupFixture(t, nil)
			f.auth.err = tt.err
			m, rec := f.newManager(t)

			user, err := m.Login(ctx, testCreds)
			require.Nil(t, user)
			require.Equal(t, tt.err, err)

			snap := rec.last()
			require.Equal(t, sessions.StatusError, snap.Status)
			require.Nil(t, snap.Tokens)
			require.Nil(t, snap.CurrentUser)
			require.Equal(t, tt.message, snap.Error)
			require.Equal(t, sessions.ReasonLoginFailed, snap.Reason)
			require.Nil(t, f.store.Get(ctx))
		})
	}
}

func TestManager_LoginUserFetchFailureClearsTokens(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	f.users.SetErr(&httpclient.HTTPError{Status: 500, Message: "db down"})
	m, _ := f.newManager(t)

	_, err := m.Login(ctx, testCreds)
	require.Error(t, err)

	snap := m.Snapshot()
	require.Equal(t, sessions.StatusError, snap.Status)
	require.Equal(t, "db down", snap.Error)
	require.Nil(t, snap.Tokens)
	require.Nil(t, f.store.Get(ctx))
	require.False(t, f.repo.Has(token.DefaultStorageKey))
}

func TestManager_LogoutFromAnyState(t *testing.T) {
	ctx := context.Background()
	want := sessions.Snapshot{Status: sessions.StatusIdle}

	t.Run("authenticated", func(t *testing.T) {
		f := setupFixture(t, nil)
		m, rec := f.newManager(t)
		_, err := m.Login(ctx, testCreds)
		require.NoError(t, err)

		m.Logout(ctx)
		require.Equal(t, want, m.Snapshot())
		require.Equal(t, want, rec.last())
		require.False(t, f.repo.Has(token.DefaultStorageKey))
		require.Eventually(t, func() bool {
			calls := f.auth.logoutCalls()
			return len(calls) == 1 && calls[0] == testPair.AccessToken
		}, waitFor, tick)
	})

	t.Run("error", func(t *testing.T) {
		f := setupFixture(t, nil)
		f.auth.err = &auth.RequestError{Status: 401, Message: "nope"}
		m, _ := f.newManager(t)
		_, err := m.Login(ctx, testCreds)
		require.Error(t, err)

		m.Logout(ctx)
		require.Equal(t, want, m.Snapshot())
		require.Empty(t, f.auth.logoutCalls())
	})

	t.Run("idle", func(t *testing.T) {
		f := setupFixture(t, nil)
		m, _ := f.newManager(t)

		m.Logout(ctx)
		require.Equal(t, want, m.Snapshot())
	})

	t.Run("authenticating", func(t *testing.T) {
		f := setupFixture(t, testPair)
		release := f.users.Hold()
		m, _ := f.newManager(t)
		require.Equal(t, sessions.StatusAuthenticating, m.Snapshot().Status)

		m.Logout(ctx)
		require.Equal(t, want, m.Snapshot())
		release()
		waitReady(t, m)
		require.Equal(t, want, m.Snapshot())
		require.Nil(t, f.store.Get(ctx))
	})
}

func TestManager_RestoresStoredSession(t *testing.T) {
	f := setupFixture(t, testPair)
	release := f.users.Hold()
	m, rec := f.newManager(t)
	release()
	waitReady(t, m)

	snap := m.Snapshot()
	require.Equal(t, sessions.StatusAuthenticated, snap.Status)
	require.True(t, snap.Tokens.Equal(testPair))
	require.Equal(t, testUser, snap.CurrentUser)
	require.Equal(t, []sessions.Status{sessions.StatusAuthenticating, sessions.StatusAuthenticated}, rec.statuses())
}

func TestManager_RestoreFailureIsIdle(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, testPair)
	f.users.SetErr(&httpclient.HTTPError{Status: 500, Message: "db down"})
	m, _ := f.newManager(t)
	waitReady(t, m)

	require.Equal(t, sessions.Snapshot{
		Status: sessions.StatusIdle,
		Error:  "db down",
		Reason: sessions.ReasonRestoreFailed,
	}, m.Snapshot())
	require.Nil(t, f.store.Get(ctx))
	require.False(t, f.repo.Has(token.DefaultStorageKey))
}

func TestManager_RestoresOnce(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, testPair)
	m, _ := f.newManager(t)

	for i := 0; i < 5; i++ {
		m.Subscribe(func(sessions.Snapshot) {})
	}
	waitReady(t, m)

	// An external clear followed by tokens reappearing does not restore again.
	f.store.Set(ctx, nil)
	f.store.Set(ctx, testPair)
	require.Equal(t, 1, f.users.Calls())
	require.Equal(t, sessions.StatusIdle, m.Snapshot().Status)
}

func TestManager_DisposeStopsPublishing(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, testPair)
	release := f.users.Hold()
	m, rec := f.newManager(t)

	m.Dispose()
	before := len(rec.all())
	release()
	waitReady(t, m)

	f.store.Set(ctx, nil)
	f.bus.Publish(authevents.Event{Kind: authevents.SessionExpired})

	require.Len(t, rec.all(), before)
	require.Equal(t, sessions.StatusAuthenticating, m.Snapshot().Status)

	_, err := m.Login(ctx, testCreds)
	require.ErrorIs(t, err, errors.ErrDisposed)
	require.Equal(t, 0, f.auth.loginCalls())

	m.Logout(ctx)
	require.Equal(t, sessions.StatusAuthenticating, m.Snapshot().Status)
	m.Dispose()
}

func TestManager_LogoutWinsOverPendingLogin(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	f.auth.gate = make(chan struct{})
	m, rec := f.newManager(t)

	done := make(chan error, 1)
	go func() {
		_, err := m.Login(ctx, testCreds)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.auth.loginCalls() == 1 }, waitFor, time.Millisecond)

	m.Logout(ctx)
	close(f.auth.gate)

	err := <-done
	require.ErrorIs(t, err, errors.ErrStaleResponse)
	require.Equal(t, sessions.Snapshot{Status: sessions.StatusIdle}, rec.last())
	require.Nil(t, f.store.Get(ctx))
	require.Equal(t, 0, f.users.Calls())
}

func TestManager_SessionExpiredSignal(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	m, rec := f.newManager(t)
	_, err := m.Login(ctx, testCreds)
	require.NoError(t, err)

	f.bus.Publish(authevents.Event{Kind: authevents.SessionExpired, Reason: "refresh rejected"})

	require.Equal(t, sessions.Snapshot{
		Status: sessions.StatusIdle,
		Error:  sessions.SessionExpiredMessage,
		Reason: sessions.ReasonSessionExpired,
	}, rec.last())
	require.Nil(t, f.store.Get(ctx))
}

func TestManager_FollowsStoreChanges(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	m, rec := f.newManager(t)
	_, err := m.Login(ctx, testCreds)
	require.NoError(t, err)

	rotated := &token.Pair{AccessToken: "access-2", RefreshToken: "refresh-2"}
	f.store.Set(ctx, rotated)
	snap := m.Snapshot()
	require.Equal(t, sessions.StatusAuthenticated, snap.Status)
	require.True(t, snap.Tokens.Equal(rotated))

	f.store.Set(ctx, nil)
	require.Equal(t, sessions.Snapshot{Status: sessions.StatusIdle}, rec.last())

	// Tokens written while signed out do not resurrect the session.
	f.store.Set(ctx, rotated)
	require.Equal(t, sessions.Snapshot{Status: sessions.StatusIdle}, m.Snapshot())
}

func TestManager_SnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	m, _ := f.newManager(t)
	_, err := m.Login(ctx, testCreds)
	require.NoError(t, err)

	snap := m.Snapshot()
	snap.Tokens.AccessToken = "mutated"
	snap.CurrentUser.Email = "mutated"

	again := m.Snapshot()
	require.Equal(t, testPair.AccessToken, again.Tokens.AccessToken)
	require.Equal(t, testUser.Email, again.CurrentUser.Email)
}

func TestManager_ReloginAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, nil)
	f.auth.err = &auth.RequestError{Status: 401, Message: "Invalid email or password"}
	m, _ := f.newManager(t)

	_, err := m.Login(ctx, testCreds)
	require.Error(t, err)
	require.Equal(t, sessions.StatusError, m.Snapshot().Status)

	f.auth.mu.Lock()
	f.auth.err = nil
	f.auth.mu.Unlock()

	_, err = m.Login(ctx, testCreds)
	require.NoError(t, err)
	snap := m.Snapshot()
	require.Equal(t, sessions.StatusAuthenticated, snap.Status)
	require.Empty(t, snap.Error)
	require.Equal(t, sessions.ReasonNone, snap.Reason)
}
