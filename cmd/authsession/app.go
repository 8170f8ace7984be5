package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/authevents"
	"github.com/jrsteele09/go-auth-session/httpclient"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/token/filerepo"
	"github.com/jrsteele09/go-auth-session/token/redisrepo"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the wired session stack for one CLI invocation.
type app struct {
	cfg      config.Config
	baseURL  string
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	fileRepo    *filerepo.Repo // nil unless the file backend is used
	redisClient *redis.Client
	store       *token.Store
	bus         *authevents.Bus
	auth        *auth.Client
	refresher   *refresh.Coordinator
	client      *httpclient.Client
	users       *users.Service
	manager     *sessions.Manager
}

type appOptions struct {
	configPath string
	baseURL    string
	logLevel   string
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.GetLogLevel()
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	a := &app{
		cfg:      cfg,
		baseURL:  cfg.GetAPIBaseURL(),
		logger:   logging.New(cfg.GetEnv(), level),
		registry: prometheus.NewRegistry(),
	}
	if opts.baseURL != "" {
		a.baseURL = config.NormalizeBaseURL(opts.baseURL)
	}

	if a.metrics, err = metrics.New(a.registry); err != nil {
		return nil, errors.Wrap(err, "[newApp] register metrics")
	}

	repo, err := a.openRepo(ctx)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.GetHTTPTimeout()}
	a.store = token.NewStore(ctx, repo,
		token.WithStorageKey(cfg.GetStorageKey()),
		token.WithLogger(a.logger))
	a.bus = authevents.NewBus(authevents.WithLogger(a.logger))
	a.auth = auth.NewClient(a.baseURL,
		auth.WithHTTPClient(httpClient),
		auth.WithLogger(a.logger))
	a.refresher = refresh.NewCoordinator(a.store, a.auth, a.bus,
		refresh.WithLogger(a.logger),
		refresh.WithMetrics(a.metrics),
		refresh.WithTimeout(cfg.GetRefreshTimeout()))
	a.client = httpclient.New(a.baseURL, a.store, a.refresher,
		httpclient.WithHTTPClient(httpClient),
		httpclient.WithLogger(a.logger),
		httpclient.WithMetrics(a.metrics))
	a.users = users.NewService(a.client, users.WithPath(cfg.GetCurrentUserPath()))

	a.manager, err = sessions.New(ctx, sessions.Deps{
		Store:  a.store,
		Auth:   a.auth,
		Users:  a.users,
		Events: a.bus,
	},
		sessions.WithLogger(a.logger),
		sessions.WithMetrics(a.metrics),
		sessions.WithRestoreTimeout(cfg.GetRestoreTimeout()))
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRepo(ctx context.Context) (token.Repo, error) {
	switch a.cfg.GetStorageBackend() {
	case config.StorageBackendMemory:
		a.logger.Warn().Msg("memory storage selected, the session ends with this process")
		return nil, nil
	case config.StorageBackendRedis:
		client, err := redisrepo.NewClient(ctx, a.cfg.GetRedisAddr(), a.cfg.GetRedisPassword(), a.cfg.GetRedisDB())
		if err != nil {
			return nil, err
		}
		a.redisClient = client
		return redisrepo.New(client,
			redisrepo.WithPrefix(a.cfg.GetRedisPrefix()),
			redisrepo.WithTTL(a.cfg.GetRedisTTL())), nil
	default:
		repo, err := filerepo.New(a.cfg.GetStorageDir(),
			filerepo.WithPassphrase(a.cfg.GetStoragePassphrase()),
			filerepo.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.fileRepo = repo
		return repo, nil
	}
}

// ready waits for the start-up restore to settle.
func (a *app) ready(ctx context.Context) (sessions.Snapshot, error) {
	select {
	case <-a.manager.Ready():
		return a.manager.Snapshot(), nil
	case <-ctx.Done():
		return sessions.Snapshot{}, ctx.Err()
	}
}

// watchStorage reloads the store when another process changes the session
// file. Only the file backend can be watched.
func (a *app) watchStorage(ctx context.Context) error {
	if a.fileRepo == nil {
		return nil
	}
	return a.fileRepo.Watch(ctx, a.cfg.GetStorageKey(), func() {
		a.store.Reload(ctx)
	})
}

// verifyClaims decodes the access token claims, checking the signature
// against the configured JWKS when there is one.
func (a *app) verifyClaims(ctx context.Context, pair *token.Pair) (*token.Claims, bool, error) {
	if pair == nil {
		return nil, false, fmt.Errorf("not signed in")
	}
	jwksURL := a.cfg.GetJWKSURL()
	if jwksURL == "" {
		claims, err := pair.Claims()
		return claims, false, err
	}
	claims, err := token.NewRemoteVerifier(ctx, jwksURL).Verify(ctx, pair.AccessToken)
	return claims, true, err
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Dispose()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("closing redis client")
		}
	}
}
