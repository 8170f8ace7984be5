package token

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/internal/notify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultStorageKey is the durable storage key of the persisted pair.
const DefaultStorageKey = "authsession:tokens"

// Listener receives every value passed to Set, including nil on clear.
type Listener func(*Pair)

// Store holds the current token pair for the process and writes it through
// to a Repo. All writes go through Set, CompareAndSet or Reload.
type Store struct {
	repo   Repo
	key    string
	logger zerolog.Logger

	mu        sync.Mutex
	current   *Pair
	written   bool // storage is only re-read lazily until the first write
	version   uint64
	listeners *notify.Dispatcher[*Pair]
}

type StoreOption func(*Store)

func WithStorageKey(key string) StoreOption {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a store and loads any persisted pair. repo may be nil, in
// which case tokens live in memory only.
func NewStore(ctx context.Context, repo Repo, opts ...StoreOption) *Store {
	s := &Store{
		repo:   repo,
		key:    DefaultStorageKey,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "token_store").Logger()
	s.listeners = notify.New[*Pair]("token_store", s.logger)

	s.mu.Lock()
	s.current = s.readLocked(ctx)
	s.mu.Unlock()
	return s
}

// Get returns a copy of the current pair, or nil. Until the store is first
// written, an empty cache falls back to durable storage.
func (s *Store) Get(ctx context.Context) *Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil && !s.written {
		s.current = s.readLocked(ctx)
	}
	return s.current.Clone()
}

// Current returns Get and Version read together, for callers that later
// write with CompareAndSet.
func (s *Store) Current(ctx context.Context) (*Pair, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil && !s.written {
		s.current = s.readLocked(ctx)
	}
	return s.current.Clone(), s.version
}

// Version increases on every write. Pass it to CompareAndSet to make a write
// conditional on nothing else having been written in between.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Set replaces the current pair (nil clears it), persists it and notifies
// subscribers in call order.
func (s *Store) Set(ctx context.Context, p *Pair) {
	s.mu.Lock()
	s.writeLocked(ctx, p)
	s.mu.Unlock()
	s.listeners.Drain()
}

// CompareAndSet is Set guarded by version. It reports false, without
// writing, if the store has been written since version was read.
func (s *Store) CompareAndSet(ctx context.Context, version uint64, p *Pair) bool {
	s.mu.Lock()
	if s.version != version {
		s.mu.Unlock()
		return false
	}
	s.writeLocked(ctx, p)
	s.mu.Unlock()
	s.listeners.Drain()
	return true
}

// Reload re-reads durable storage after an external change and publishes the
// stored value if it differs from the cached one.
func (s *Store) Reload(ctx context.Context) bool {
	s.mu.Lock()
	stored := s.readLocked(ctx)
	if stored.Equal(s.current) {
		s.mu.Unlock()
		return false
	}
	s.current = stored
	s.version++
	s.listeners.Enqueue(stored.Clone())
	s.mu.Unlock()

	s.logger.Debug().Bool("present", stored != nil).Msg("tokens reloaded from storage")
	s.listeners.Drain()
	return true
}

// Subscribe registers fn for every subsequent write. Listener panics are
// recovered and logged.
func (s *Store) Subscribe(fn Listener) func() {
	return s.listeners.Subscribe(fn)
}

// Close drops all subscribers. The store stays usable.
func (s *Store) Close() {
	s.listeners.Clear()
}

func (s *Store) AccessToken(ctx context.Context) string {
	if p := s.Get(ctx); p != nil {
		return p.AccessToken
	}
	return ""
}

func (s *Store) RefreshToken(ctx context.Context) string {
	if p := s.Get(ctx); p != nil {
		return p.RefreshToken
	}
	return ""
}

func (s *Store) writeLocked(ctx context.Context, p *Pair) {
	p = p.Clone()
	s.persistLocked(ctx, p)
	s.current = p
	s.written = true
	s.version++
	s.listeners.Enqueue(p.Clone())
}

func (s *Store) persistLocked(ctx context.Context, p *Pair) {
	if s.repo == nil {
		return
	}
	if p == nil {
		if err := s.repo.Delete(ctx, s.key); err != nil {
			s.logger.Error().Err(err).Msg("failed to delete persisted tokens, continuing in memory")
		}
		return
	}

	data, err := p.Encode()
	if err == nil {
		err = s.repo.Upsert(ctx, s.key, data)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist tokens, continuing in memory")
	}
}

func (s *Store) readLocked(ctx context.Context) *Pair {
	if s.repo == nil {
		return nil
	}

	data, err := s.repo.Get(ctx, s.key)
	if err == nil {
		var p *Pair
		if p, err = Decode(data); err == nil {
			return p
		}
	}

	switch {
	case errors.Is(err, errors.ErrNotFound):
	case errors.Is(err, errors.ErrCorruptEntry):
		s.logger.Warn().Err(err).Msg("discarding corrupt persisted tokens")
		if delErr := s.repo.Delete(ctx, s.key); delErr != nil {
			s.logger.Error().Err(delErr).Msg("failed to delete corrupt persisted tokens")
		}
	default:
		s.logger.Warn().Err(err).Msg("token storage unavailable")
	}
	return nil
}
