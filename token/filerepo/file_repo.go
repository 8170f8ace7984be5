// Package filerepo stores token pairs as files, one per key, optionally
// sealed with a passphrase.
package filerepo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	defaultDebounce = 100 * time.Millisecond
)

var _ token.Repo = (*Repo)(nil)

type Repo struct {
	dir        string
	passphrase []byte
	debounce   time.Duration
	logger     zerolog.Logger
}

type Option func(*Repo)

// WithPassphrase encrypts entries at rest. An empty passphrase stores plain
// JSON.
func WithPassphrase(passphrase string) Option {
	return func(r *Repo) {
		if passphrase != "" {
			r.passphrase = []byte(passphrase)
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Repo) {
		r.logger = logger
	}
}

// WithDebounce sets how long Watch waits for a burst of file events to
// settle before calling back.
func WithDebounce(d time.Duration) Option {
	return func(r *Repo) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// New creates dir if needed and returns a repo rooted there.
func New(dir string, opts ...Option) (*Repo, error) {
	r := &Repo{
		dir:      dir,
		debounce: defaultDebounce,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.Wrapf(err, "create token directory %s", dir)
	}
	return r, nil
}

// Path returns the file that holds key.
func (r *Repo) Path(key string) string {
	return filepath.Join(r.dir, fileName(key))
}

func (r *Repo) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(r.Path(key))
	if os.IsNotExist(err) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return r.open(data)
}

// Upsert replaces the file atomically: readers see either the old or the new
// content, never a partial write.
func (r *Repo) Upsert(_ context.Context, key string, data []byte) error {
	sealed, err := r.seal(data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "chmod temp file")
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close temp file")
	}
	if err := os.Rename(tmpName, r.Path(key)); err != nil {
		return errors.Wrapf(err, "replace %s", key)
	}
	return nil
}

func (r *Repo) Delete(_ context.Context, key string) error {
	if err := os.Remove(r.Path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func fileName(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		name = "tokens"
	}
	return name + ".json"
}
