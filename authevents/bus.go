// Package authevents carries process-wide session signals from the network
// layer to whoever renders session state.
package authevents

import (
	"time"

	"github.com/jrsteele09/go-auth-session/internal/notify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	// SessionExpired is published after a forced logout: the server rejected
	// the session and it could not be refreshed.
	SessionExpired Kind = "session_expired"
)

type Event struct {
	Kind   Kind
	At     time.Time
	Reason string // Optional detail, e.g. the refresh error
}

// Bus is an explicit publish/subscribe channel for Events. The zero value is
// not usable; create one with NewBus and share it between producers and
// consumers.
type Bus struct {
	dispatcher *notify.Dispatcher[Event]
}

type Option func(*busOptions)

type busOptions struct {
	logger zerolog.Logger
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *busOptions) {
		o.logger = logger
	}
}

func NewBus(opts ...Option) *Bus {
	o := busOptions{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus{dispatcher: notify.New[Event]("authevents", o.logger)}
}

// Subscribe registers fn for every later event and returns its removal.
func (b *Bus) Subscribe(fn func(Event)) func() {
	return b.dispatcher.Subscribe(fn)
}

// Publish delivers e to all subscribers before returning, unless it was
// published from inside a subscriber, in which case it is delivered right
// after the current event.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.dispatcher.Publish(e)
}

func (b *Bus) Close() {
	b.dispatcher.Clear()
}
