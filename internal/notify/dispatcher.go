// Package notify delivers values to a set of listeners in publication order.
//
// Values are queued and drained by whichever goroutine finds the dispatcher
// idle, so a listener that publishes again (directly or through the owner)
// never deadlocks: its value is delivered after the current round finishes.
// A panicking listener is logged and skipped; the remaining listeners still
// receive the value.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type entry[T any] struct {
	id      uint64
	since   uint64 // first sequence number delivered to this listener
	fn      func(T)
	removed atomic.Bool
}

type queued[T any] struct {
	v    T
	seq  uint64
	only *entry[T]
}

// Dispatcher is an ordered fan-out of values of type T.
type Dispatcher[T any] struct {
	name   string
	logger zerolog.Logger

	mu          sync.Mutex
	nextID      uint64
	seq         uint64
	listeners   []*entry[T]
	queue       []queued[T]
	dispatching bool
}

// New creates a dispatcher; name is used in log lines only.
func New[T any](name string, logger zerolog.Logger) *Dispatcher[T] {
	return &Dispatcher[T]{name: name, logger: logger}
}

// Subscribe registers fn for values enqueued after this call and returns a
// function that removes it. Calling the returned function more than once is
// harmless.
func (d *Dispatcher[T]) Subscribe(fn func(T)) func() {
	d.mu.Lock()
	e := d.addLocked(fn)
	d.mu.Unlock()

	return func() { d.remove(e.id) }
}

// SubscribeWith is Subscribe, plus initial queued for fn alone ahead of any
// later value. Like Enqueue, owners call it under their lock and Drain after.
func (d *Dispatcher[T]) SubscribeWith(initial T, fn func(T)) func() {
	d.mu.Lock()
	e := d.addLocked(fn)
	d.seq++
	e.since = d.seq
	d.queue = append(d.queue, queued[T]{v: initial, seq: d.seq, only: e})
	d.mu.Unlock()

	return func() { d.remove(e.id) }
}

func (d *Dispatcher[T]) addLocked(fn func(T)) *entry[T] {
	d.nextID++
	e := &entry[T]{id: d.nextID, since: d.seq + 1, fn: fn}
	d.listeners = append(d.listeners, e)
	return e
}

func (d *Dispatcher[T]) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.listeners {
		if e.id == id {
			e.removed.Store(true)
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}

// Enqueue appends v without delivering it. Owners call Enqueue while holding
// their own lock so queue order matches their state changes, then call Drain
// after unlocking.
func (d *Dispatcher[T]) Enqueue(v T) {
	d.mu.Lock()
	d.seq++
	d.queue = append(d.queue, queued[T]{v: v, seq: d.seq})
	d.mu.Unlock()
}

// Drain delivers queued values until the queue is empty. If another goroutine
// is already draining, Drain returns immediately and that goroutine delivers.
func (d *Dispatcher[T]) Drain() {
	d.mu.Lock()
	if d.dispatching {
		d.mu.Unlock()
		return
	}
	d.dispatching = true

	for len(d.queue) > 0 {
		q := d.queue[0]
		d.queue[0] = queued[T]{}
		d.queue = d.queue[1:]

		var listeners []*entry[T]
		if q.only != nil {
			listeners = []*entry[T]{q.only}
		} else {
			listeners = make([]*entry[T], 0, len(d.listeners))
			for _, e := range d.listeners {
				if e.since <= q.seq {
					listeners = append(listeners, e)
				}
			}
		}
		d.mu.Unlock()

		for _, e := range listeners {
			if e.removed.Load() {
				continue
			}
			d.call(e, q.v)
		}

		d.mu.Lock()
	}

	d.queue = nil
	d.dispatching = false
	d.mu.Unlock()
}

// Publish is Enqueue followed by Drain.
func (d *Dispatcher[T]) Publish(v T) {
	d.Enqueue(v)
	d.Drain()
}

// Clear removes every listener and drops undelivered values.
func (d *Dispatcher[T]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.listeners {
		e.removed.Store(true)
	}
	d.listeners = nil
	d.queue = nil
}

// Len returns the number of registered listeners.
func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

func (d *Dispatcher[T]) call(e *entry[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().
				Str("dispatcher", d.name).
				Uint64("listener", e.id).
				Interface("panic", r).
				Msg("listener panicked")
		}
	}()
	e.fn(v)
}
