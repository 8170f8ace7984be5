package filerepo

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// Watch calls fn whenever the file for key is created, rewritten or removed
// by anyone, this process included. Bursts of events within the debounce
// window produce one call. Watching stops when ctx is done.
func (r *Repo) Watch(ctx context.Context, key string, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrapf(err, "create watcher")
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return errors.Wrapf(err, "watch %s", r.dir)
	}

	target := filepath.Clean(r.Path(key))
	go r.processEvents(ctx, w, target, fn)
	return nil
}

func (r *Repo) processEvents(ctx context.Context, w *fsnotify.Watcher, target string, fn func()) {
	defer w.Close()

	var mu sync.Mutex
	var timer *time.Timer
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(r.debounce, func() {
			if ctx.Err() == nil {
				fn()
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				r.logger.Debug().Str("op", event.Op.String()).Msg("token file changed")
				schedule()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn().Err(err).Msg("token file watcher error")
		}
	}
}
