package userfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/users"
)

// FakeUserFetcher returns a scripted user or error. Hold makes calls block
// until the returned release function runs, to simulate a slow server.
type FakeUserFetcher struct {
	lock  sync.Mutex
	user  *users.User
	err   error
	calls int
	gate  chan struct{}
}

func NewFakeUserFetcher(user *users.User) *FakeUserFetcher {
	return &FakeUserFetcher{user: user}
}

func (f *FakeUserFetcher) Current(ctx context.Context) (*users.User, error) {
	f.lock.Lock()
	f.calls++
	gate := f.gate
	f.lock.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.user.Clone(), nil
}

func (f *FakeUserFetcher) SetUser(user *users.User) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.user, f.err = user, nil
}

func (f *FakeUserFetcher) SetErr(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.err = err
}

func (f *FakeUserFetcher) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

// Hold blocks subsequent calls until release is called.
func (f *FakeUserFetcher) Hold() (release func()) {
	gate := make(chan struct{})
	f.lock.Lock()
	f.gate = gate
	f.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.lock.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.lock.Unlock()
			close(gate)
		})
	}
}
