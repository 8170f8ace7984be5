package tokenfakerepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
)

var _ token.Repo = (*FakeTokenRepo)(nil)

// FakeTokenRepo is an in-memory token.Repo. SetErr makes every call fail,
// to simulate unavailable storage.
type FakeTokenRepo struct {
	entries map[string][]byte
	lock    sync.RWMutex

	err       error
	deleteErr error
	writes    int
	deletes   int
}

func NewFakeTokenRepo() *FakeTokenRepo {
	return &FakeTokenRepo{
		entries: make(map[string][]byte),
	}
}

func (tr *FakeTokenRepo) Get(_ context.Context, key string) ([]byte, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	if tr.err != nil {
		return nil, tr.err
	}
	data, ok := tr.entries[key]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (tr *FakeTokenRepo) Upsert(_ context.Context, key string, data []byte) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	if tr.err != nil {
		return tr.err
	}
	tr.writes++
	tr.entries[key] = append([]byte(nil), data...)
	return nil
}

func (tr *FakeTokenRepo) Delete(_ context.Context, key string) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	if tr.err != nil {
		return tr.err
	}
	if tr.deleteErr != nil {
		return tr.deleteErr
	}
	tr.deletes++
	delete(tr.entries, key)
	return nil
}

// Put stores raw bytes, bypassing the counters. Used to seed corrupt or
// externally written entries.
func (tr *FakeTokenRepo) Put(key string, data []byte) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.entries[key] = append([]byte(nil), data...)
}

func (tr *FakeTokenRepo) Has(key string) bool {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	_, ok := tr.entries[key]
	return ok
}

func (tr *FakeTokenRepo) SetErr(err error) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.err = err
}

// SetDeleteErr makes only Delete fail, leaving reads and writes working.
func (tr *FakeTokenRepo) SetDeleteErr(err error) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.deleteErr = err
}

// Counts returns the number of Upsert and Delete calls that reached storage.
func (tr *FakeTokenRepo) Counts() (writes, deletes int) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	return tr.writes, tr.deletes
}
