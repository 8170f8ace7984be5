package token

import "context"

// Repo is durable storage for the serialized token pair. Get returns
// errors.ErrNotFound when the key is absent, and errors.ErrCorruptEntry when
// the stored bytes cannot be opened (e.g. a wrong encryption passphrase).
// Delete of a missing key is not an error.
type Repo interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Upsert(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
