package filerepo

import (
	"bytes"
	"crypto/rand"
	"io"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Sealed file layout: magic | salt | nonce | secretbox(payload).
var magic = []byte("ASB1")

const (
	saltLength  = 16
	nonceLength = 24
	keyLength   = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

func (r *Repo) seal(data []byte) ([]byte, error) {
	if r.passphrase == nil {
		return data, nil
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrapf(err, "generate salt")
	}
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrapf(err, "generate nonce")
	}

	out := make([]byte, 0, len(magic)+saltLength+nonceLength+len(data)+secretbox.Overhead)
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	key := r.deriveKey(salt)
	return secretbox.Seal(out, data, &nonce, &key), nil
}

func (r *Repo) open(data []byte) ([]byte, error) {
	sealed := bytes.HasPrefix(data, magic)
	if r.passphrase == nil {
		if sealed {
			return nil, errors.Wrapf(errors.ErrCorruptEntry, "entry is encrypted but no passphrase is configured")
		}
		return data, nil
	}
	if !sealed || len(data) < len(magic)+saltLength+nonceLength+secretbox.Overhead {
		return nil, errors.Wrapf(errors.ErrCorruptEntry, "entry is not sealed")
	}

	rest := data[len(magic):]
	salt := rest[:saltLength]
	var nonce [nonceLength]byte
	copy(nonce[:], rest[saltLength:saltLength+nonceLength])
	box := rest[saltLength+nonceLength:]

	key := r.deriveKey(salt)
	plain, ok := secretbox.Open(nil, box, &nonce, &key)
	if !ok {
		return nil, errors.Wrapf(errors.ErrCorruptEntry, "entry cannot be opened with the configured passphrase")
	}
	return plain, nil
}

func (r *Repo) deriveKey(salt []byte) [keyLength]byte {
	var key [keyLength]byte
	copy(key[:], argon2.IDKey(r.passphrase, salt, argonTime, argonMemory, argonThreads, keyLength))
	return key
}
