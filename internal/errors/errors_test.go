package errors_test

import (
	"io"
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, errors.Wrapf(nil, "reading %s", "file"))
	})

	t.Run("keeps chain", func(t *testing.T) {
		err := errors.Wrapf(errors.ErrNotFound, "repo.Get %s", "tokens")
		require.EqualError(t, err, "repo.Get tokens: not found")
		require.True(t, errors.Is(err, errors.ErrNotFound))
		require.False(t, errors.Is(err, io.EOF))
	})
}

func TestWrapWith(t *testing.T) {
	err := errors.WrapWith(io.ErrUnexpectedEOF, errors.ErrStaleResponse, "login")
	require.EqualError(t, err, "login: response superseded by a newer session event: unexpected EOF")
	require.True(t, errors.Is(err, errors.ErrStaleResponse))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	err = errors.WrapWith(nil, errors.ErrStaleResponse, "login")
	require.EqualError(t, err, "login: response superseded by a newer session event")
}
