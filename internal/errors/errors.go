package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth session client
var (
	// Session errors
	ErrDisposed       = errors.New("session manager has been disposed")
	ErrSessionExpired = errors.New("session expired")
	ErrStaleResponse  = errors.New("response superseded by a newer session event")

	// Token errors
	ErrMissingRefreshToken = errors.New("missing refresh token")
	ErrMissingAccessToken  = errors.New("missing access token")
	ErrInvalidToken        = errors.New("invalid token")

	// Transport errors
	ErrProtocol = errors.New("unexpected response from auth service")

	// Storage errors
	ErrNotFound     = errors.New("not found")
	ErrCorruptEntry = errors.New("corrupt storage entry")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// WrapWith wraps err with context and sentinel. Both stay matchable with Is
// and As.
func WrapWith(err, sentinel error, format string, args ...interface{}) error {
	if err == nil {
		return Wrapf(sentinel, format, args...)
	}
	return fmt.Errorf(format+": %w: %w", append(args, sentinel, err)...)
}

// New is errors.New, re-exported so callers only import this package
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
