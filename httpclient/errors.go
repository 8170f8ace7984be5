package httpclient

import (
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-session/auth"
)

// AuthExpiredMessage is the message of the error returned when a 401 could
// not be resolved by refreshing.
const AuthExpiredMessage = "Authentication expired"

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status  int
	Payload map[string]any // Decoded JSON body, nil when absent or not an object
	Message string
	errs    []error
}

func (e *HTTPError) Error() string {
	return e.Message
}

// Unwrap exposes errors.ErrSessionExpired and the refresh failure for a
// forced logout.
func (e *HTTPError) Unwrap() []error {
	return e.errs
}

func newHTTPError(status int, payload any, errs ...error) *HTTPError {
	body, _ := payload.(map[string]any)
	return &HTTPError{
		Status:  status,
		Payload: body,
		Message: auth.MessageFromPayload(body, fmt.Sprintf("Request failed with status %d", status)),
		errs:    errs,
	}
}

// IsUnauthorized reports whether err is a 401 HTTPError.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return asHTTPError(err, &httpErr) && httpErr.Status == http.StatusUnauthorized
}
