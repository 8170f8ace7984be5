package auth

import (
	"fmt"
)

// Default messages used when the auth service gives no usable message.
const (
	DefaultLoginMessage   = "Unable to login"
	DefaultRefreshMessage = "Unable to refresh session"
	DefaultLogoutMessage  = "Unable to logout"
)

// RequestError is returned for any non-2xx response from the auth service,
// and for 2xx responses whose body is not a usable token payload.
type RequestError struct {
	Status  int            // HTTP status code
	Payload map[string]any // Decoded JSON error body, nil when absent or not an object
	Message string         // Server message if present, otherwise the operation's default
	Err     error          // Underlying cause for protocol errors
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// String includes the status, for logs.
func (e *RequestError) String() string {
	return fmt.Sprintf("auth request failed (%d): %s", e.Status, e.Message)
}

func newRequestError(status int, payload any, defaultMessage string) *RequestError {
	body, _ := payload.(map[string]any)
	return &RequestError{
		Status:  status,
		Payload: body,
		Message: MessageFromPayload(body, defaultMessage),
	}
}

// MessageFromPayload picks the most specific human readable message from a
// decoded error body: "message", then "error_description", then "error".
func MessageFromPayload(payload map[string]any, fallback string) string {
	for _, field := range []string{"message", "error_description", "error"} {
		if s, ok := payload[field].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
