package sessions

import (
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
)

type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusAuthenticated  Status = "authenticated"
	StatusError          Status = "error"
)

// Reason tells apart snapshots that share a status, e.g. a fresh Idle from
// one reached because a restore failed.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonRestoreFailed  Reason = "restore_failed"
	ReasonSessionExpired Reason = "session_expired"
	ReasonLoginFailed    Reason = "login_failed"
)

// Fixed messages published in Snapshot.Error.
const (
	LoginFailedMessage    = "Unable to sign in"
	RestoreFailedMessage  = "Unable to restore session"
	SessionExpiredMessage = "Your session expired. Please sign in again."
)

// Snapshot is the published session state. Each snapshot owns its Tokens and
// CurrentUser; mutating them does not affect the manager or other listeners.
type Snapshot struct {
	Status      Status
	Tokens      *token.Pair
	CurrentUser *users.User
	Error       string // empty when there is no error
	Reason      Reason
}

func (s Snapshot) clone() Snapshot {
	s.Tokens = s.Tokens.Clone()
	s.CurrentUser = s.CurrentUser.Clone()
	return s
}

func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated
}
