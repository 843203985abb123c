package session

import "github.com/jrsteele09/go-auth-session/users"

// Status is the position of a Manager in its session state machine
type Status int

const (
	StatusUninitialized   Status = iota // Initialize has not run yet
	StatusUnauthenticated               // No valid credentials
	StatusAuthenticating                // A sign in is in flight
	StatusAuthenticated                 // Tokens are stored and the user is known
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Session is an immutable snapshot of the manager's state.
type Session struct {
	Status     Status
	User       *users.AuthenticatedUser // Set only when Status is StatusAuthenticated
	RedirectTo string                   // Where to send the user to log in, set only when unauthenticated
}

func (s Session) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}
