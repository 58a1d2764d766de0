// Package session tracks per-client sign-in state and gates the
// recommendation operations on it.
package session

import (
	"errors"
	"time"
)

var (
	// ErrNotAuthenticated is returned by operations that need a signed-in session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrCaptchaMismatch is returned by SignUp when the captcha answer is wrong or missing.
	ErrCaptchaMismatch = errors.New("captcha mismatch")
)

// State is the position of a Session in the auth state machine.
type State int

const (
	Anonymous State = iota
	CaptchaPending
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case CaptchaPending:
		return "captcha_pending"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// Session is the per-connection auth state. It is a plain value: every
// transition returns the next Session instead of mutating shared state.
type Session struct {
	ID       string
	Email    string // set only when authenticated
	Captcha  string // pending challenge, if any
	LastSeen time.Time

	authenticated bool
}

// New returns a fresh anonymous session with the given id.
func New(id string) Session {
	return Session{ID: id}
}

// Authenticated reports whether the session holds a signed-in identity.
func (s Session) Authenticated() bool { return s.authenticated && s.Email != "" }

// State derives the state machine position.
func (s Session) State() State {
	switch {
	case s.Authenticated():
		return Authenticated
	case s.Captcha != "":
		return CaptchaPending
	}
	return Anonymous
}

func (s Session) signedIn(email string) Session {
	s.Email = email
	s.authenticated = true
	s.Captcha = ""
	return s
}

func (s Session) signedOut() Session {
	s.Email = ""
	s.authenticated = false
	s.Captcha = ""
	return s
}
