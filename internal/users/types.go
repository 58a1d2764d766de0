// Package users holds the durable user directory: identities, credentials,
// profile data and recommendation history.
package users

import (
	"context"
	"errors"
	"time"
)

// RecentLimit is how many history entries are surfaced for display.
const RecentLimit = 10

var (
	// ErrAlreadyRegistered is returned when signing up an existing email.
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnknownUser is returned when an operation names an absent identity.
	ErrUnknownUser = errors.New("unknown user")
	// ErrStoreIO wraps failures of the durable backend. The mutation that
	// triggered it was not applied.
	ErrStoreIO = errors.New("user store write failed")
)

// Record is one user entry.
type Record struct {
	Email      string    `json:"email"`
	Credential string    `json:"credential"`
	Name       string    `json:"name"`
	History    []string  `json:"history"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recent returns up to n of the most recent history entries, newest first.
func (r Record) Recent(n int) []string {
	if n <= 0 || len(r.History) == 0 {
		return []string{}
	}
	start := len(r.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(r.History)-start)
	for i := len(r.History) - 1; i >= start; i-- {
		out = append(out, r.History[i])
	}
	return out
}

func (r Record) clone() Record {
	cp := r
	if r.History != nil {
		cp.History = make([]string, len(r.History))
		copy(cp.History, r.History)
	}
	return cp
}

// Repository is the durable backend behind the Manager. Every method must
// have durably written its change before returning nil.
// Implemented by storage.Store (SQLite) and FileRepository (JSON document).
type Repository interface {
	LoadUsers(ctx context.Context) ([]Record, error)
	InsertUser(ctx context.Context, r Record) error
	UpdateCredential(ctx context.Context, email, credential string) error
	AppendHistory(ctx context.Context, email, title string, at time.Time) error
}

// Store is the user-directory contract consumed by sessions and handlers.
type Store interface {
	Register(ctx context.Context, email, password, name string) error
	Authenticate(ctx context.Context, email, password string) (Record, error)
	ResetPassword(ctx context.Context, email, newPassword string) error
	AppendHistory(ctx context.Context, email, title string) error
	Get(ctx context.Context, email string) (Record, error)
	Len() int
}
