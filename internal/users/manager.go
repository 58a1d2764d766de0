package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Compile-time check that Manager implements Store.
var _ Store = (*Manager)(nil)

// Manager is the shared user directory. Writers are serialized by a single
// mutex and reach the Repository before the in-memory view changes; readers
// take lock-free snapshots of an immutable map.
type Manager struct {
	repo   Repository
	scheme CredentialScheme
	clock  Clock

	mu   sync.Mutex // held by writers only
	snap atomic.Pointer[map[string]Record]
}

// NewManager creates an empty Manager. Call Load to populate it from repo.
func NewManager(repo Repository, scheme CredentialScheme) *Manager {
	return NewManagerWithClock(repo, scheme, realClock{})
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(repo Repository, scheme CredentialScheme, clock Clock) *Manager {
	if scheme == nil {
		scheme = Plaintext{}
	}
	m := &Manager{repo: repo, scheme: scheme, clock: clock}
	empty := map[string]Record{}
	m.snap.Store(&empty)
	return m
}

// Load replaces the in-memory view with the repository's contents.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.repo.LoadUsers(ctx)
	if err != nil {
		return fmt.Errorf("loading users: %w", err)
	}
	next := make(map[string]Record, len(records))
	for _, r := range records {
		if r.History == nil {
			r.History = []string{}
		}
		next[r.Email] = r
	}
	m.snap.Store(&next)
	slog.Info("user store loaded", "users", len(next), "scheme", m.scheme.Name())
	return nil
}

// Len returns the number of registered users.
func (m *Manager) Len() int { return len(*m.snap.Load()) }

// Register creates a user with empty history. The record is durable when
// Register returns nil.
func (m *Manager) Register(ctx context.Context, email, password, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.snap.Load()
	if _, ok := cur[email]; ok {
		return ErrAlreadyRegistered
	}

	sealed, err := m.scheme.Seal(password)
	if err != nil {
		return err
	}
	rec := Record{
		Email:      email,
		Credential: sealed,
		Name:       name,
		History:    []string{},
		CreatedAt:  m.clock.Now(),
	}
	if err := m.repo.InsertUser(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	m.swap(cur, rec)
	slog.Info("user registered", "email", email)
	return nil
}

// Authenticate returns the record for email when password matches.
func (m *Manager) Authenticate(_ context.Context, email, password string) (Record, error) {
	rec, ok := (*m.snap.Load())[email]
	if !ok || !m.scheme.Match(rec.Credential, password) {
		return Record{}, ErrInvalidCredentials
	}
	return rec.clone(), nil
}

// ResetPassword overwrites the credential for email. Callers must have
// authenticated the identity.
func (m *Manager) ResetPassword(ctx context.Context, email, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.snap.Load()
	rec, ok := cur[email]
	if !ok {
		return ErrUnknownUser
	}
	sealed, err := m.scheme.Seal(newPassword)
	if err != nil {
		return err
	}
	if err := m.repo.UpdateCredential(ctx, email, sealed); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	rec = rec.clone()
	rec.Credential = sealed
	m.swap(cur, rec)
	slog.Info("password reset", "email", email)
	return nil
}

// AppendHistory appends title to the user's history.
func (m *Manager) AppendHistory(ctx context.Context, email, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := *m.snap.Load()
	rec, ok := cur[email]
	if !ok {
		return ErrUnknownUser
	}
	if err := m.repo.AppendHistory(ctx, email, title, m.clock.Now()); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	rec = rec.clone()
	rec.History = append(rec.History, title)
	m.swap(cur, rec)
	return nil
}

// Get returns a copy of the record for email.
func (m *Manager) Get(_ context.Context, email string) (Record, error) {
	rec, ok := (*m.snap.Load())[email]
	if !ok {
		return Record{}, ErrUnknownUser
	}
	return rec.clone(), nil
}

// swap publishes a copy of cur with rec upserted. Caller holds m.mu.
func (m *Manager) swap(cur map[string]Record, rec Record) {
	next := make(map[string]Record, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[rec.Email] = rec
	m.snap.Store(&next)
}
