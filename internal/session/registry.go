package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds live sessions keyed by id. Sessions idle longer than the
// TTL are dropped by Sweep.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry creates a Registry. ttl <= 0 disables eviction.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{ttl: ttl, now: time.Now, sessions: map[string]Session{}}
}

// Create stores a fresh anonymous session under a new id.
func (r *Registry) Create() Session {
	return r.Put(New(uuid.NewString()))
}

// Get returns the session for id and refreshes its idle timer.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	if r.expired(s) {
		delete(r.sessions, id)
		return Session{}, false
	}
	s.LastSeen = r.now()
	r.sessions[id] = s
	return s, true
}

// Put stores s, assigning an id if it has none.
func (r *Registry) Put(s Session) Session {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.LastSeen = r.now()

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Update applies fn to the stored session for id and stores the result.
// It reports false and stores nothing when id is gone or expired, so a
// request holding a stale copy cannot bring back a deleted session.
func (r *Registry) Update(id string, fn func(Session) Session) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	if r.expired(s) {
		delete(r.sessions, id)
		return Session{}, false
	}
	s = fn(s)
	s.ID = id
	s.LastSeen = r.now()
	r.sessions[id] = s
	return s, true
}

// Delete drops the session for id.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts idle sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if r.expired(s) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if n := r.Sweep(); n > 0 {
			slog.Debug("evicted idle sessions", "count", n)
		}
	}
}

func (r *Registry) expired(s Session) bool {
	return r.ttl > 0 && r.now().Sub(s.LastSeen) > r.ttl
}
