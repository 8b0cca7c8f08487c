package relay

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by Get (and surfaced as a viewer "error"
// frame / HTTP 404) when a session id doesn't resolve to a live or
// recently-dead session.
var ErrSessionNotFound = errors.New("session not found")

// DisconnectGrace is how long a session remains addressable after its agent
// disconnects, giving viewers a chance to observe the disconnect notice and
// inspect scrollback before the id is recycled.
const DisconnectGrace = 120 * time.Second

// Registry is the process-wide, thread-safe map of live (and recently-dead)
// sessions. A single lock guards the map itself; each Session has its own
// lock for its mutable fields, so registry mutations never block on a
// peer's socket I/O and vice versa.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// afterFunc is swappable in tests so prune timing doesn't require
	// sleeping for the real 120s grace period.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		afterFunc: time.AfterFunc,
	}
}

// Create mints a new session id and inserts a freshly-alive session. Ids
// are the first 10 hex characters of a v4 UUID, mirroring the original
// implementation's uuid4().hex[:10] scheme.
func (r *Registry) Create(name string, rows, cols int) (*Session, error) {
	id := newSessionID()
	s := newSession(id, name, rows, cols)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s, nil
}

// Get looks up a session by id. A session that exists but has been pruned
// is indistinguishable from one that never existed, by design.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns a dashboard-facing snapshot of every known session.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	ids := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		ids = append(ids, s)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(ids))
	for _, s := range ids {
		out = append(out, s.Snapshot())
	}
	return out
}

// SchedulePrune arranges for id to be removed from the registry after
// DisconnectGrace, provided the session is still dead at that point (a
// session can never resurrect in place, but guarding on Alive() here keeps
// this function correct even if called more than once for the same id).
func (r *Registry) SchedulePrune(id string) {
	r.afterFunc(DisconnectGrace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if s, ok := r.sessions[id]; ok && !s.Alive() {
			delete(r.sessions, id)
		}
	})
}

func newSessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:10]
}
