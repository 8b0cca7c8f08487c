package relay

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/FOL9/machin-api/internal/envelope"
)

// Outbox is a connection's outbound frame queue. Both the agent connection
// and every viewer connection own one; a dedicated writer goroutine per
// connection drains it onto the socket, so Session code never blocks on
// network I/O while holding a lock. Sends onto an Outbox are always
// non-blocking (best-effort, at-most-once, never retried): a slow or wedged
// consumer gets its frame dropped rather than stalling every other peer of
// the session.
type Outbox chan envelope.Message

const outboxBuffer = 64

// NewOutbox allocates an outbound queue of the standard size.
func NewOutbox() Outbox {
	return make(Outbox, outboxBuffer)
}

func (o Outbox) trySend(m envelope.Message) bool {
	select {
	case o <- m:
		return true
	default:
		return false
	}
}

// viewerID is an opaque handle returned by AddViewer, used later to remove
// exactly that viewer (two viewers could otherwise share an Outbox value
// only in test doubles, never in production, but the handle keeps removal
// unambiguous either way).
type viewerID uint64

// Session is the central relay entity: one PTY-owning agent paired with a
// set of viewers, an id, and a bounded scrollback buffer. All mutable state
// is guarded by mu. Broadcasts send on Outboxes only after releasing mu; the
// one exception is AddViewer's non-blocking priming sends (see there).
type Session struct {
	ID        string
	Name      string
	CreatedAt time.Time

	mu       sync.RWMutex
	alive    bool
	agentOut Outbox
	cols     int
	rows     int
	sb       scrollback
	viewers  map[viewerID]Outbox
	nextID   viewerID
}

func newSession(id, name string, rows, cols int) *Session {
	return &Session{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		alive:     true,
		cols:      cols,
		rows:      rows,
		viewers:   make(map[viewerID]Outbox),
	}
}

// AttachAgent marks the session alive and records the agent connection's
// outbound queue. Called once, right after the session is created.
func (s *Session) AttachAgent(out Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = true
	s.agentOut = out
}

// DetachAgent marks the session dead. Per the no-resurrection invariant,
// a session that has gone alive->dead never comes back to life; a
// reconnecting agent must register a fresh session. Returns a snapshot of
// current viewer outboxes so the caller can broadcast a disconnect frame
// outside the lock.
func (s *Session) DetachAgent() []Outbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
	s.agentOut = nil
	return s.viewerSnapshotLocked()
}

// Alive reports whether an agent is currently attached.
func (s *Session) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

// AddViewer registers a new viewer outbox and atomically primes it with the
// scrollback replay frame followed by a meta frame, before the viewer
// becomes visible to concurrent broadcasts. This is what guarantees a
// viewer's first frame is always the replay, never a live frame racing
// ahead of it: the priming sends happen while still holding the lock that
// any broadcaster must also acquire to enumerate viewers.
func (s *Session) AddViewer(out Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := decodeLossy(s.sb.bytes())
	out.trySend(envelope.Output(replay))
	out.trySend(s.metaLocked())

	id := s.nextID
	s.nextID++
	s.viewers[id] = out
}

// RemoveViewer drops a viewer's outbox from the broadcast set. It is keyed
// by identity of the channel value itself, since a viewer only ever needs
// to remove itself and always holds its own Outbox.
func (s *Session) RemoveViewer(out Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.viewers {
		if o == out {
			delete(s.viewers, id)
			return
		}
	}
}

// ViewerCount returns the number of currently attached viewers.
func (s *Session) ViewerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.viewers)
}

// Dims returns the last known PTY geometry.
func (s *Session) Dims() (rows, cols int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows, s.cols
}

// Resize updates the session's last-known geometry. Each call overwrites the
// previous one, so the last resize wins: there is no arbitration between
// concurrent viewers.
func (s *Session) Resize(rows, cols int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.cols = cols
}

// BroadcastOutput appends agent-produced PTY bytes to scrollback (trimming
// to the 64 KiB cap) and fans the chunk out to every current viewer.
func (s *Session) BroadcastOutput(data string) {
	s.mu.Lock()
	s.sb.append([]byte(data))
	targets := s.viewerSnapshotLocked()
	s.mu.Unlock()

	msg := envelope.Output(data)
	for _, out := range targets {
		out.trySend(msg)
	}
}

// BroadcastPong fans an agent-originated pong out to every viewer, used so
// viewers can measure round-trip latency through the agent.
func (s *Session) BroadcastPong() {
	s.mu.RLock()
	targets := s.viewerSnapshotLocked()
	s.mu.RUnlock()

	msg := envelope.Pong()
	for _, out := range targets {
		out.trySend(msg)
	}
}

// BroadcastMeta fans the current metadata out to every viewer. Called after
// a viewer-initiated resize; viewer join and leave do not broadcast meta.
func (s *Session) BroadcastMeta() {
	s.mu.RLock()
	msg := s.metaLocked()
	targets := s.viewerSnapshotLocked()
	s.mu.RUnlock()

	for _, out := range targets {
		out.trySend(msg)
	}
}

// SendDisconnect pushes a disconnect frame directly to the given snapshot of
// viewer outboxes. Takes an explicit slice (as returned by DetachAgent)
// rather than re-reading s.viewers, since by the time this runs the agent
// is already detached and the viewer set may have moved on.
func SendDisconnect(targets []Outbox, message string) {
	msg := envelope.Disconnect(message)
	for _, out := range targets {
		out.trySend(msg)
	}
}

// ForwardToAgent delivers a frame to the attached agent. Returns false if no
// agent is currently attached (detached session, or race with disconnect);
// callers forwarding viewer input/resize/ping silently drop on false.
func (s *Session) ForwardToAgent(m envelope.Message) bool {
	s.mu.RLock()
	out := s.agentOut
	s.mu.RUnlock()
	if out == nil {
		return false
	}
	return out.trySend(m)
}

// Summary is the dashboard-facing snapshot of a session.
type Summary struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
	Alive   bool      `json:"alive"`
	Viewers int       `json:"viewers"`
}

// Snapshot returns the session's current dashboard summary.
func (s *Session) Snapshot() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:      s.ID,
		Name:    s.Name,
		Created: s.CreatedAt,
		Alive:   s.alive,
		Viewers: len(s.viewers),
	}
}

func (s *Session) metaLocked() envelope.Message {
	return envelope.Meta(s.Name, len(s.viewers), s.rows, s.cols)
}

func (s *Session) viewerSnapshotLocked() []Outbox {
	out := make([]Outbox, 0, len(s.viewers))
	for _, o := range s.viewers {
		out = append(out, o)
	}
	return out
}

// decodeLossy turns raw scrollback bytes into UTF-8 text, substituting the
// replacement character for any invalid sequence. The head of the buffer
// can be mid-rune after a trim; this is expected and tolerated, never
// treated as an error.
func decodeLossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var out []rune
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}
