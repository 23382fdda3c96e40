// Package session implements session lifecycle for the coordination
// master: creation, lease renewal via keepalives, periodic expiry
// sweeps, and explicit destruction. Cascading cleanup (handles, locks,
// ephemeral nodes, outboxes) is delegated to a teardown callback so the
// package stays free of dependencies on the other engines.
package session

import (
	"sync"
	"time"

	"github.com/aeriedb/aerie/pkg/coord"
)

// State is the liveness state of a session.
type State int32

const (
	StateConnected State = iota
	StateExpired
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateExpired:
		return "EXPIRED"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Session is a client's logical connection to the master.
//
// The mutex guards state, the lease deadline, and the handle set. It is
// the first lock in the global acquisition order (session -> handle
// table -> node lock -> outbox); methods here never call into the other
// engines while holding it.
type Session struct {
	// ID is the session identifier handed to the client.
	ID coord.SessionID

	// RemoteAddr is the client address at creation, for diagnostics.
	RemoteAddr string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	mu            sync.Mutex
	state         State
	leaseDeadline time.Time
	lastRenewed   time.Time
	handles       map[coord.HandleID]struct{}
}

// State returns the session's liveness state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the session is CONNECTED.
func (s *Session) Alive() bool {
	return s.State() == StateConnected
}

// Deadline returns the current lease deadline.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaseDeadline
}

// Renew extends the lease from the time the keepalive is processed, not
// sent; a keepalive racing the sweep wins as long as it is processed
// while the session is still CONNECTED. Returns false if the session is
// no longer CONNECTED.
func (s *Session) Renew(lease time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return false
	}
	now := time.Now()
	s.lastRenewed = now
	s.leaseDeadline = now.Add(lease)
	return true
}

// transition flips CONNECTED into the given terminal state. Returns
// false if the session already left CONNECTED, which makes expiry and
// explicit destroy race-safe: exactly one caller wins and runs the
// cleanup cascade.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return false
	}
	s.state = to
	return true
}

// expired reports whether the lease deadline (plus grace) has passed.
func (s *Session) expired(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && now.After(s.leaseDeadline.Add(grace))
}

// expire flips the session to EXPIRED if the lease deadline (plus
// grace) has passed. Check and flip share one mutex acquisition so a
// Renew can never land between them: a keepalive either renews the
// deadline first and the flip is refused, or loses and is rejected by
// the state check in Renew.
func (s *Session) expire(now time.Time, grace time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || !now.After(s.leaseDeadline.Add(grace)) {
		return false
	}
	s.state = StateExpired
	return true
}

// AddHandle records a handle as owned by this session. Fails when the
// session is not CONNECTED so a handle can never be attached to a
// session mid-teardown.
func (s *Session) AddHandle(h coord.HandleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return false
	}
	s.handles[h] = struct{}{}
	return true
}

// RemoveHandle forgets a handle. No-op if absent.
func (s *Session) RemoveHandle(h coord.HandleID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, h)
}

// Handles returns a snapshot of the session's handle IDs.
func (s *Session) Handles() []coord.HandleID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]coord.HandleID, 0, len(s.handles))
	for h := range s.handles {
		out = append(out, h)
	}
	return out
}

// HandleCount returns the number of open handles.
func (s *Session) HandleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
