// Package handle implements the master's handle table: the mapping
// from handle IDs to (session, node path, open mode, event mask)
// tuples.
//
// Handles, sessions, and locks form a cyclic reference graph; the table
// breaks the cycle by keying everything on integer IDs, so teardown is
// table-entry removal in the fixed lock order rather than pointer
// chasing.
package handle

import (
	"sync"
	"time"

	"github.com/aeriedb/aerie/pkg/coord"
)

// Handle is an open reference to a namespace node, scoped to one
// session. The fields are immutable after creation; lock state lives in
// the lock manager, keyed by the handle ID.
type Handle struct {
	ID        coord.HandleID
	Session   coord.SessionID
	Path      string
	Mode      coord.OpenFlags
	EventMask coord.EventMask
	OpenedAt  time.Time
}

// Table owns handle-id allocation and the handle lookup maps.
type Table struct {
	mu        sync.RWMutex
	handles   map[coord.HandleID]*Handle
	bySession map[coord.SessionID]map[coord.HandleID]*Handle

	ids *coord.IDAllocator
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{
		handles:   make(map[coord.HandleID]*Handle),
		bySession: make(map[coord.SessionID]map[coord.HandleID]*Handle),
		ids:       coord.NewIDAllocator(),
	}
}

// Insert allocates an ID and registers a new handle.
func (t *Table) Insert(session coord.SessionID, path string, mode coord.OpenFlags, mask coord.EventMask) *Handle {
	h := &Handle{
		ID:        coord.HandleID(t.ids.Next()),
		Session:   session,
		Path:      path,
		Mode:      mode,
		EventMask: mask,
		OpenedAt:  time.Now(),
	}

	t.mu.Lock()
	t.handles[h.ID] = h
	sess := t.bySession[session]
	if sess == nil {
		sess = make(map[coord.HandleID]*Handle)
		t.bySession[session] = sess
	}
	sess[h.ID] = h
	t.mu.Unlock()

	return h
}

// Get returns the handle, or ErrHandleInvalid if unknown or already
// closed.
func (t *Table) Get(id coord.HandleID) (*Handle, error) {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()

	if !ok {
		return nil, coord.ErrHandleInvalid
	}
	return h, nil
}

// Remove deletes the handle from the table. Idempotent: removing an
// unknown or already-closed handle returns (nil, false) so duplicate
// CLOSE requests after a lost response are harmless.
func (t *Table) Remove(id coord.HandleID) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return nil, false
	}
	delete(t.handles, id)
	if sess := t.bySession[h.Session]; sess != nil {
		delete(sess, id)
		if len(sess) == 0 {
			delete(t.bySession, h.Session)
		}
	}
	return h, true
}

// ForSession returns a snapshot of every handle owned by the session.
func (t *Table) ForSession(id coord.SessionID) []*Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sess := t.bySession[id]
	out := make([]*Handle, 0, len(sess))
	for _, h := range sess {
		out = append(out, h)
	}
	return out
}

// Count returns the number of open handles.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}

// Info is a read-only handle snapshot for the admin API.
type Info struct {
	ID       coord.HandleID  `json:"id"`
	Session  coord.SessionID `json:"session"`
	Path     string          `json:"path"`
	OpenedAt time.Time       `json:"opened_at"`
}

// Snapshot returns admin-API info for every open handle.
func (t *Table) Snapshot() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Info, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, Info{
			ID:       h.ID,
			Session:  h.Session,
			Path:     h.Path,
			OpenedAt: h.OpenedAt,
		})
	}
	return out
}
