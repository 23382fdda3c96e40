// Package lock implements the per-node advisory lock state machine:
// exclusive/shared grants, a strict-FIFO wait queue, and asynchronous
// grant delivery through an event sink.
//
// A lock request never blocks the calling worker. Conflicting requests
// return Pending immediately and are granted later, in arrival order,
// when the conflicting holders release; the grant reaches the client as
// a LockGranted notification.
//
// Lock ordering: a node's mutex is acquired before the manager's map
// mutex, never the other way around. Event emission happens while the
// node's mutex is held so observers can never see lock notifications
// reordered relative to the transition that produced them.
package lock

import (
	"sync"
	"time"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/metrics"
)

// DefaultMaxWaiters bounds the per-node wait queue.
const DefaultMaxWaiters = 1000

// Events receives lock state transitions. The master wires this to the
// notification dispatcher. Callbacks run with the node's lock held and
// must not call back into the Manager.
type Events interface {
	// LockGranted fires for the specific handle whose pending request
	// was just granted.
	LockGranted(path string, session coord.SessionID, h coord.HandleID, mode coord.LockMode)

	// LockAcquired fires on every grant (immediate or queued), for
	// observers of the node.
	LockAcquired(path string, mode coord.LockMode)

	// LockReleased fires when a node's holder-set becomes empty.
	LockReleased(path string)

	// LockContended fires when a conflicting request is queued.
	LockContended(path string, mode coord.LockMode)
}

// waiter is one queued lock request.
type waiter struct {
	handle   coord.HandleID
	session  coord.SessionID
	mode     coord.LockMode
	queuedAt time.Time
}

// nodeState is the lock state of a single node.
//
// Invariant: holders is never mixed-mode; mode is the mode of every
// member, and an exclusive holder-set has exactly one member.
type nodeState struct {
	mu      sync.Mutex
	path    string
	mode    coord.LockMode // LockModeNone when holders is empty
	holders map[coord.HandleID]struct{}
	waitq   []waiter
}

// handleRef records which node a handle currently holds or waits on.
type handleRef struct {
	path    string
	pending bool
}

// Manager is the lock manager for the whole namespace.
type Manager struct {
	mu       sync.Mutex
	nodes    map[string]*nodeState
	byHandle map[coord.HandleID]handleRef

	maxWaiters int
	events     Events
	metrics    *metrics.LockMetrics
}

// NewManager creates a lock manager. Metrics may be nil; the event sink
// must be installed with SetEvents before use.
func NewManager(maxWaiters int, m *metrics.LockMetrics) *Manager {
	if maxWaiters <= 0 {
		maxWaiters = DefaultMaxWaiters
	}
	return &Manager{
		nodes:      make(map[string]*nodeState),
		byHandle:   make(map[coord.HandleID]handleRef),
		maxWaiters: maxWaiters,
		metrics:    m,
	}
}

// SetEvents installs the transition sink.
func (m *Manager) SetEvents(ev Events) {
	m.events = ev
}

func (m *Manager) getOrCreate(path string) *nodeState {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.nodes[path]
	if !ok {
		ns = &nodeState{
			path:    path,
			holders: make(map[coord.HandleID]struct{}),
		}
		m.nodes[path] = ns
	}
	return ns
}

// lookup returns the node a handle references, if any.
func (m *Manager) lookup(h coord.HandleID) (*nodeState, handleRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.byHandle[h]
	if !ok {
		return nil, handleRef{}, false
	}
	return m.nodes[ref.path], ref, true
}

func (m *Manager) setRef(h coord.HandleID, ref handleRef) {
	m.mu.Lock()
	m.byHandle[h] = ref
	m.mu.Unlock()
}

func (m *Manager) clearRef(h coord.HandleID) {
	m.mu.Lock()
	delete(m.byHandle, h)
	m.mu.Unlock()
}

// gc drops the node's state entry once it carries neither holders nor
// waiters. Caller holds ns.mu.
func (m *Manager) gc(ns *nodeState) {
	if len(ns.holders) != 0 || len(ns.waitq) != 0 {
		return
	}
	m.mu.Lock()
	delete(m.nodes, ns.path)
	m.mu.Unlock()
}

// TryLock requests the lock on path in the given mode for a handle.
//
//   - Granted: the holder-set was empty, or the request is SHARED, the
//     holder-set is all-SHARED, and no one is queued ahead (strict FIFO
//     keeps shared churn from starving a waiting writer).
//   - Pending: the request conflicts and was queued.
//   - Denied: malformed request, either a bad mode or a handle that
//     already holds or waits on a lock.
func (m *Manager) TryLock(session coord.SessionID, h coord.HandleID, path string, mode coord.LockMode) coord.LockStatus {
	if mode != coord.LockModeShared && mode != coord.LockModeExclusive {
		m.metrics.RecordDenied()
		return coord.LockDenied
	}
	if _, _, exists := m.lookup(h); exists {
		m.metrics.RecordDenied()
		return coord.LockDenied
	}

	ns := m.getOrCreate(path)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	grantable := len(ns.holders) == 0 ||
		(mode == coord.LockModeShared && ns.mode == coord.LockModeShared && len(ns.waitq) == 0)

	if grantable {
		ns.mode = mode
		ns.holders[h] = struct{}{}
		m.setRef(h, handleRef{path: path})
		m.metrics.RecordGrant(mode.String(), false, 0)
		if m.events != nil {
			m.events.LockAcquired(path, mode)
		}
		logger.Debug("lock granted",
			logger.KeyPath, path,
			logger.KeyHandleID, uint64(h),
			logger.KeyLockMode, mode.String())
		return coord.LockGranted
	}

	if len(ns.waitq) >= m.maxWaiters {
		m.metrics.RecordDenied()
		return coord.LockDenied
	}

	ns.waitq = append(ns.waitq, waiter{
		handle:   h,
		session:  session,
		mode:     mode,
		queuedAt: time.Now(),
	})
	m.setRef(h, handleRef{path: path, pending: true})
	m.metrics.RecordPending()
	if m.events != nil {
		m.events.LockContended(path, mode)
	}
	logger.Debug("lock contended, request queued",
		logger.KeyPath, path,
		logger.KeyHandleID, uint64(h),
		logger.KeyLockMode, mode.String(),
		"queue_depth", len(ns.waitq))
	return coord.LockPending
}

// Release drops whatever lock state the handle has: a held lock is
// released (waking waiters if the holder-set empties), a pending
// request is cancelled. Handle and session teardown use this same path,
// so waiters are always woken regardless of why the holder went away.
// Returns false if the handle had no lock state.
func (m *Manager) Release(h coord.HandleID) bool {
	ns, ref, ok := m.lookup(h)
	if !ok || ns == nil {
		return false
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ref.pending {
		if m.removeWaiter(ns, h) {
			m.clearRef(h)
			m.metrics.RecordCancelled()
			m.gc(ns)
			return true
		}
		// Granted between lookup and lock acquisition: fall through to
		// the holder path.
	}

	if _, held := ns.holders[h]; !held {
		m.clearRef(h)
		return false
	}
	delete(ns.holders, h)
	m.clearRef(h)
	m.metrics.RecordRelease()
	logger.Debug("lock released",
		logger.KeyPath, ns.path,
		logger.KeyHandleID, uint64(h))

	if len(ns.holders) > 0 {
		return true
	}

	ns.mode = coord.LockModeNone
	if m.events != nil {
		m.events.LockReleased(ns.path)
	}
	m.promote(ns)
	m.gc(ns)
	return true
}

// removeWaiter drops h from the wait queue. Caller holds ns.mu.
func (m *Manager) removeWaiter(ns *nodeState, h coord.HandleID) bool {
	for i, w := range ns.waitq {
		if w.handle == h {
			ns.waitq = append(ns.waitq[:i], ns.waitq[i+1:]...)
			return true
		}
	}
	return false
}

// promote grants from the head of the wait queue after the holder-set
// emptied: a single EXCLUSIVE head is granted alone; all contiguous
// SHARED requests at the head are granted together. Caller holds ns.mu.
func (m *Manager) promote(ns *nodeState) {
	if len(ns.waitq) == 0 {
		return
	}

	head := ns.waitq[0]
	var granted []waiter
	if head.mode == coord.LockModeExclusive {
		granted = []waiter{head}
		ns.waitq = ns.waitq[1:]
	} else {
		n := 0
		for n < len(ns.waitq) && ns.waitq[n].mode == coord.LockModeShared {
			n++
		}
		granted = append(granted, ns.waitq[:n]...)
		ns.waitq = append([]waiter(nil), ns.waitq[n:]...)
	}

	ns.mode = head.mode
	for _, w := range granted {
		ns.holders[w.handle] = struct{}{}
		m.setRef(w.handle, handleRef{path: ns.path})
		m.metrics.RecordGrant(w.mode.String(), true, time.Since(w.queuedAt))
		if m.events != nil {
			m.events.LockGranted(ns.path, w.session, w.handle, w.mode)
			m.events.LockAcquired(ns.path, w.mode)
		}
		logger.Debug("queued lock granted",
			logger.KeyPath, ns.path,
			logger.KeyHandleID, uint64(w.handle),
			logger.KeyLockMode, w.mode.String())
	}
}

// Query returns the handle's current lock state: the mode it holds (or
// requested) and whether it is Granted or Pending. ok is false when the
// handle has no lock state at all.
func (m *Manager) Query(h coord.HandleID) (mode coord.LockMode, status coord.LockStatus, ok bool) {
	ns, _, found := m.lookup(h)
	if !found || ns == nil {
		return coord.LockModeNone, 0, false
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, held := ns.holders[h]; held {
		return ns.mode, coord.LockGranted, true
	}
	for _, w := range ns.waitq {
		if w.handle == h {
			return w.mode, coord.LockPending, true
		}
	}
	// Raced with a concurrent release.
	return coord.LockModeNone, 0, false
}

// Locked reports whether the node currently has any lock state (held or
// queued). The master uses this to deny deletion of locked nodes.
func (m *Manager) Locked(path string) bool {
	m.mu.Lock()
	ns := m.nodes[path]
	m.mu.Unlock()

	if ns == nil {
		return false
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.holders) > 0 || len(ns.waitq) > 0
}

// Info is a read-only per-node lock snapshot for the admin API.
type Info struct {
	Path    string           `json:"path"`
	Mode    string           `json:"mode"`
	Holders []coord.HandleID `json:"holders"`
	Waiting int              `json:"waiting"`
}

// Snapshot returns admin-API info for every node with lock state.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	nodes := make([]*nodeState, 0, len(m.nodes))
	for _, ns := range m.nodes {
		nodes = append(nodes, ns)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(nodes))
	for _, ns := range nodes {
		ns.mu.Lock()
		info := Info{
			Path:    ns.path,
			Mode:    ns.mode.String(),
			Holders: make([]coord.HandleID, 0, len(ns.holders)),
			Waiting: len(ns.waitq),
		}
		for h := range ns.holders {
			info.Holders = append(info.Holders, h)
		}
		ns.mu.Unlock()
		out = append(out, info)
	}
	return out
}
