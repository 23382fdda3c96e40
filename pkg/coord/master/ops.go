package master

import (
	"context"
	"errors"
	"time"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/coord/handle"
	"github.com/aeriedb/aerie/pkg/coord/lock"
	"github.com/aeriedb/aerie/pkg/coord/notify"
	"github.com/aeriedb/aerie/pkg/coord/session"
	"github.com/aeriedb/aerie/pkg/namespace"
)

// mapStoreErr translates namespace store failures into wire errors.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, namespace.ErrNotFound):
		return coord.ErrNodeNotFound
	case errors.Is(err, namespace.ErrExists):
		return coord.ErrNodeExists
	case errors.Is(err, namespace.ErrNotEmpty):
		return coord.ErrNodeNotEmpty
	case errors.Is(err, namespace.ErrBadPath):
		return coord.ErrBadRequest
	default:
		return coord.Errf(coord.CodeStoreError, "%v", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, namespace.ErrNotFound) || errors.Is(err, coord.ErrNodeNotFound)
}

// CreateSession establishes a new session and its notification outbox,
// returning the session ID and the lease the client must keep alive.
func (m *Master) CreateSession(remoteAddr string) (coord.SessionID, time.Duration) {
	s := m.sessions.Create(remoteAddr)
	m.dispatcher.OpenOutbox(s.ID)
	return s.ID, m.sessions.LeaseDuration()
}

// Keepalive renews the session's lease. The client piggybacks its
// last-acknowledged sequence number: entries up to it are pruned from
// the outbox, and anything still queued beyond it comes back in the
// response so a reconnecting client replays exactly its gap.
func (m *Master) Keepalive(id coord.SessionID, acked uint64) ([]coord.Notification, error) {
	if err := m.sessions.Keepalive(id); err != nil {
		return nil, err
	}
	m.dispatcher.Ack(id, acked)
	return m.dispatcher.PendingSince(id, acked), nil
}

// DestroySession tears the session down on client request.
func (m *Master) DestroySession(id coord.SessionID) error {
	return m.sessions.Destroy(id)
}

// Open resolves path into a handle for the session.
//
// Flag semantics: CREATE makes the node if absent (EXCL additionally
// insists it was absent, TEMP makes it ephemeral to the session).
// Without CREATE the node must exist. The event mask selects which node
// events the handle receives; LockGranted always reaches the requesting
// handle regardless of mask.
func (m *Master) Open(ctx context.Context, sess coord.SessionID, path string, flags coord.OpenFlags, mask coord.EventMask) (coord.HandleID, error) {
	s, err := m.sessions.Get(sess)
	if err != nil {
		return 0, err
	}
	path, perr := namespace.CleanPath(path)
	if perr != nil {
		return 0, coord.ErrBadRequest
	}
	if flags.Has(coord.OpenExcl) && !flags.Has(coord.OpenCreate) {
		return 0, coord.ErrBadRequest
	}
	if flags.Has(coord.OpenTemp) && !flags.Has(coord.OpenCreate) {
		return 0, coord.ErrBadRequest
	}

	if err := m.openNode(ctx, s, path, flags); err != nil {
		return 0, err
	}

	h := m.handles.Insert(sess, path, flags, mask)
	if !s.AddHandle(h.ID) {
		// Session died between the liveness check and here; the teardown
		// cascade will not see this handle, so undo it ourselves.
		m.handles.Remove(h.ID)
		return 0, coord.ErrSessionInvalid
	}
	m.dispatcher.Register(path, sess, h.ID, mask)

	logger.Debug("handle opened",
		logger.KeySessionID, uint64(sess),
		logger.KeyHandleID, uint64(h.ID),
		logger.KeyPath, path)
	return h.ID, nil
}

// openNode ensures the target node exists per the open flags, creating
// it under the parent's stripe when CREATE applies.
func (m *Master) openNode(ctx context.Context, s *session.Session, path string, flags coord.OpenFlags) error {
	if !flags.Has(coord.OpenCreate) {
		ok, err := m.store.Exists(ctx, path)
		if err != nil {
			return mapStoreErr(err)
		}
		if !ok {
			return coord.ErrNodeNotFound
		}
		return nil
	}

	parent := namespace.Parent(path)
	st := m.stripe(parent)
	st.Lock()
	defer st.Unlock()

	seq, err := m.store.Create(ctx, path, flags.Has(coord.OpenTemp), uint64(s.ID))
	if errors.Is(err, namespace.ErrExists) {
		if flags.Has(coord.OpenExcl) {
			return coord.ErrNodeExists
		}
		return nil
	}
	if err != nil {
		return mapStoreErr(err)
	}

	m.observeSeq(seq)
	m.dispatcher.Publish(notifyEvent(seq, coord.NotifyChildAdded, parent, namespace.Base(path)))
	return nil
}

// Close releases the handle: its lock state is dropped first (waking
// any waiters), then its event registration and table entry. Closing an
// unknown or already-closed handle succeeds, so a retried CLOSE after a
// lost response is harmless.
func (m *Master) Close(ctx context.Context, id coord.HandleID) error {
	h, ok := m.handles.Remove(id)
	if !ok {
		return nil
	}

	st := m.stripe(h.Path)
	st.Lock()
	m.locks.Release(id)
	st.Unlock()
	m.dispatcher.Deregister(h.Path, id)
	if s, err := m.sessions.Get(h.Session); err == nil {
		s.RemoveHandle(id)
	}

	logger.Debug("handle closed",
		logger.KeySessionID, uint64(h.Session),
		logger.KeyHandleID, uint64(id),
		logger.KeyPath, h.Path)
	return nil
}

// Lock requests the node lock through a handle opened with the LOCK
// flag. Never blocks: a conflicting request returns LockPending and is
// granted later through a LockGranted notification.
func (m *Master) Lock(ctx context.Context, id coord.HandleID, mode coord.LockMode) (coord.LockStatus, error) {
	h, err := m.handles.Get(id)
	if err != nil {
		return 0, err
	}
	if !h.Mode.Has(coord.OpenLock) {
		return 0, coord.Errf(coord.CodeBadRequest, "handle not opened with LOCK")
	}
	if _, err := m.sessions.Get(h.Session); err != nil {
		return 0, err
	}

	st := m.stripe(h.Path)
	st.Lock()
	defer st.Unlock()

	// The node may have been deleted since the handle was opened.
	// Holding the stripe excludes a concurrent delete, so the check and
	// the grant see the same node.
	exists, serr := m.store.Exists(ctx, h.Path)
	if serr != nil {
		return 0, mapStoreErr(serr)
	}
	if !exists {
		return coord.LockDenied, nil
	}

	status := m.locks.TryLock(h.Session, id, h.Path, mode)
	if status == coord.LockDenied {
		return status, nil
	}

	// The expiry sweep may have torn the session down between the
	// liveness check and the grant. The cascade cannot have seen this
	// lock state, so undo it here.
	if _, err := m.sessions.Get(h.Session); err != nil {
		m.locks.Release(id)
		return 0, err
	}
	return status, nil
}

// Release drops the handle's lock state, held or pending. Releasing a
// handle with no lock state succeeds.
func (m *Master) Release(id coord.HandleID) error {
	h, err := m.handles.Get(id)
	if err != nil {
		return err
	}
	st := m.stripe(h.Path)
	st.Lock()
	m.locks.Release(id)
	st.Unlock()
	return nil
}

// LockStatus reports the handle's current lock state without changing
// it: the mode and whether it is granted or still queued. A handle with
// no lock state yields LockModeNone.
func (m *Master) LockStatus(id coord.HandleID) (coord.LockMode, coord.LockStatus, error) {
	if _, err := m.handles.Get(id); err != nil {
		return coord.LockModeNone, 0, err
	}
	mode, status, ok := m.locks.Query(id)
	if !ok {
		return coord.LockModeNone, 0, nil
	}
	return mode, status, nil
}

// Mkdir creates a persistent node, session-scoped but not handle-based.
func (m *Master) Mkdir(ctx context.Context, sess coord.SessionID, path string) error {
	if _, err := m.sessions.Get(sess); err != nil {
		return err
	}
	path, perr := namespace.CleanPath(path)
	if perr != nil {
		return coord.ErrBadRequest
	}

	parent := namespace.Parent(path)
	st := m.stripe(parent)
	st.Lock()
	defer st.Unlock()

	seq, err := m.store.Create(ctx, path, false, 0)
	if err != nil {
		return mapStoreErr(err)
	}
	m.observeSeq(seq)
	m.dispatcher.Publish(notifyEvent(seq, coord.NotifyChildAdded, parent, namespace.Base(path)))
	return nil
}

// Delete removes a node. Nodes with children or with active lock state
// (held or queued) are refused; the caller releases the lock first.
func (m *Master) Delete(ctx context.Context, sess coord.SessionID, path string) error {
	if _, err := m.sessions.Get(sess); err != nil {
		return err
	}
	path, perr := namespace.CleanPath(path)
	if perr != nil {
		return coord.ErrBadRequest
	}
	if path == "/" {
		return coord.ErrBadRequest
	}

	// The lock-state check and the delete run under the node's stripe,
	// so a lock granted concurrently either lands before the check and
	// denies the delete, or after the node is gone and is itself
	// denied.
	parent := namespace.Parent(path)
	unlock := m.lockPair(path, parent)
	defer unlock()

	if m.locks.Locked(path) {
		return coord.ErrNodeLocked
	}
	if err := m.deleteNodeLocked(ctx, path, parent); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// AttrSet writes an attribute through a WRITE handle and notifies
// interested observers of the node.
func (m *Master) AttrSet(ctx context.Context, id coord.HandleID, name string, value []byte) error {
	h, err := m.handles.Get(id)
	if err != nil {
		return err
	}
	if !h.Mode.Has(coord.OpenWrite) {
		return coord.Errf(coord.CodeBadRequest, "handle not opened with WRITE")
	}
	if name == "" {
		return coord.ErrBadRequest
	}

	st := m.stripe(h.Path)
	st.Lock()
	defer st.Unlock()

	seq, serr := m.store.SetAttr(ctx, h.Path, name, value)
	if serr != nil {
		return mapStoreErr(serr)
	}
	m.observeSeq(seq)
	m.dispatcher.Publish(notifyEvent(seq, coord.NotifyAttrSet, h.Path, name))
	return nil
}

// AttrGet reads an attribute through a READ handle.
func (m *Master) AttrGet(ctx context.Context, id coord.HandleID, name string) ([]byte, error) {
	h, err := m.handles.Get(id)
	if err != nil {
		return nil, err
	}
	if !h.Mode.Has(coord.OpenRead) {
		return nil, coord.Errf(coord.CodeBadRequest, "handle not opened with READ")
	}

	value, serr := m.store.GetAttr(ctx, h.Path, name)
	if errors.Is(serr, namespace.ErrNotFound) {
		// Distinguish a vanished node from a missing attribute.
		if ok, eerr := m.store.Exists(ctx, h.Path); eerr == nil && !ok {
			return nil, coord.ErrNodeNotFound
		}
		return nil, coord.ErrAttrNotFound
	}
	if serr != nil {
		return nil, mapStoreErr(serr)
	}
	return value, nil
}

// AttrDel removes an attribute through a WRITE handle and notifies
// interested observers.
func (m *Master) AttrDel(ctx context.Context, id coord.HandleID, name string) error {
	h, err := m.handles.Get(id)
	if err != nil {
		return err
	}
	if !h.Mode.Has(coord.OpenWrite) {
		return coord.Errf(coord.CodeBadRequest, "handle not opened with WRITE")
	}

	st := m.stripe(h.Path)
	st.Lock()
	defer st.Unlock()

	seq, serr := m.store.DelAttr(ctx, h.Path, name)
	if errors.Is(serr, namespace.ErrNotFound) {
		if ok, eerr := m.store.Exists(ctx, h.Path); eerr == nil && !ok {
			return coord.ErrNodeNotFound
		}
		return coord.ErrAttrNotFound
	}
	if serr != nil {
		return mapStoreErr(serr)
	}
	m.observeSeq(seq)
	m.dispatcher.Publish(notifyEvent(seq, coord.NotifyAttrDel, h.Path, name))
	return nil
}

// Exists reports whether a path exists. Handle-free: existence checks
// are cheap enough not to warrant an open/close round trip.
func (m *Master) Exists(ctx context.Context, sess coord.SessionID, path string) (bool, error) {
	if _, err := m.sessions.Get(sess); err != nil {
		return false, err
	}
	path, perr := namespace.CleanPath(path)
	if perr != nil {
		return false, coord.ErrBadRequest
	}
	ok, serr := m.store.Exists(ctx, path)
	if serr != nil {
		return false, mapStoreErr(serr)
	}
	return ok, nil
}

// ReadDir lists the children of the node behind a READ handle, sorted.
func (m *Master) ReadDir(ctx context.Context, id coord.HandleID) ([]string, error) {
	h, err := m.handles.Get(id)
	if err != nil {
		return nil, err
	}
	if !h.Mode.Has(coord.OpenRead) {
		return nil, coord.Errf(coord.CodeBadRequest, "handle not opened with READ")
	}

	names, serr := m.store.ListChildren(ctx, h.Path)
	if serr != nil {
		return nil, mapStoreErr(serr)
	}
	return names, nil
}

// Sessions returns admin-API session snapshots.
func (m *Master) Sessions() []session.Info {
	return m.sessions.Snapshot()
}

// Handles returns admin-API handle snapshots.
func (m *Master) Handles() []handle.Info {
	return m.handles.Snapshot()
}

// Locks returns admin-API lock snapshots.
func (m *Master) Locks() []lock.Info {
	return m.locks.Snapshot()
}

// NodeInfo is a namespace node plus its children, for the admin API.
type NodeInfo struct {
	Node     *namespace.Node `json:"node"`
	Children []string        `json:"children"`
	Locked   bool            `json:"locked"`
}

// Inspect returns the admin-API view of one namespace node.
func (m *Master) Inspect(ctx context.Context, path string) (*NodeInfo, error) {
	path, perr := namespace.CleanPath(path)
	if perr != nil {
		return nil, coord.ErrBadRequest
	}
	node, err := m.store.Get(ctx, path)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	children, err := m.store.ListChildren(ctx, path)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return &NodeInfo{Node: node, Children: children, Locked: m.locks.Locked(path)}, nil
}

func notifyEvent(seq uint64, kind coord.NotificationKind, path, name string) notify.Event {
	return notify.Event{Seq: seq, Kind: kind, Path: path, Name: name}
}
