// Package master glues the coordination engines together: it owns the
// persistent namespace store, the session manager, the handle table,
// the lock manager, and the notification dispatcher, and exposes the
// operations the RPC layer dispatches into.
//
// A Master is an explicitly constructed context object, not process
// state: it is built when this node becomes the active master and shut
// down when it steps down, so election transitions never leak state
// between incarnations.
package master

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/coord/handle"
	"github.com/aeriedb/aerie/pkg/coord/lock"
	"github.com/aeriedb/aerie/pkg/coord/notify"
	"github.com/aeriedb/aerie/pkg/coord/session"
	"github.com/aeriedb/aerie/pkg/metrics"
	"github.com/aeriedb/aerie/pkg/namespace"
)

// pathStripes is the size of the striped mutex table serializing
// mutation+publish per node.
const pathStripes = 64

// cleanupInterval is how often the background sweep retries failed
// ephemeral-node deletions.
const cleanupInterval = 5 * time.Second

// Config holds master tuning.
type Config struct {
	// Lease configures session lease handling.
	Lease session.Config

	// MaxLockWaiters bounds each node's lock wait queue.
	MaxLockWaiters int
}

// Master is the active coordination master.
type Master struct {
	instanceID string

	store      namespace.Store
	sessions   *session.Manager
	handles    *handle.Table
	locks      *lock.Manager
	dispatcher *notify.Dispatcher

	// stripes serialize mutation and notification emission per node, so
	// an observer never sees an event reordered relative to the change
	// that produced it. Lock transitions take the node's stripe too,
	// which puts lock events and namespace events for one node in a
	// single sequencing order. Cross-node ordering is not guaranteed.
	stripes [pathStripes]sync.Mutex

	// seqShadow tracks the highest sequence seen, as a fallback when a
	// sequence bump against the store fails mid-grant.
	seqShadow atomic.Uint64

	// retryMu guards retryPaths: ephemeral deletions that failed during
	// a teardown cascade, retried by the background sweep. Teardown is
	// never blocked on them.
	retryMu    sync.Mutex
	retryPaths []string
}

// New builds a master over the given namespace store. Metrics are
// created against the process registry; when metrics are disabled the
// components receive nil and record nothing.
func New(cfg Config, store namespace.Store) (*Master, error) {
	m := &Master{
		instanceID: uuid.NewString(),
		store:      store,
		sessions:   session.NewManager(cfg.Lease, metrics.NewSessionMetrics()),
		handles:    handle.NewTable(),
		locks:      lock.NewManager(cfg.MaxLockWaiters, metrics.NewLockMetrics()),
		dispatcher: notify.NewDispatcher(metrics.NewNotifyMetrics()),
	}

	last, err := store.LastSeq(context.Background())
	if err != nil {
		return nil, err
	}
	m.seqShadow.Store(last)

	m.sessions.SetTeardown(m.teardownSession)
	m.locks.SetEvents(&lockEvents{m: m})

	logger.Info("coordination master constructed",
		"instance_id", m.instanceID,
		"lease", m.sessions.LeaseDuration().String())
	return m, nil
}

// InstanceID returns this master incarnation's identifier.
func (m *Master) InstanceID() string {
	return m.instanceID
}

// LeaseDuration returns the configured session lease window.
func (m *Master) LeaseDuration() time.Duration {
	return m.sessions.LeaseDuration()
}

// Dispatcher exposes the notification dispatcher to the RPC adapter,
// which attaches per-connection push sinks.
func (m *Master) Dispatcher() *notify.Dispatcher {
	return m.dispatcher
}

// Run drives the expiry sweep and the cleanup retry sweep until the
// context is cancelled.
func (m *Master) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		m.sessions.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		m.cleanupLoop(ctx)
	}()

	wg.Wait()
}

func (m *Master) stripeIdx(path string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(path))
	return h.Sum32() % pathStripes
}

func (m *Master) stripe(path string) *sync.Mutex {
	return &m.stripes[m.stripeIdx(path)]
}

// lockPair acquires the stripes for two paths in index order and
// returns the unlock function. Index ordering keeps callers that need
// both a node's and its parent's stripe from deadlocking against each
// other.
func (m *Master) lockPair(a, b string) func() {
	i, j := m.stripeIdx(a), m.stripeIdx(b)
	if i == j {
		mu := &m.stripes[i]
		mu.Lock()
		return mu.Unlock
	}
	if i > j {
		i, j = j, i
	}
	m.stripes[i].Lock()
	m.stripes[j].Lock()
	return func() {
		m.stripes[j].Unlock()
		m.stripes[i].Unlock()
	}
}

// nextSeq allocates the next global mutation sequence for a lock-state
// transition. A store failure falls back to the in-memory shadow so a
// grant is never lost to a sequencing hiccup; the shadow is kept ahead
// of every store-assigned sequence via observeSeq.
func (m *Master) nextSeq(ctx context.Context) uint64 {
	seq, err := m.store.NextSeq(ctx)
	if err != nil {
		logger.Warn("sequence bump failed, using shadow counter",
			logger.KeyError, err.Error())
		return m.seqShadow.Add(1)
	}
	m.observeSeq(seq)
	return seq
}

// observeSeq advances the shadow counter to at least seq.
func (m *Master) observeSeq(seq uint64) {
	for {
		cur := m.seqShadow.Load()
		if cur >= seq || m.seqShadow.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// teardownSession is the cleanup cascade for an expired or destroyed
// session. Order matters: locks are released (waking waiters) before
// any ephemeral node is deleted, so lock-waiters observe their grant
// before the node-removal events fire.
func (m *Master) teardownSession(s *session.Session, reason string) {
	ctx := context.Background()

	hs := m.handles.ForSession(s.ID)

	// Phase 1: release or cancel every lock owned through the session's
	// handles. Pending requests are removed from wait queues; released
	// holders wake their waiters through the usual grant path. Each
	// release runs under the node's stripe, like every lock transition.
	for _, h := range hs {
		st := m.stripe(h.Path)
		st.Lock()
		m.locks.Release(h.ID)
		st.Unlock()
	}

	// Phase 2: tear the handles down.
	for _, h := range hs {
		m.dispatcher.Deregister(h.Path, h.ID)
		m.handles.Remove(h.ID)
	}

	// Phase 3: delete the session's ephemeral nodes, deepest first.
	// Failures are queued for the background sweep rather than
	// blocking destruction: no client can reach the dead session's
	// resources either way.
	paths, err := m.store.ListEphemeral(ctx, uint64(s.ID))
	if err != nil {
		logger.Error("failed to list ephemeral nodes during teardown",
			logger.KeySessionID, uint64(s.ID),
			logger.KeyError, err.Error())
	}
	for _, p := range paths {
		if err := m.deleteNode(ctx, p); err != nil {
			logger.Warn("ephemeral node deletion failed, queued for retry",
				logger.KeyPath, p,
				logger.KeyError, err.Error())
			m.queueRetry(p)
		}
	}

	// Phase 4: the outbox dies with the session.
	m.dispatcher.DropSession(s.ID)

	logger.Debug("session teardown cascade finished",
		logger.KeySessionID, uint64(s.ID),
		"reason", reason,
		"handles", len(hs),
		"ephemeral", len(paths))
}

// deleteNode removes a node under its own and its parent's stripes and
// publishes the ChildRemoved event. Holding the node's stripe excludes
// concurrent lock transitions on the path.
func (m *Master) deleteNode(ctx context.Context, path string) error {
	parent := namespace.Parent(path)
	unlock := m.lockPair(path, parent)
	defer unlock()
	return m.deleteNodeLocked(ctx, path, parent)
}

// deleteNodeLocked performs the store delete and the event publish.
// Caller holds the stripes for path and parent.
func (m *Master) deleteNodeLocked(ctx context.Context, path, parent string) error {
	seq, err := m.store.Delete(ctx, path)
	if err != nil {
		return err
	}
	m.observeSeq(seq)
	m.dispatcher.Publish(notify.Event{
		Seq:  seq,
		Kind: coord.NotifyChildRemoved,
		Path: parent,
		Name: namespace.Base(path),
	})
	return nil
}

func (m *Master) queueRetry(path string) {
	m.retryMu.Lock()
	m.retryPaths = append(m.retryPaths, path)
	m.retryMu.Unlock()
}

// cleanupLoop retries queued ephemeral deletions until they succeed or
// the node is gone.
func (m *Master) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.retrySweep(ctx)
		}
	}
}

func (m *Master) retrySweep(ctx context.Context) {
	m.retryMu.Lock()
	pending := m.retryPaths
	m.retryPaths = nil
	m.retryMu.Unlock()

	for _, p := range pending {
		err := m.deleteNode(ctx, p)
		switch {
		case err == nil:
			logger.Info("deferred ephemeral node deletion succeeded",
				logger.KeyPath, p)
		case isNotFound(err):
			// Already gone, nothing to do.
		default:
			logger.Warn("deferred ephemeral node deletion failed again",
				logger.KeyPath, p,
				logger.KeyError, err.Error())
			m.queueRetry(p)
		}
	}
}

// lockEvents adapts lock-state transitions into dispatcher events. The
// callbacks run with the node's lock held, which keeps per-node event
// order aligned with transition order.
type lockEvents struct {
	m *Master
}

func (e *lockEvents) LockGranted(path string, sess coord.SessionID, h coord.HandleID, mode coord.LockMode) {
	e.m.dispatcher.PublishTo(sess, coord.Notification{
		Seq:    e.m.nextSeq(context.Background()),
		Kind:   coord.NotifyLockGranted,
		Handle: h,
		Path:   path,
		Mode:   mode,
	})
}

func (e *lockEvents) LockAcquired(path string, mode coord.LockMode) {
	e.m.dispatcher.Publish(notify.Event{
		Seq:  e.m.nextSeq(context.Background()),
		Kind: coord.NotifyLockAcquired,
		Path: path,
		Mode: mode,
	})
}

func (e *lockEvents) LockReleased(path string) {
	e.m.dispatcher.Publish(notify.Event{
		Seq:  e.m.nextSeq(context.Background()),
		Kind: coord.NotifyLockReleased,
		Path: path,
	})
}

func (e *lockEvents) LockContended(path string, mode coord.LockMode) {
	e.m.dispatcher.Publish(notify.Event{
		Seq:  e.m.nextSeq(context.Background()),
		Kind: coord.NotifyLockContended,
		Path: path,
		Mode: mode,
	})
}
