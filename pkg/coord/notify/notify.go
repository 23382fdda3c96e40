// Package notify implements the notification dispatcher: the interest
// registry, per-session ordered outboxes, out-of-band push, and the
// ack/replay protocol that makes delivery loss-free and duplicate-free
// across reconnects within a session's lease lifetime.
package notify

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/metrics"
)

// PushFunc delivers a batch of notifications to a connected client
// out-of-band. A non-nil error means the client is unreachable; the
// entries stay queued for replay.
type PushFunc func([]coord.Notification) error

// Event is one node-level occurrence before fan-out. The dispatcher
// expands it into one Notification per interested live handle.
type Event struct {
	Seq  uint64
	Kind coord.NotificationKind
	Path string
	Name string
	Mode coord.LockMode
}

// interest is one handle's registration on a path.
type interest struct {
	session coord.SessionID
	mask    coord.EventMask
}

// outbox is a session's ordered queue of undelivered notifications.
//
// Entries are appended in publish order and pruned only by ack: a push
// does not dequeue, so a failed push costs nothing and replay is a
// non-destructive scan. The queue is a ring buffer (eapache/queue), so
// ack-prune and append are O(1).
type outbox struct {
	mu   sync.Mutex
	q    *queue.Queue
	sink PushFunc
}

// Dispatcher routes namespace and lock events to interested handles.
type Dispatcher struct {
	mu        sync.RWMutex
	interests map[string]map[coord.HandleID]interest
	outboxes  map[coord.SessionID]*outbox

	metrics *metrics.NotifyMetrics
}

// NewDispatcher creates a dispatcher. Metrics may be nil.
func NewDispatcher(m *metrics.NotifyMetrics) *Dispatcher {
	return &Dispatcher{
		interests: make(map[string]map[coord.HandleID]interest),
		outboxes:  make(map[coord.SessionID]*outbox),
		metrics:   m,
	}
}

// OpenOutbox creates the session's outbox. Called at session creation.
func (d *Dispatcher) OpenOutbox(sess coord.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.outboxes[sess]; !ok {
		d.outboxes[sess] = &outbox{q: queue.New()}
	}
}

// DropSession discards the session's outbox and returns the number of
// undelivered notifications thrown away. Notifications are
// session-scoped: nothing survives the session.
func (d *Dispatcher) DropSession(sess coord.SessionID) int {
	d.mu.Lock()
	ob := d.outboxes[sess]
	delete(d.outboxes, sess)
	d.mu.Unlock()

	if ob == nil {
		return 0
	}
	ob.mu.Lock()
	n := ob.q.Length()
	ob.mu.Unlock()

	d.metrics.RecordDiscarded(n)
	if n > 0 {
		logger.Debug("discarded undelivered notifications with session",
			logger.KeySessionID, uint64(sess),
			logger.KeyCount, n)
	}
	return n
}

// Register records a handle's event interest on a path.
func (d *Dispatcher) Register(path string, sess coord.SessionID, h coord.HandleID, mask coord.EventMask) {
	if mask == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	reg := d.interests[path]
	if reg == nil {
		reg = make(map[coord.HandleID]interest)
		d.interests[path] = reg
	}
	reg[h] = interest{session: sess, mask: mask}
}

// Deregister removes a handle's interest on a path. Idempotent.
func (d *Dispatcher) Deregister(path string, h coord.HandleID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg := d.interests[path]
	if reg == nil {
		return
	}
	delete(reg, h)
	if len(reg) == 0 {
		delete(d.interests, path)
	}
}

// Publish fans an event out to every live handle whose path and
// interest mask match, enqueueing one Notification per handle and
// attempting an immediate push to connected sessions.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	reg := d.interests[ev.Path]
	targets := make([]struct {
		h  coord.HandleID
		in interest
	}, 0, len(reg))
	for h, in := range reg {
		if in.mask.Wants(ev.Kind) {
			targets = append(targets, struct {
				h  coord.HandleID
				in interest
			}{h, in})
		}
	}
	d.mu.RUnlock()

	for _, t := range targets {
		d.enqueue(t.in.session, coord.Notification{
			Seq:    ev.Seq,
			Kind:   ev.Kind,
			Handle: t.h,
			Path:   ev.Path,
			Name:   ev.Name,
			Mode:   ev.Mode,
		})
	}
}

// PublishTo enqueues a notification for one specific handle, bypassing
// the interest registry. Used for LockGranted, which always reaches the
// handle whose request was granted.
func (d *Dispatcher) PublishTo(sess coord.SessionID, n coord.Notification) {
	d.enqueue(sess, n)
}

func (d *Dispatcher) enqueue(sess coord.SessionID, n coord.Notification) {
	d.mu.RLock()
	ob := d.outboxes[sess]
	d.mu.RUnlock()

	if ob == nil {
		// Session already torn down; the handle is dead too.
		return
	}

	ob.mu.Lock()
	ob.q.Add(n)
	sink := ob.sink
	ob.mu.Unlock()

	d.metrics.RecordPublished(n.Kind.String())

	if sink != nil {
		if err := sink([]coord.Notification{n}); err != nil {
			logger.Debug("notification push failed, left queued",
				logger.KeySessionID, uint64(sess),
				logger.KeySeq, n.Seq,
				logger.KeyError, err.Error())
		} else {
			d.metrics.RecordDelivered(1)
		}
	}
}

// AttachSink installs the push channel for a connected session.
// Replaces any previous sink (reconnect).
func (d *Dispatcher) AttachSink(sess coord.SessionID, sink PushFunc) {
	d.mu.RLock()
	ob := d.outboxes[sess]
	d.mu.RUnlock()

	if ob == nil {
		return
	}
	ob.mu.Lock()
	ob.sink = sink
	ob.mu.Unlock()
}

// DetachSink removes the session's push channel (disconnect).
func (d *Dispatcher) DetachSink(sess coord.SessionID) {
	d.mu.RLock()
	ob := d.outboxes[sess]
	d.mu.RUnlock()

	if ob == nil {
		return
	}
	ob.mu.Lock()
	ob.sink = nil
	ob.mu.Unlock()
}

// Ack prunes the contiguous prefix of the session's outbox whose
// sequence numbers are <= acked and returns the number pruned. Pruning
// stops at the first entry beyond acked so an out-of-order entry from
// another node is never dropped undelivered.
func (d *Dispatcher) Ack(sess coord.SessionID, acked uint64) int {
	d.mu.RLock()
	ob := d.outboxes[sess]
	d.mu.RUnlock()

	if ob == nil {
		return 0
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	pruned := 0
	for ob.q.Length() > 0 {
		n := ob.q.Peek().(coord.Notification)
		if n.Seq > acked {
			break
		}
		ob.q.Remove()
		pruned++
	}
	d.metrics.RecordAcked(pruned)
	return pruned
}

// PendingSince returns, in order, every queued notification with a
// sequence number greater than acked. The scan is non-destructive;
// entries leave the outbox only via Ack. Reconnect replay is exactly
// this: the client reports its last-acknowledged sequence and receives
// the gap, no more, no less.
func (d *Dispatcher) PendingSince(sess coord.SessionID, acked uint64) []coord.Notification {
	d.mu.RLock()
	ob := d.outboxes[sess]
	d.mu.RUnlock()

	if ob == nil {
		return nil
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	var out []coord.Notification
	for i := 0; i < ob.q.Length(); i++ {
		n := ob.q.Get(i).(coord.Notification)
		if n.Seq > acked {
			out = append(out, n)
		}
	}
	return out
}

// QueuedCount returns the number of undelivered notifications for a
// session, for the admin API.
func (d *Dispatcher) QueuedCount(sess coord.SessionID) int {
	d.mu.RLock()
	ob := d.outboxes[sess]
	d.mu.RUnlock()

	if ob == nil {
		return 0
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.q.Length()
}
