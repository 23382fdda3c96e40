package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeriedb/aerie/pkg/coord"
)

// recorder captures event-sink callbacks in order.
type recorder struct {
	mu      sync.Mutex
	granted []coord.HandleID
	events  []string
}

func (r *recorder) LockGranted(path string, sess coord.SessionID, h coord.HandleID, mode coord.LockMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted = append(r.granted, h)
	r.events = append(r.events, "granted")
}

func (r *recorder) LockAcquired(path string, mode coord.LockMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "acquired")
}

func (r *recorder) LockReleased(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "released")
}

func (r *recorder) LockContended(path string, mode coord.LockMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "contended")
}

func newTestManager() (*Manager, *recorder) {
	rec := &recorder{}
	m := NewManager(0, nil)
	m.SetEvents(rec)
	return m, rec
}

func TestExclusiveLockImmediateGrant(t *testing.T) {
	m, _ := newTestManager()

	status := m.TryLock(1, 10, "/a", coord.LockModeExclusive)
	require.Equal(t, coord.LockGranted, status)

	mode, st, ok := m.Query(10)
	require.True(t, ok)
	assert.Equal(t, coord.LockModeExclusive, mode)
	assert.Equal(t, coord.LockGranted, st)
}

func TestConflictingExclusiveQueuesFIFO(t *testing.T) {
	m, rec := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeExclusive))
	require.Equal(t, coord.LockPending, m.TryLock(2, 20, "/a", coord.LockModeExclusive))
	require.Equal(t, coord.LockPending, m.TryLock(3, 30, "/a", coord.LockModeExclusive))

	// Releasing the holder grants the earliest waiter, exactly one.
	require.True(t, m.Release(10))
	require.Equal(t, []coord.HandleID{20}, rec.granted)

	mode, st, ok := m.Query(20)
	require.True(t, ok)
	assert.Equal(t, coord.LockModeExclusive, mode)
	assert.Equal(t, coord.LockGranted, st)

	_, st, ok = m.Query(30)
	require.True(t, ok)
	assert.Equal(t, coord.LockPending, st)

	require.True(t, m.Release(20))
	assert.Equal(t, []coord.HandleID{20, 30}, rec.granted)
}

func TestSharedHoldersCoexist(t *testing.T) {
	m, _ := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeShared))
	require.Equal(t, coord.LockGranted, m.TryLock(2, 20, "/a", coord.LockModeShared))
	require.Equal(t, coord.LockGranted, m.TryLock(3, 30, "/a", coord.LockModeShared))

	assert.True(t, m.Locked("/a"))
}

func TestSharedBatchPromotion(t *testing.T) {
	m, rec := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeExclusive))
	require.Equal(t, coord.LockPending, m.TryLock(2, 20, "/a", coord.LockModeShared))
	require.Equal(t, coord.LockPending, m.TryLock(3, 30, "/a", coord.LockModeShared))
	require.Equal(t, coord.LockPending, m.TryLock(4, 40, "/a", coord.LockModeExclusive))

	// The contiguous shared head is granted together; the exclusive
	// waiter stays queued.
	require.True(t, m.Release(10))
	assert.Equal(t, []coord.HandleID{20, 30}, rec.granted)

	_, st, ok := m.Query(40)
	require.True(t, ok)
	assert.Equal(t, coord.LockPending, st)

	require.True(t, m.Release(20))
	require.True(t, m.Release(30))
	assert.Equal(t, []coord.HandleID{20, 30, 40}, rec.granted)
}

func TestSharedRequestBehindWaitingWriterQueues(t *testing.T) {
	m, _ := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeShared))
	require.Equal(t, coord.LockPending, m.TryLock(2, 20, "/a", coord.LockModeExclusive))

	// The holder-set is all-shared, but a writer is waiting: strict
	// FIFO queues the new shared request instead of granting it.
	require.Equal(t, coord.LockPending, m.TryLock(3, 30, "/a", coord.LockModeShared))
}

func TestDoubleLockDenied(t *testing.T) {
	m, _ := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeExclusive))
	assert.Equal(t, coord.LockDenied, m.TryLock(1, 10, "/b", coord.LockModeShared))
}

func TestBadModeDenied(t *testing.T) {
	m, _ := newTestManager()
	assert.Equal(t, coord.LockDenied, m.TryLock(1, 10, "/a", coord.LockModeNone))
	assert.Equal(t, coord.LockDenied, m.TryLock(1, 10, "/a", coord.LockMode(9)))
}

func TestReleasePendingCancels(t *testing.T) {
	m, rec := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeExclusive))
	require.Equal(t, coord.LockPending, m.TryLock(2, 20, "/a", coord.LockModeExclusive))
	require.Equal(t, coord.LockPending, m.TryLock(3, 30, "/a", coord.LockModeExclusive))

	// Cancelling the first waiter must not grant it later.
	require.True(t, m.Release(20))

	require.True(t, m.Release(10))
	assert.Equal(t, []coord.HandleID{30}, rec.granted)
}

func TestReleaseUnknownHandle(t *testing.T) {
	m, _ := newTestManager()
	assert.False(t, m.Release(99))
}

func TestNodeStateGarbageCollected(t *testing.T) {
	m, _ := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeExclusive))
	require.True(t, m.Release(10))

	assert.False(t, m.Locked("/a"))
	assert.Empty(t, m.Snapshot())
}

func TestWaitQueueBound(t *testing.T) {
	rec := &recorder{}
	m := NewManager(2, nil)
	m.SetEvents(rec)

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeExclusive))
	require.Equal(t, coord.LockPending, m.TryLock(2, 20, "/a", coord.LockModeExclusive))
	require.Equal(t, coord.LockPending, m.TryLock(3, 30, "/a", coord.LockModeExclusive))
	assert.Equal(t, coord.LockDenied, m.TryLock(4, 40, "/a", coord.LockModeExclusive))
}

func TestSnapshot(t *testing.T) {
	m, _ := newTestManager()

	require.Equal(t, coord.LockGranted, m.TryLock(1, 10, "/a", coord.LockModeShared))
	require.Equal(t, coord.LockGranted, m.TryLock(2, 20, "/a", coord.LockModeShared))
	require.Equal(t, coord.LockPending, m.TryLock(3, 30, "/a", coord.LockModeExclusive))

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "/a", snap[0].Path)
	assert.Equal(t, "SHARED", snap[0].Mode)
	assert.Len(t, snap[0].Holders, 2)
	assert.Equal(t, 1, snap[0].Waiting)
}
