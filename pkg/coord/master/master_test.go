package master

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/coord/session"
	"github.com/aeriedb/aerie/pkg/namespace/memstore"
)

func newTestMaster(t *testing.T) *Master {
	t.Helper()
	m, err := New(Config{
		Lease: session.Config{
			LeaseDuration: time.Minute,
			SweepInterval: time.Hour,
		},
	}, memstore.New())
	require.NoError(t, err)
	return m
}

func kinds(ns []coord.Notification) []coord.NotificationKind {
	out := make([]coord.NotificationKind, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Kind)
	}
	return out
}

func TestOpenRequiresCreateForNewNode(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	_, err := m.Open(ctx, sess, "/app", coord.OpenRead, 0)
	assert.ErrorIs(t, err, coord.ErrNodeNotFound)

	h, err := m.Open(ctx, sess, "/app", coord.OpenRead|coord.OpenCreate, 0)
	require.NoError(t, err)
	require.NotZero(t, h)

	// The node now exists, so a plain open works too.
	_, err = m.Open(ctx, sess, "/app", coord.OpenRead, 0)
	assert.NoError(t, err)
}

func TestOpenExclFailsOnExistingNode(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	_, err := m.Open(ctx, sess, "/app", coord.OpenCreate, 0)
	require.NoError(t, err)

	_, err = m.Open(ctx, sess, "/app", coord.OpenCreate|coord.OpenExcl, 0)
	assert.ErrorIs(t, err, coord.ErrNodeExists)

	// EXCL and TEMP are meaningless without CREATE.
	_, err = m.Open(ctx, sess, "/other", coord.OpenExcl, 0)
	assert.ErrorIs(t, err, coord.ErrBadRequest)
	_, err = m.Open(ctx, sess, "/other", coord.OpenTemp, 0)
	assert.ErrorIs(t, err, coord.ErrBadRequest)
}

func TestOpenUnknownSession(t *testing.T) {
	m := newTestMaster(t)
	_, err := m.Open(context.Background(), 999, "/app", coord.OpenCreate, 0)
	assert.ErrorIs(t, err, coord.ErrSessionInvalid)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	h, err := m.Open(ctx, sess, "/app", coord.OpenCreate, 0)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, h))
	require.NoError(t, m.Close(ctx, h))
	require.NoError(t, m.Close(ctx, 4242))
}

func TestLockConflictPendingThenGrantNotification(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	holder, _ := m.CreateSession("holder")
	waiter, _ := m.CreateSession("waiter")

	hHold, err := m.Open(ctx, holder, "/lk", coord.OpenCreate|coord.OpenLock, 0)
	require.NoError(t, err)
	hWait, err := m.Open(ctx, waiter, "/lk", coord.OpenLock, 0)
	require.NoError(t, err)

	st, err := m.Lock(ctx, hHold, coord.LockModeExclusive)
	require.NoError(t, err)
	require.Equal(t, coord.LockGranted, st)

	st, err = m.Lock(ctx, hWait, coord.LockModeExclusive)
	require.NoError(t, err)
	require.Equal(t, coord.LockPending, st)

	mode, lst, err := m.LockStatus(hWait)
	require.NoError(t, err)
	assert.Equal(t, coord.LockModeExclusive, mode)
	assert.Equal(t, coord.LockPending, lst)

	require.NoError(t, m.Release(hHold))

	// The grant travels as a targeted notification to the waiter.
	pending, err := m.Keepalive(waiter, 0)
	require.NoError(t, err)
	var granted *coord.Notification
	for i := range pending {
		if pending[i].Kind == coord.NotifyLockGranted {
			granted = &pending[i]
		}
	}
	require.NotNil(t, granted, "waiter should receive a LockGranted notification")
	assert.Equal(t, hWait, granted.Handle)
	assert.Equal(t, "/lk", granted.Path)
	assert.Equal(t, coord.LockModeExclusive, granted.Mode)

	_, lst, err = m.LockStatus(hWait)
	require.NoError(t, err)
	assert.Equal(t, coord.LockGranted, lst)
}

func TestLockRequiresLockFlag(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	h, err := m.Open(ctx, sess, "/lk", coord.OpenCreate|coord.OpenRead, 0)
	require.NoError(t, err)

	_, err = m.Lock(ctx, h, coord.LockModeExclusive)
	require.Error(t, err)
	assert.Equal(t, coord.CodeBadRequest, coord.CodeOf(err))
}

func TestSessionDestroyReleasesLocksAndEphemerals(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	dying, _ := m.CreateSession("dying")
	watcher, _ := m.CreateSession("watcher")

	// The dying session holds an exclusive lock and an ephemeral node.
	hLock, err := m.Open(ctx, dying, "/svc", coord.OpenCreate|coord.OpenLock, 0)
	require.NoError(t, err)
	st, err := m.Lock(ctx, hLock, coord.LockModeExclusive)
	require.NoError(t, err)
	require.Equal(t, coord.LockGranted, st)

	_, err = m.Open(ctx, dying, "/svc/inst-1", coord.OpenCreate|coord.OpenTemp, 0)
	require.NoError(t, err)

	// The watcher waits on the lock and watches /svc for membership.
	hWait, err := m.Open(ctx, watcher, "/svc", coord.OpenLock, 0)
	require.NoError(t, err)
	st, err = m.Lock(ctx, hWait, coord.LockModeExclusive)
	require.NoError(t, err)
	require.Equal(t, coord.LockPending, st)

	_, err = m.Open(ctx, watcher, "/svc", coord.OpenRead, coord.EventChildRemoved)
	require.NoError(t, err)

	require.NoError(t, m.DestroySession(dying))

	// The ephemeral node is gone.
	ok, err := m.Exists(ctx, watcher, "/svc/inst-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// The waiter was granted, and the grant precedes the removal event.
	pending, err := m.Keepalive(watcher, 0)
	require.NoError(t, err)
	ks := kinds(pending)
	require.Contains(t, ks, coord.NotifyLockGranted)
	require.Contains(t, ks, coord.NotifyChildRemoved)

	var grantSeq, removeSeq uint64
	for _, n := range pending {
		switch n.Kind {
		case coord.NotifyLockGranted:
			grantSeq = n.Seq
		case coord.NotifyChildRemoved:
			removeSeq = n.Seq
			assert.Equal(t, "/svc", n.Path)
			assert.Equal(t, "inst-1", n.Name)
		}
	}
	assert.Less(t, grantSeq, removeSeq, "grant must be ordered before the ephemeral removal")

	// The dying session is fully gone.
	_, err = m.Keepalive(dying, 0)
	assert.ErrorIs(t, err, coord.ErrSessionInvalid)
}

func TestKeepaliveAckPrunesAndReplays(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	h, err := m.Open(ctx, sess, "/n", coord.OpenCreate|coord.OpenWrite, coord.EventAttrSet)
	require.NoError(t, err)

	require.NoError(t, m.AttrSet(ctx, h, "a", []byte("1")))
	require.NoError(t, m.AttrSet(ctx, h, "b", []byte("2")))
	require.NoError(t, m.AttrSet(ctx, h, "c", []byte("3")))

	pending, err := m.Keepalive(sess, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// Ack through the second entry: only the tail replays.
	pending, err = m.Keepalive(sess, pending[1].Seq)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].Name)
}

func TestDeleteLockedNodeDenied(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	h, err := m.Open(ctx, sess, "/lk", coord.OpenCreate|coord.OpenLock, 0)
	require.NoError(t, err)
	st, err := m.Lock(ctx, h, coord.LockModeShared)
	require.NoError(t, err)
	require.Equal(t, coord.LockGranted, st)

	err = m.Delete(ctx, sess, "/lk")
	assert.ErrorIs(t, err, coord.ErrNodeLocked)

	require.NoError(t, m.Release(h))
	assert.NoError(t, m.Delete(ctx, sess, "/lk"))
}

func TestLockAndAttrEventsShareNodeOrder(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	watcher, _ := m.CreateSession("watcher")
	_, err := m.Open(ctx, watcher, "/n", coord.OpenCreate|coord.OpenRead, coord.EventAll)
	require.NoError(t, err)

	locker, _ := m.CreateSession("locker")
	writer, _ := m.CreateSession("writer")
	hLock, err := m.Open(ctx, locker, "/n", coord.OpenLock, 0)
	require.NoError(t, err)
	hWrite, err := m.Open(ctx, writer, "/n", coord.OpenWrite, 0)
	require.NoError(t, err)

	// Lock transitions and attribute writes race on the same node. Both
	// sequence and enqueue under the node's stripe, so the watcher's
	// outbox must come out in sequence order.
	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if st, lerr := m.Lock(ctx, hLock, coord.LockModeExclusive); lerr == nil && st == coord.LockGranted {
				_ = m.Release(hLock)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_ = m.AttrSet(ctx, hWrite, "k", []byte{byte(i)})
		}
	}()
	wg.Wait()

	pending, err := m.Keepalive(watcher, 0)
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	for i := 1; i < len(pending); i++ {
		require.Less(t, pending[i-1].Seq, pending[i].Seq,
			"outbox out of sequence order: %s seq %d before %s seq %d",
			pending[i-1].Kind, pending[i-1].Seq, pending[i].Kind, pending[i].Seq)
	}
}

func TestLockRacingSessionDestroyLeavesNoOrphan(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		sess, _ := m.CreateSession("dying")
		h, err := m.Open(ctx, sess, "/race", coord.OpenCreate|coord.OpenLock, 0)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			defer close(done)
			// Races the destroy below; any outcome is fine as long as
			// no lock state survives the session.
			m.Lock(ctx, h, coord.LockModeExclusive)
		}()
		require.NoError(t, m.DestroySession(sess))
		<-done

		fresh, _ := m.CreateSession("fresh")
		hf, err := m.Open(ctx, fresh, "/race", coord.OpenLock, 0)
		require.NoError(t, err)
		st, err := m.Lock(ctx, hf, coord.LockModeExclusive)
		require.NoError(t, err)
		require.Equal(t, coord.LockGranted, st,
			"lock must not be stranded with the destroyed session")
		require.NoError(t, m.Release(hf))
		require.NoError(t, m.DestroySession(fresh))
	}
}

func TestLockOnDeletedNodeDenied(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	h, err := m.Open(ctx, sess, "/gone", coord.OpenCreate|coord.OpenLock, 0)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, sess, "/gone"))

	st, err := m.Lock(ctx, h, coord.LockModeExclusive)
	require.NoError(t, err)
	assert.Equal(t, coord.LockDenied, st)
}

func TestDeleteAndLockExcludeEachOther(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	for i := 0; i < 50; i++ {
		h, err := m.Open(ctx, sess, "/dv", coord.OpenCreate|coord.OpenLock, 0)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- m.Delete(ctx, sess, "/dv") }()
		st, lerr := m.Lock(ctx, h, coord.LockModeExclusive)
		require.NoError(t, lerr)
		derr := <-done

		if derr == nil {
			// The delete won: the lock must not have been granted on
			// the vanished node.
			require.Equal(t, coord.LockDenied, st)
		} else {
			// The lock won: the delete must have been refused.
			require.ErrorIs(t, derr, coord.ErrNodeLocked)
			require.Equal(t, coord.LockGranted, st)
			require.NoError(t, m.Release(h))
			require.NoError(t, m.Delete(ctx, sess, "/dv"))
		}
		require.NoError(t, m.Close(ctx, h))
	}
}

func TestDeleteRootDenied(t *testing.T) {
	m := newTestMaster(t)
	sess, _ := m.CreateSession("c")
	assert.ErrorIs(t, m.Delete(context.Background(), sess, "/"), coord.ErrBadRequest)
}

func TestDeleteNonEmptyDenied(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	require.NoError(t, m.Mkdir(ctx, sess, "/dir"))
	require.NoError(t, m.Mkdir(ctx, sess, "/dir/sub"))

	assert.ErrorIs(t, m.Delete(ctx, sess, "/dir"), coord.ErrNodeNotEmpty)
}

func TestAttrRoundTrip(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	h, err := m.Open(ctx, sess, "/cfg", coord.OpenCreate|coord.OpenRead|coord.OpenWrite, coord.EventAttrSet|coord.EventAttrDel)
	require.NoError(t, err)

	require.NoError(t, m.AttrSet(ctx, h, "color", []byte("blue")))

	v, err := m.AttrGet(ctx, h, "color")
	require.NoError(t, err)
	assert.Equal(t, []byte("blue"), v)

	_, err = m.AttrGet(ctx, h, "missing")
	assert.ErrorIs(t, err, coord.ErrAttrNotFound)

	require.NoError(t, m.AttrDel(ctx, h, "color"))
	_, err = m.AttrGet(ctx, h, "color")
	assert.ErrorIs(t, err, coord.ErrAttrNotFound)
	assert.ErrorIs(t, m.AttrDel(ctx, h, "color"), coord.ErrAttrNotFound)

	pending, err := m.Keepalive(sess, 0)
	require.NoError(t, err)
	assert.Equal(t,
		[]coord.NotificationKind{coord.NotifyAttrSet, coord.NotifyAttrDel},
		kinds(pending))
}

func TestAttrOpsRequireMode(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	hRead, err := m.Open(ctx, sess, "/cfg", coord.OpenCreate|coord.OpenRead, 0)
	require.NoError(t, err)
	hWrite, err := m.Open(ctx, sess, "/cfg", coord.OpenWrite, 0)
	require.NoError(t, err)

	err = m.AttrSet(ctx, hRead, "k", []byte("v"))
	require.Error(t, err)
	assert.Equal(t, coord.CodeBadRequest, coord.CodeOf(err))

	require.NoError(t, m.AttrSet(ctx, hWrite, "k", []byte("v")))
	_, err = m.AttrGet(ctx, hWrite, "k")
	require.Error(t, err)
	assert.Equal(t, coord.CodeBadRequest, coord.CodeOf(err))
}

func TestReadDirSorted(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	require.NoError(t, m.Mkdir(ctx, sess, "/dir"))
	require.NoError(t, m.Mkdir(ctx, sess, "/dir/b"))
	require.NoError(t, m.Mkdir(ctx, sess, "/dir/a"))
	require.NoError(t, m.Mkdir(ctx, sess, "/dir/c"))

	h, err := m.Open(ctx, sess, "/dir", coord.OpenRead, 0)
	require.NoError(t, err)

	names, err := m.ReadDir(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestExistsHandleFree(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	ok, err := m.Exists(ctx, sess, "/nope")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Mkdir(ctx, sess, "/yes"))
	ok, err = m.Exists(ctx, sess, "/yes")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.Exists(ctx, 999, "/yes")
	assert.ErrorIs(t, err, coord.ErrSessionInvalid)
}

func TestMkdirUnderMissingParent(t *testing.T) {
	m := newTestMaster(t)
	sess, _ := m.CreateSession("c")
	assert.ErrorIs(t, m.Mkdir(context.Background(), sess, "/a/b"), coord.ErrNodeNotFound)
}

func TestBadPathRejected(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	_, err := m.Open(ctx, sess, "relative", coord.OpenCreate, 0)
	assert.ErrorIs(t, err, coord.ErrBadRequest)
	assert.ErrorIs(t, m.Mkdir(ctx, sess, "/a//b"), coord.ErrBadRequest)
}

func TestInspect(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()
	sess, _ := m.CreateSession("c")

	require.NoError(t, m.Mkdir(ctx, sess, "/svc"))
	require.NoError(t, m.Mkdir(ctx, sess, "/svc/a"))

	info, err := m.Inspect(ctx, "/svc")
	require.NoError(t, err)
	assert.Equal(t, "/svc", info.Node.Path)
	assert.Equal(t, []string{"a"}, info.Children)
	assert.False(t, info.Locked)

	_, err = m.Inspect(ctx, "/nope")
	assert.ErrorIs(t, err, coord.ErrNodeNotFound)
}
