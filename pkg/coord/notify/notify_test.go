package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeriedb/aerie/pkg/coord"
)

func seqs(ns []coord.Notification) []uint64 {
	out := make([]uint64, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Seq)
	}
	return out
}

func TestPublishReachesInterestedHandle(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAttrSet)

	d.Publish(Event{Seq: 5, Kind: coord.NotifyAttrSet, Path: "/a", Name: "color"})

	pending := d.PendingSince(1, 0)
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(5), pending[0].Seq)
	assert.Equal(t, coord.HandleID(10), pending[0].Handle)
	assert.Equal(t, "color", pending[0].Name)
}

func TestMaskFiltersKinds(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventChildAdded)

	d.Publish(Event{Seq: 1, Kind: coord.NotifyAttrSet, Path: "/a", Name: "x"})
	d.Publish(Event{Seq: 2, Kind: coord.NotifyChildAdded, Path: "/a", Name: "c"})

	pending := d.PendingSince(1, 0)
	require.Len(t, pending, 1)
	assert.Equal(t, coord.NotifyChildAdded, pending[0].Kind)
}

func TestPublishWrongPathIgnored(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)

	d.Publish(Event{Seq: 1, Kind: coord.NotifyAttrSet, Path: "/b", Name: "x"})
	assert.Empty(t, d.PendingSince(1, 0))
}

func TestOrderPreserved(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)

	for seq := uint64(1); seq <= 5; seq++ {
		d.Publish(Event{Seq: seq, Kind: coord.NotifyAttrSet, Path: "/a", Name: "x"})
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs(d.PendingSince(1, 0)))
}

func TestAckPrunes(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)

	for seq := uint64(1); seq <= 4; seq++ {
		d.Publish(Event{Seq: seq, Kind: coord.NotifyAttrSet, Path: "/a"})
	}

	assert.Equal(t, 2, d.Ack(1, 2))
	assert.Equal(t, []uint64{3, 4}, seqs(d.PendingSince(1, 0)))
	assert.Equal(t, 2, d.QueuedCount(1))
}

func TestReplayAfterReconnectDeliversExactlyTheGap(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)

	// Client saw up to 11, then the connection dropped while 12 and 13
	// were published.
	for seq := uint64(10); seq <= 13; seq++ {
		d.Publish(Event{Seq: seq, Kind: coord.NotifyAttrSet, Path: "/a"})
	}
	d.Ack(1, 11)

	assert.Equal(t, []uint64{12, 13}, seqs(d.PendingSince(1, 11)))

	// Replay is non-destructive: asking again yields the same gap.
	assert.Equal(t, []uint64{12, 13}, seqs(d.PendingSince(1, 11)))
}

func TestFailedPushLeavesEntryQueued(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)
	d.AttachSink(1, func([]coord.Notification) error {
		return errors.New("connection reset")
	})

	d.Publish(Event{Seq: 1, Kind: coord.NotifyAttrSet, Path: "/a"})
	assert.Equal(t, []uint64{1}, seqs(d.PendingSince(1, 0)))
}

func TestSinkReceivesPush(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)

	var mu sync.Mutex
	var pushed []coord.Notification
	d.AttachSink(1, func(batch []coord.Notification) error {
		mu.Lock()
		pushed = append(pushed, batch...)
		mu.Unlock()
		return nil
	})

	d.Publish(Event{Seq: 7, Kind: coord.NotifyAttrSet, Path: "/a"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pushed, 1)
	assert.Equal(t, uint64(7), pushed[0].Seq)

	// Pushed but not acked: still queued for replay.
	assert.Equal(t, 1, d.QueuedCount(1))
}

func TestPublishToBypassesMask(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)

	// No registration at all: the targeted grant still lands.
	d.PublishTo(1, coord.Notification{Seq: 3, Kind: coord.NotifyLockGranted, Handle: 10, Path: "/a"})

	pending := d.PendingSince(1, 0)
	require.Len(t, pending, 1)
	assert.Equal(t, coord.NotifyLockGranted, pending[0].Kind)
}

func TestDropSessionDiscardsOutbox(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)

	d.Publish(Event{Seq: 1, Kind: coord.NotifyAttrSet, Path: "/a"})
	d.Publish(Event{Seq: 2, Kind: coord.NotifyAttrSet, Path: "/a"})

	assert.Equal(t, 2, d.DropSession(1))
	assert.Empty(t, d.PendingSince(1, 0))

	// Publishing after the drop is a no-op, not a panic.
	d.Publish(Event{Seq: 3, Kind: coord.NotifyAttrSet, Path: "/a"})
}

func TestDeregisterStopsDelivery(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.Register("/a", 1, 10, coord.EventAll)
	d.Deregister("/a", 10)

	d.Publish(Event{Seq: 1, Kind: coord.NotifyAttrSet, Path: "/a"})
	assert.Empty(t, d.PendingSince(1, 0))
}

func TestMultipleHandlesFanOut(t *testing.T) {
	d := NewDispatcher(nil)
	d.OpenOutbox(1)
	d.OpenOutbox(2)
	d.Register("/a", 1, 10, coord.EventAll)
	d.Register("/a", 2, 20, coord.EventAll)

	d.Publish(Event{Seq: 1, Kind: coord.NotifyAttrSet, Path: "/a"})

	assert.Len(t, d.PendingSince(1, 0), 1)
	assert.Len(t, d.PendingSince(2, 0), 1)
}
