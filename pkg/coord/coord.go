// Package coord defines the shared vocabulary of the Aerie coordination
// core: identifiers, open flags, event masks, lock modes, the tagged
// Notification variant, and the error taxonomy.
//
// The concrete engines live in the subpackages (session, handle, lock,
// notify) and are wired together by the master package. Keeping the
// common types here avoids import cycles between them.
package coord

import (
	"sync/atomic"
	"time"
)

// SessionID identifies a client session. IDs are unique across master
// restarts: the high 32 bits carry the boot epoch, the low 32 bits a
// monotonic counter.
type SessionID uint64

// HandleID identifies an open handle. Same epoch+counter scheme as
// SessionID; handle IDs are globally unique, not per-session.
type HandleID uint64

// IDAllocator hands out epoch-qualified 64-bit identifiers.
type IDAllocator struct {
	epoch uint32
	seq   uint32
}

// NewIDAllocator creates an allocator whose epoch is derived from the
// current time, so identifiers never collide across restarts.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{epoch: uint32(time.Now().Unix())}
}

// Next returns the next identifier.
func (a *IDAllocator) Next() uint64 {
	seq := atomic.AddUint32(&a.seq, 1)
	return (uint64(a.epoch) << 32) | uint64(seq)
}

// Epoch returns the allocator's boot epoch.
func (a *IDAllocator) Epoch() uint32 {
	return a.epoch
}
