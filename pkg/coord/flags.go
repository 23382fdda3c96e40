package coord

// OpenFlags control how a handle is opened and what it may do.
type OpenFlags uint32

const (
	// OpenRead allows reading node attributes and children.
	OpenRead OpenFlags = 1 << iota

	// OpenWrite allows mutating node attributes.
	OpenWrite

	// OpenLock allows lock requests through the handle.
	OpenLock

	// OpenCreate creates the node if it does not exist.
	OpenCreate

	// OpenExcl makes OpenCreate fail if the node already exists.
	OpenExcl

	// OpenTemp marks a node created by this open as ephemeral: it is
	// deleted when the owning session expires or is destroyed.
	OpenTemp
)

// Has reports whether all bits in want are set.
func (f OpenFlags) Has(want OpenFlags) bool {
	return f&want == want
}

// EventMask selects which notification kinds a handle is interested in.
// A handle only ever receives notifications whose kind bit is set in its
// mask, with one exception: LockGranted is always delivered to the
// handle whose pending request was granted.
type EventMask uint32

const (
	EventAttrSet EventMask = 1 << iota
	EventAttrDel
	EventChildAdded
	EventChildRemoved
	EventLockAcquired
	EventLockReleased
	EventLockContended
)

// EventAll is the full interest mask.
const EventAll = EventAttrSet | EventAttrDel | EventChildAdded |
	EventChildRemoved | EventLockAcquired | EventLockReleased | EventLockContended

// Wants reports whether the mask includes the given kind's bit.
// LockGranted notifications bypass the mask.
func (m EventMask) Wants(k NotificationKind) bool {
	switch k {
	case NotifyAttrSet:
		return m&EventAttrSet != 0
	case NotifyAttrDel:
		return m&EventAttrDel != 0
	case NotifyChildAdded:
		return m&EventChildAdded != 0
	case NotifyChildRemoved:
		return m&EventChildRemoved != 0
	case NotifyLockAcquired:
		return m&EventLockAcquired != 0
	case NotifyLockReleased:
		return m&EventLockReleased != 0
	case NotifyLockContended:
		return m&EventLockContended != 0
	case NotifyLockGranted:
		return true
	default:
		return false
	}
}

// LockMode is the mode of a lock request or a held lock.
type LockMode uint8

const (
	// LockModeNone means the handle holds no lock.
	LockModeNone LockMode = iota

	// LockModeShared admits any number of shared holders.
	LockModeShared

	// LockModeExclusive admits exactly one holder.
	LockModeExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockModeShared:
		return "SHARED"
	case LockModeExclusive:
		return "EXCLUSIVE"
	default:
		return "NONE"
	}
}

// LockStatus is the immediate outcome of a lock request.
type LockStatus uint8

const (
	// LockGranted means the lock was acquired immediately.
	LockGranted LockStatus = iota + 1

	// LockPending means the request conflicts with the current holders
	// and was queued; the grant arrives later as a LockGranted
	// notification.
	LockPending

	// LockDenied means the request was malformed (unknown node, handle
	// already holds or waits on a lock).
	LockDenied
)

func (s LockStatus) String() string {
	switch s {
	case LockGranted:
		return "GRANTED"
	case LockPending:
		return "PENDING"
	case LockDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}
