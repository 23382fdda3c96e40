package coord

// NotificationKind tags the variant of a Notification.
type NotificationKind uint8

const (
	// NotifyAttrSet fires when an attribute is created or overwritten.
	NotifyAttrSet NotificationKind = iota + 1

	// NotifyAttrDel fires when an attribute is deleted.
	NotifyAttrDel

	// NotifyChildAdded fires on the parent when a child node appears.
	NotifyChildAdded

	// NotifyChildRemoved fires on the parent when a child node is deleted.
	NotifyChildRemoved

	// NotifyLockAcquired fires on a node when any handle acquires its lock.
	NotifyLockAcquired

	// NotifyLockReleased fires on a node when its lock becomes fully free.
	NotifyLockReleased

	// NotifyLockGranted is delivered to the specific handle whose pending
	// lock request was granted. It bypasses the interest mask.
	NotifyLockGranted

	// NotifyLockContended fires on a node when a conflicting request is
	// queued behind the current holders.
	NotifyLockContended
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyAttrSet:
		return "ATTR_SET"
	case NotifyAttrDel:
		return "ATTR_DEL"
	case NotifyChildAdded:
		return "CHILD_ADDED"
	case NotifyChildRemoved:
		return "CHILD_REMOVED"
	case NotifyLockAcquired:
		return "LOCK_ACQUIRED"
	case NotifyLockReleased:
		return "LOCK_RELEASED"
	case NotifyLockGranted:
		return "LOCK_GRANTED"
	case NotifyLockContended:
		return "LOCK_CONTENDED"
	default:
		return "UNKNOWN"
	}
}

// Notification is the single tagged-variant event type delivered to
// handles. Consumers switch on Kind; the meaning of Name and Mode
// depends on the variant:
//
//   - AttrSet/AttrDel: Name is the attribute name.
//   - ChildAdded/ChildRemoved: Name is the child's name, Path the parent.
//   - LockAcquired/LockContended: Mode is the acquiring/requested mode.
//   - LockGranted: Mode is the granted mode.
//   - LockReleased: Name and Mode are unset.
type Notification struct {
	// Seq is the global mutation sequence number of the triggering
	// change. Per-session delivery is monotonic in Seq; the client acks
	// the highest Seq it has seen and reconnect replay starts after it.
	Seq uint64 `json:"seq"`

	// Kind tags the variant.
	Kind NotificationKind `json:"kind"`

	// Handle is the interested handle this notification targets.
	Handle HandleID `json:"handle"`

	// Path is the node the event occurred on.
	Path string `json:"path"`

	// Name carries the attribute or child name, depending on Kind.
	Name string `json:"name,omitempty"`

	// Mode carries the lock mode for lock-related kinds.
	Mode LockMode `json:"mode,omitempty"`
}
