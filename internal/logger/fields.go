package logger

// Standard field keys for structured logging. Use these consistently
// across all log statements so logs stay queryable in aggregation.
const (
	// Coordination core
	KeySessionID = "session_id" // client session identifier
	KeyHandleID  = "handle_id"  // open handle identifier
	KeyPath      = "path"       // namespace node path
	KeyAttr      = "attr"       // attribute name
	KeyLockMode  = "lock_mode"  // SHARED or EXCLUSIVE
	KeySeq       = "seq"        // global mutation sequence number
	KeyEventKind = "event_kind" // notification kind

	// Protocol & transport
	KeyOp         = "op"          // wire operation name
	KeyRemoteAddr = "remote_addr" // client address
	KeyStatus     = "status"      // response status code

	// DFS broker
	KeyFd       = "fd"       // broker file descriptor
	KeyFileName = "filename" // broker file name

	// Generic
	KeyError    = "error"       // error detail
	KeyDuration = "duration_ms" // elapsed time in milliseconds
	KeyCount    = "count"       // generic count
)
