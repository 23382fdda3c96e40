package coord

import (
	"errors"
	"fmt"
)

// ErrCode classifies coordination errors for the wire protocol and the
// admin API. Codes are stable; clients switch on them.
type ErrCode uint16

const (
	// CodeProtocolError marks a malformed wire message. It never reaches
	// business logic: the decode layer answers it directly.
	CodeProtocolError ErrCode = iota + 1

	// CodeSessionInvalid marks an unknown, expired, or destroyed
	// session. Recoverable: the client re-establishes via CreateSession.
	CodeSessionInvalid

	// CodeHandleInvalid marks an unknown or closed handle.
	CodeHandleInvalid

	// CodeNodeNotFound marks a namespace path that does not exist.
	CodeNodeNotFound

	// CodeNodeExists marks a create against an existing path.
	CodeNodeExists

	// CodeNodeNotEmpty marks a delete against a node with children.
	CodeNodeNotEmpty

	// CodeNodeLocked marks a delete against a node with active lock
	// state. Deletion of locked nodes is denied, not deferred.
	CodeNodeLocked

	// CodeAttrNotFound marks a read or delete of a missing attribute.
	CodeAttrNotFound

	// CodeBadRequest marks a structurally valid but semantically
	// malformed request (bad mode flags, lock on a non-LOCK handle).
	CodeBadRequest

	// CodeStoreError marks a persistent store failure that survived the
	// bounded local retry.
	CodeStoreError
)

func (c ErrCode) String() string {
	switch c {
	case CodeProtocolError:
		return "PROTOCOL_ERROR"
	case CodeSessionInvalid:
		return "SESSION_INVALID"
	case CodeHandleInvalid:
		return "HANDLE_INVALID"
	case CodeNodeNotFound:
		return "NODE_NOT_FOUND"
	case CodeNodeExists:
		return "NODE_EXISTS"
	case CodeNodeNotEmpty:
		return "NODE_NOT_EMPTY"
	case CodeNodeLocked:
		return "NODE_LOCKED"
	case CodeAttrNotFound:
		return "ATTR_NOT_FOUND"
	case CodeBadRequest:
		return "BAD_REQUEST"
	case CodeStoreError:
		return "STORE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed error carried across the coordination core.
type Error struct {
	Code    ErrCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so callers can use
// errors.Is(err, coord.ErrSessionInvalid) regardless of message.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Code == te.Code
}

// Errf builds an *Error with a formatted message.
func Errf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrSessionInvalid = &Error{Code: CodeSessionInvalid, Message: "session invalid"}
	ErrHandleInvalid  = &Error{Code: CodeHandleInvalid, Message: "handle invalid"}
	ErrNodeNotFound   = &Error{Code: CodeNodeNotFound, Message: "node not found"}
	ErrNodeExists     = &Error{Code: CodeNodeExists, Message: "node exists"}
	ErrNodeNotEmpty   = &Error{Code: CodeNodeNotEmpty, Message: "node not empty"}
	ErrNodeLocked     = &Error{Code: CodeNodeLocked, Message: "node locked"}
	ErrAttrNotFound   = &Error{Code: CodeAttrNotFound, Message: "attribute not found"}
	ErrBadRequest     = &Error{Code: CodeBadRequest, Message: "bad request"}
	ErrStore          = &Error{Code: CodeStoreError, Message: "store error"}
)

// CodeOf extracts the ErrCode from an error chain, or CodeStoreError if
// the error is not a coordination error.
func CodeOf(err error) ErrCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeStoreError
}
