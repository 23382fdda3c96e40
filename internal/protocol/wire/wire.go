// Package wire implements the framed binary protocol shared by the
// coordination service and the DFS broker.
//
// Framing: every message is [length:uint32][payload:length bytes], big
// endian. The payload starts with a uint16 opcode followed by
// fixed-order fields. Integers are big endian; strings and byte blobs
// are length-prefixed with a uint32. There is no padding or alignment.
//
// Decode failures are answered at the transport layer with a
// PROTOCOL_ERROR response and never reach a handler's business logic.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize caps a single message. Requests are small control
// messages; broker payloads are bounded by the read/write chunk size.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned for frames exceeding MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// ErrTruncated is returned when a decode runs past the end of the
// payload.
var ErrTruncated = errors.New("wire: truncated message")

// Coordination opcodes. Values are stable wire constants.
type Opcode uint16

const (
	OpCreateSession Opcode = iota + 1
	OpKeepalive
	OpDestroySession
	OpOpen
	OpClose
	OpMkdir
	OpDelete
	OpAttrSet
	OpAttrGet
	OpAttrDel
	OpExists
	OpReadDir
	OpLock
	OpRelease
	OpLockStatus

	// OpNotify is server-initiated: an out-of-band notification batch
	// pushed to a connected client.
	OpNotify Opcode = 100
)

func (o Opcode) String() string {
	switch o {
	case OpCreateSession:
		return "CREATE_SESSION"
	case OpKeepalive:
		return "KEEPALIVE"
	case OpDestroySession:
		return "DESTROY_SESSION"
	case OpOpen:
		return "OPEN"
	case OpClose:
		return "CLOSE"
	case OpMkdir:
		return "MKDIR"
	case OpDelete:
		return "DELETE"
	case OpAttrSet:
		return "ATTR_SET"
	case OpAttrGet:
		return "ATTR_GET"
	case OpAttrDel:
		return "ATTR_DEL"
	case OpExists:
		return "EXISTS"
	case OpReadDir:
		return "READDIR"
	case OpLock:
		return "LOCK"
	case OpRelease:
		return "RELEASE"
	case OpLockStatus:
		return "LOCK_STATUS"
	case OpNotify:
		return "NOTIFY"
	default:
		return fmt.Sprintf("OP_%d", uint16(o))
	}
}

// StatusOK is the zero status of a successful response. Non-zero
// statuses carry the error code taxonomy.
const StatusOK uint16 = 0

// ReadFrame reads one length-prefixed frame from r and returns its
// payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload as one length-prefixed frame. The frame is
// assembled into a single buffer first so concurrent writers on the
// same connection interleave at frame granularity, never inside one.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
