// Package broker implements the DFS broker: a thin request layer that
// decodes fixed-format file operations, invokes exactly one filesystem
// primitive per request, and replies with a status and payload. A
// request that fails to decode is answered with PROTOCOL_ERROR and
// never reaches the filesystem.
package broker

import (
	"errors"
)

// Backend errors. The server maps these onto wire statuses.
var (
	// ErrBadFd is returned for operations on an unknown descriptor.
	ErrBadFd = errors.New("broker: bad file descriptor")

	// ErrFileNotFound is returned for path operations on missing files.
	ErrFileNotFound = errors.New("broker: file not found")

	// ErrFileExists is returned by Create without overwrite when the
	// path already exists.
	ErrFileExists = errors.New("broker: file exists")
)

// Backend is the filesystem behind the broker. Descriptors are
// broker-assigned uint32 values scoped to the backend instance.
type Backend interface {
	// Open opens an existing file for reading and returns a descriptor.
	Open(path string) (uint32, error)

	// Create creates a file for writing. With overwrite false an
	// existing file is an error.
	Create(path string, overwrite bool) (uint32, error)

	// Close releases a descriptor. Unknown descriptors return ErrBadFd.
	Close(fd uint32) error

	// Read reads up to amount bytes at the descriptor's current
	// position, returning the offset the read started at.
	Read(fd uint32, amount uint32) (offset uint64, data []byte, err error)

	// Write writes data at the descriptor's current position, returning
	// the offset the write started at.
	Write(fd uint32, data []byte) (offset uint64, err error)

	// Append writes data at end of file, returning the offset the data
	// landed at.
	Append(fd uint32, data []byte) (offset uint64, err error)

	// Seek repositions the descriptor to an absolute offset.
	Seek(fd uint32, offset uint64) error

	// Remove deletes a file by path.
	Remove(path string) error

	// Length returns a file's size by path.
	Length(path string) (uint64, error)

	// Shutdown closes every open descriptor.
	Shutdown() error
}
