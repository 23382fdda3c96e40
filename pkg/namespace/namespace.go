// Package namespace defines the hierarchical node tree consumed by the
// coordination core: the Node model, the Store contract every backend
// implements, and path helpers.
//
// The store owns the single global mutation sequence number. Every
// mutating operation returns the sequence it was assigned; the
// notification dispatcher tags outgoing events with it so clients can
// ack and replay across reconnects.
package namespace

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Store errors. Backends translate their native failures into these so
// the master can map them onto the wire error taxonomy.
var (
	// ErrNotFound is returned when a path or attribute does not exist.
	ErrNotFound = errors.New("namespace: not found")

	// ErrExists is returned by Create when the path already exists.
	ErrExists = errors.New("namespace: node exists")

	// ErrNotEmpty is returned by Delete when the node has children.
	ErrNotEmpty = errors.New("namespace: node not empty")

	// ErrBadPath is returned for syntactically invalid paths.
	ErrBadPath = errors.New("namespace: bad path")
)

// Node is one entry in the namespace tree.
type Node struct {
	// Path is the absolute, slash-separated path of the node.
	Path string `json:"path"`

	// Attrs maps attribute names to opaque values.
	Attrs map[string][]byte `json:"attrs,omitempty"`

	// Ephemeral marks a node whose lifetime is tied to OwnerSession.
	Ephemeral bool `json:"ephemeral,omitempty"`

	// OwnerSession is the session that created an ephemeral node.
	// Zero for persistent nodes.
	OwnerSession uint64 `json:"owner_session,omitempty"`

	// CreatedAt is when the node was created.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable namespace tree. Every mutating method is atomic
// and crash-durable, and returns the global mutation sequence number
// assigned to the change.
//
// Implementations: badgerstore (durable) and memstore (tests, volatile
// deployments).
type Store interface {
	// Create inserts a node at path. The parent must exist. Returns
	// ErrExists if the path is taken, ErrNotFound if the parent is
	// missing. owner is recorded only when ephemeral is true.
	Create(ctx context.Context, path string, ephemeral bool, owner uint64) (uint64, error)

	// Delete removes the node at path. Returns ErrNotFound if missing,
	// ErrNotEmpty if it still has children.
	Delete(ctx context.Context, path string) (uint64, error)

	// Get returns the node at path, or ErrNotFound.
	Get(ctx context.Context, path string) (*Node, error)

	// Exists reports whether the path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// SetAttr creates or overwrites an attribute.
	SetAttr(ctx context.Context, path, name string, value []byte) (uint64, error)

	// GetAttr returns an attribute value, or ErrNotFound.
	GetAttr(ctx context.Context, path, name string) ([]byte, error)

	// DelAttr removes an attribute, or returns ErrNotFound.
	DelAttr(ctx context.Context, path, name string) (uint64, error)

	// ListChildren returns the sorted child names of path.
	ListChildren(ctx context.Context, path string) ([]string, error)

	// ListEphemeral returns the paths of all ephemeral nodes owned by
	// the given session, deepest first so they can be deleted in order.
	ListEphemeral(ctx context.Context, owner uint64) ([]string, error)

	// NextSeq advances and returns the global mutation sequence without
	// an accompanying tree change. Lock state transitions use it so
	// that lock notifications share the same ordered sequence space as
	// tree mutations.
	NextSeq(ctx context.Context) (uint64, error)

	// LastSeq returns the most recently assigned sequence number.
	LastSeq(ctx context.Context) (uint64, error)

	// Close releases backend resources.
	Close() error
}

// CleanPath validates and normalizes a namespace path: absolute,
// slash-separated, no empty or dot components, no trailing slash
// (except the root "/").
func CleanPath(p string) (string, error) {
	if p == "" || p[0] != '/' {
		return "", ErrBadPath
	}
	if p == "/" {
		return p, nil
	}
	p = strings.TrimRight(p, "/")
	for _, part := range strings.Split(p[1:], "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrBadPath
		}
	}
	return p, nil
}

// Parent returns the parent path of p ("/" for top-level nodes).
func Parent(p string) string {
	if p == "/" {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}

// Base returns the last path component.
func Base(p string) string {
	if p == "/" {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	return p[i+1:]
}
