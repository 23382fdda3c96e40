// Package memstore implements the namespace store in memory. It backs
// tests and volatile single-node deployments; the durable badgerstore
// package is the production backend.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aeriedb/aerie/pkg/namespace"
)

// Store is an in-memory namespace.Store. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*namespace.Node
	seq   uint64
}

// New creates a Store containing only the root node "/".
func New() *Store {
	return &Store{
		nodes: map[string]*namespace.Node{
			"/": {Path: "/", CreatedAt: time.Now()},
		},
	}
}

func (s *Store) Create(ctx context.Context, path string, ephemeral bool, owner uint64) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[path]; ok {
		return 0, namespace.ErrExists
	}
	if _, ok := s.nodes[namespace.Parent(path)]; !ok {
		return 0, namespace.ErrNotFound
	}

	n := &namespace.Node{
		Path:      path,
		Ephemeral: ephemeral,
		CreatedAt: time.Now(),
	}
	if ephemeral {
		n.OwnerSession = owner
	}
	s.nodes[path] = n
	s.seq++
	return s.seq, nil
}

func (s *Store) Delete(ctx context.Context, path string) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[path]; !ok {
		return 0, namespace.ErrNotFound
	}
	prefix := path + "/"
	for p := range s.nodes {
		if strings.HasPrefix(p, prefix) {
			return 0, namespace.ErrNotEmpty
		}
	}
	delete(s.nodes, path)
	s.seq++
	return s.seq, nil
}

func (s *Store) Get(ctx context.Context, path string) (*namespace.Node, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return nil, namespace.ErrNotFound
	}
	return copyNode(n), nil
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[path]
	return ok, nil
}

func (s *Store) SetAttr(ctx context.Context, path, name string, value []byte) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return 0, namespace.ErrNotFound
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string][]byte)
	}
	n.Attrs[name] = append([]byte(nil), value...)
	s.seq++
	return s.seq, nil
}

func (s *Store) GetAttr(ctx context.Context, path, name string) ([]byte, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return nil, namespace.ErrNotFound
	}
	v, ok := n.Attrs[name]
	if !ok {
		return nil, namespace.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) DelAttr(ctx context.Context, path, name string) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return 0, namespace.ErrNotFound
	}
	if _, ok := n.Attrs[name]; !ok {
		return 0, namespace.ErrNotFound
	}
	delete(n.Attrs, name)
	s.seq++
	return s.seq, nil
}

func (s *Store) ListChildren(ctx context.Context, path string) ([]string, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[path]; !ok {
		return nil, namespace.ErrNotFound
	}
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}

	var children []string
	for p := range s.nodes {
		if !strings.HasPrefix(p, prefix) || p == path {
			continue
		}
		rest := p[len(prefix):]
		if !strings.ContainsRune(rest, '/') {
			children = append(children, rest)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (s *Store) ListEphemeral(ctx context.Context, owner uint64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	for p, n := range s.nodes {
		if n.Ephemeral && n.OwnerSession == owner {
			paths = append(paths, p)
		}
	}
	// Deepest first so children are removed before parents.
	sort.Slice(paths, func(i, j int) bool {
		return strings.Count(paths[i], "/") > strings.Count(paths[j], "/") ||
			(strings.Count(paths[i], "/") == strings.Count(paths[j], "/") && paths[i] < paths[j])
	})
	return paths, nil
}

func (s *Store) NextSeq(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

func (s *Store) Close() error { return nil }

func copyNode(n *namespace.Node) *namespace.Node {
	out := &namespace.Node{
		Path:         n.Path,
		Ephemeral:    n.Ephemeral,
		OwnerSession: n.OwnerSession,
		CreatedAt:    n.CreatedAt,
	}
	if len(n.Attrs) > 0 {
		out.Attrs = make(map[string][]byte, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = append([]byte(nil), v...)
		}
	}
	return out
}
