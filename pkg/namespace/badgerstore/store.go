// Package badgerstore implements the durable namespace store on
// BadgerDB.
//
// Key namespace design (BadgerDB is flat, so prefixed keys organize the
// tree):
//
//	Data Type       Prefix  Key Format              Value
//	===============================================================
//	Node            "n:"    n:<path>                Node (JSON)
//	Child index     "c:"    c:<parent>/<name>       (empty)
//	Ephemeral index "e:"    e:<owner>:<path>        (empty)
//	Mutation seq    "m:"    m:seq                   uint64 (big endian)
//
// The child index makes ListChildren a prefix scan instead of a tree
// walk; the ephemeral index makes session teardown a prefix scan per
// owner. Both are written in the same transaction as the node, so they
// never drift.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/namespace"
)

// conflictRetries bounds the local retry loop on transaction conflicts
// before the error surfaces to the caller.
const conflictRetries = 3

const (
	prefixNode      = "n:"
	prefixChild     = "c:"
	prefixEphemeral = "e:"
	keySeq          = "m:seq"
)

func keyNode(path string) []byte {
	return []byte(prefixNode + path)
}

func keyChild(parent, name string) []byte {
	if parent == "/" {
		return []byte(prefixChild + "/" + name)
	}
	return []byte(prefixChild + parent + "/" + name)
}

func keyChildPrefix(parent string) []byte {
	if parent == "/" {
		return []byte(prefixChild + "/")
	}
	return []byte(prefixChild + parent + "/")
}

func keyEphemeral(owner uint64, path string) []byte {
	return []byte(prefixEphemeral + strconv.FormatUint(owner, 16) + ":" + path)
}

func keyEphemeralPrefix(owner uint64) []byte {
	return []byte(prefixEphemeral + strconv.FormatUint(owner, 16) + ":")
}

// Store is a namespace.Store backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// Options configure the store.
type Options struct {
	// Dir is the BadgerDB data directory.
	Dir string

	// InMemory runs Badger without disk persistence (tests).
	InMemory bool
}

// Open opens (creating if necessary) the store and ensures the root
// node exists.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	bopts.InMemory = opts.InMemory
	if opts.InMemory {
		bopts.Dir = ""
		bopts.ValueDir = ""
	}
	// Badger's own logger is chatty at INFO; route it through ours at
	// debug level only.
	bopts.Logger = badgerLogger{}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open namespace store: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureRoot(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureRoot() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyNode("/"))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		root := &namespace.Node{Path: "/", CreatedAt: time.Now()}
		data, err := encodeNode(root)
		if err != nil {
			return err
		}
		return txn.Set(keyNode("/"), data)
	})
}

// update runs fn inside a read-write transaction, retrying a bounded
// number of times on conflict.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		logger.Debug("namespace store transaction conflict, retrying",
			"attempt", attempt+1)
	}
	return fmt.Errorf("namespace store conflict after %d retries: %w", conflictRetries, err)
}

// bumpSeq increments the global mutation sequence inside txn and
// returns the new value.
func bumpSeq(txn *badger.Txn) (uint64, error) {
	var seq uint64
	item, err := txn.Get([]byte(keySeq))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 0
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt sequence value length %d", len(val))
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return 0, err
		}
	}

	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := txn.Set([]byte(keySeq), buf[:]); err != nil {
		return 0, err
	}
	return seq, nil
}

func getNode(txn *badger.Txn, path string) (*namespace.Node, error) {
	item, err := txn.Get(keyNode(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, namespace.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var node *namespace.Node
	err = item.Value(func(val []byte) error {
		n, decErr := decodeNode(val)
		if decErr != nil {
			return decErr
		}
		node = n
		return nil
	})
	return node, err
}

func putNode(txn *badger.Txn, n *namespace.Node) error {
	data, err := encodeNode(n)
	if err != nil {
		return err
	}
	return txn.Set(keyNode(n.Path), data)
}

func (s *Store) Create(ctx context.Context, path string, ephemeral bool, owner uint64) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}

	var seq uint64
	err = s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(keyNode(path)); err == nil {
			return namespace.ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		parent := namespace.Parent(path)
		if _, err := getNode(txn, parent); err != nil {
			return err
		}

		n := &namespace.Node{
			Path:      path,
			Ephemeral: ephemeral,
			CreatedAt: time.Now(),
		}
		if ephemeral {
			n.OwnerSession = owner
		}
		if err := putNode(txn, n); err != nil {
			return err
		}
		if err := txn.Set(keyChild(parent, namespace.Base(path)), nil); err != nil {
			return err
		}
		if ephemeral {
			if err := txn.Set(keyEphemeral(owner, path), nil); err != nil {
				return err
			}
		}

		seq, err = bumpSeq(txn)
		return err
	})
	return seq, err
}

func (s *Store) Delete(ctx context.Context, path string) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}
	if path == "/" {
		return 0, namespace.ErrBadPath
	}

	var seq uint64
	err = s.update(ctx, func(txn *badger.Txn) error {
		n, err := getNode(txn, path)
		if err != nil {
			return err
		}

		// Any child index entry under this path means it is not empty.
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyChildPrefix(path)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		hasChild := false
		it.Rewind()
		if it.Valid() {
			hasChild = true
		}
		it.Close()
		if hasChild {
			return namespace.ErrNotEmpty
		}

		if err := txn.Delete(keyNode(path)); err != nil {
			return err
		}
		if err := txn.Delete(keyChild(namespace.Parent(path), namespace.Base(path))); err != nil {
			return err
		}
		if n.Ephemeral {
			if err := txn.Delete(keyEphemeral(n.OwnerSession, path)); err != nil {
				return err
			}
		}

		seq, err = bumpSeq(txn)
		return err
	})
	return seq, err
}

func (s *Store) Get(ctx context.Context, path string) (*namespace.Node, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var node *namespace.Node
	err = s.db.View(func(txn *badger.Txn) error {
		n, err := getNode(txn, path)
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	return node, err
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Get(ctx, path)
	if errors.Is(err, namespace.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SetAttr(ctx context.Context, path, name string, value []byte) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}

	var seq uint64
	err = s.update(ctx, func(txn *badger.Txn) error {
		n, err := getNode(txn, path)
		if err != nil {
			return err
		}
		if n.Attrs == nil {
			n.Attrs = make(map[string][]byte)
		}
		n.Attrs[name] = append([]byte(nil), value...)
		if err := putNode(txn, n); err != nil {
			return err
		}
		seq, err = bumpSeq(txn)
		return err
	})
	return seq, err
}

func (s *Store) GetAttr(ctx context.Context, path, name string) ([]byte, error) {
	n, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	v, ok := n.Attrs[name]
	if !ok {
		return nil, namespace.ErrNotFound
	}
	return v, nil
}

func (s *Store) DelAttr(ctx context.Context, path, name string) (uint64, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return 0, err
	}

	var seq uint64
	err = s.update(ctx, func(txn *badger.Txn) error {
		n, err := getNode(txn, path)
		if err != nil {
			return err
		}
		if _, ok := n.Attrs[name]; !ok {
			return namespace.ErrNotFound
		}
		delete(n.Attrs, name)
		if err := putNode(txn, n); err != nil {
			return err
		}
		seq, err = bumpSeq(txn)
		return err
	})
	return seq, err
}

func (s *Store) ListChildren(ctx context.Context, path string) ([]string, error) {
	path, err := namespace.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var children []string
	err = s.db.View(func(txn *badger.Txn) error {
		if _, err := getNode(txn, path); err != nil {
			return err
		}

		prefix := keyChildPrefix(path)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			name := string(it.Item().Key()[len(prefix):])
			// Grandchildren share the prefix; skip anything nested.
			if strings.ContainsRune(name, '/') {
				continue
			}
			children = append(children, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(children)
	return children, nil
}

func (s *Store) ListEphemeral(ctx context.Context, owner uint64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := keyEphemeralPrefix(owner)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			paths = append(paths, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deepest first so children are removed before parents.
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}

func (s *Store) NextSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		seq, err = bumpSeq(txn)
		return err
	})
	return seq, err
}

func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var seq uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySeq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt sequence value length %d", len(val))
			}
			seq = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return seq, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger adapts Badger's logger interface onto the internal
// logger, demoting everything to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error("badger: " + fmt.Sprintf(strings.TrimSpace(format), args...))
}
func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn("badger: " + fmt.Sprintf(strings.TrimSpace(format), args...))
}
func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug("badger: " + fmt.Sprintf(strings.TrimSpace(format), args...))
}
func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug("badger: " + fmt.Sprintf(strings.TrimSpace(format), args...))
}
