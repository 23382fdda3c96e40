package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeriedb/aerie/pkg/namespace"
)

func TestRootExists(t *testing.T) {
	s := New()
	ok, err := s.Exists(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	seq, err := s.Create(ctx, "/a", false, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	n, err := s.Get(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, "/a", n.Path)
	assert.False(t, n.Ephemeral)
}

func TestCreateDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, "/a", false, 0)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/a", false, 0)
	assert.ErrorIs(t, err, namespace.ErrExists)
}

func TestCreateOrphan(t *testing.T) {
	s := New()
	_, err := s.Create(context.Background(), "/a/b", false, 0)
	assert.ErrorIs(t, err, namespace.ErrNotFound)
}

func TestDeleteNonEmpty(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, "/a", false, 0)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/a/b", false, 0)
	require.NoError(t, err)

	_, err = s.Delete(ctx, "/a")
	assert.ErrorIs(t, err, namespace.ErrNotEmpty)

	_, err = s.Delete(ctx, "/a/b")
	require.NoError(t, err)
	_, err = s.Delete(ctx, "/a")
	require.NoError(t, err)
}

func TestDeleteMissing(t *testing.T) {
	s := New()
	_, err := s.Delete(context.Background(), "/nope")
	assert.ErrorIs(t, err, namespace.ErrNotFound)
}

func TestAttrs(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, "/a", false, 0)
	require.NoError(t, err)

	_, err = s.SetAttr(ctx, "/a", "k", []byte("v"))
	require.NoError(t, err)

	v, err := s.GetAttr(ctx, "/a", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = s.GetAttr(ctx, "/a", "missing")
	assert.ErrorIs(t, err, namespace.ErrNotFound)

	_, err = s.DelAttr(ctx, "/a", "k")
	require.NoError(t, err)
	_, err = s.DelAttr(ctx, "/a", "k")
	assert.ErrorIs(t, err, namespace.ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, "/a", false, 0)
	require.NoError(t, err)
	_, err = s.SetAttr(ctx, "/a", "k", []byte("v"))
	require.NoError(t, err)

	n, err := s.Get(ctx, "/a")
	require.NoError(t, err)
	n.Attrs["k"][0] = 'X'

	v, err := s.GetAttr(ctx, "/a", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v, "mutating a Get result must not leak into the store")
}

func TestListChildren(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, "/a", false, 0)
	require.NoError(t, err)
	for _, p := range []string{"/a/c", "/a/b", "/a/b/deep", "/z"} {
		_, err = s.Create(ctx, p, false, 0)
		require.NoError(t, err)
	}

	names, err := s.ListChildren(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, names)

	names, err = s.ListChildren(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, names)

	_, err = s.ListChildren(ctx, "/nope")
	assert.ErrorIs(t, err, namespace.ErrNotFound)
}

func TestListEphemeralDeepestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Create(ctx, "/svc", false, 0)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/svc/a", true, 7)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/svc/a/b", true, 7)
	require.NoError(t, err)
	_, err = s.Create(ctx, "/other", true, 8)
	require.NoError(t, err)

	paths, err := s.ListEphemeral(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"/svc/a/b", "/svc/a"}, paths)
}

func TestSequencesAreMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()

	s1, err := s.Create(ctx, "/a", false, 0)
	require.NoError(t, err)
	s2, err := s.SetAttr(ctx, "/a", "k", []byte("v"))
	require.NoError(t, err)
	s3, err := s.NextSeq(ctx)
	require.NoError(t, err)
	last, err := s.LastSeq(ctx)
	require.NoError(t, err)

	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)
	assert.Equal(t, s3, last)
}
