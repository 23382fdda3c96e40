package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/", "/", false},
		{"/a", "/a", false},
		{"/a/b/c", "/a/b/c", false},
		{"/a/", "/a", false},
		{"", "", true},
		{"a/b", "", true},
		{"/a//b", "", true},
		{"/a/./b", "", true},
		{"/a/../b", "", true},
	}

	for _, tc := range cases {
		got, err := CleanPath(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrBadPath, "CleanPath(%q)", tc.in)
			continue
		}
		assert.NoError(t, err, "CleanPath(%q)", tc.in)
		assert.Equal(t, tc.want, got, "CleanPath(%q)", tc.in)
	}
}

func TestParent(t *testing.T) {
	assert.Equal(t, "/", Parent("/"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/a", Parent("/a/b"))
	assert.Equal(t, "/a/b", Parent("/a/b/c"))
}

func TestBase(t *testing.T) {
	assert.Equal(t, "/", Base("/"))
	assert.Equal(t, "a", Base("/a"))
	assert.Equal(t, "c", Base("/a/b/c"))
}
