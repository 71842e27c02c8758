package objcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "objcache.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_MissReturnsNotOK(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get("commit1", "README.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PutThenGet(t *testing.T) {
	c := newTestCache(t)
	entry := Entry{SHA: "ce013625030ba8dba906f756967f9e9ca394464a", LFS: false, Size: 6}
	require.NoError(t, c.Put("commit1", "README.md", entry))

	got, ok, err := c.Get("commit1", "README.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestCache_DistinctPathsDontCollide(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Put("commit1", "a.txt", Entry{SHA: "aaaa", Size: 1}))
	require.NoError(t, c.Put("commit1", "b.txt", Entry{SHA: "bbbb", Size: 2}))

	a, ok, err := c.Get("commit1", "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aaaa", a.SHA)

	b, ok, err := c.Get("commit1", "b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bbbb", b.SHA)
}

func TestCache_DistinctCommitsDontCollide(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Put("commit1", "a.txt", Entry{SHA: "aaaa"}))
	require.NoError(t, c.Put("commit2", "a.txt", Entry{SHA: "cccc"}))

	got, ok, err := c.Get("commit1", "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aaaa", got.SHA)
}
