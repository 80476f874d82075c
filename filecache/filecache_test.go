package filecache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockdelta/diskdelta/filecache"
)

func TestOpenReturnsSharedHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	c := filecache.New(4, filecache.AdviseNone)

	f1, err := c.Open(path)
	require.NoError(t, err)
	f2, err := c.Open(path)
	require.NoError(t, err)
	require.Same(t, f1, f2)

	require.NoError(t, c.Close(f1))
	require.NoError(t, c.Close(f2))
}

func TestEvictionUnderCapacity(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, string(rune('a'+i)))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		paths = append(paths, p)
	}

	c := filecache.New(1, filecache.AdviseNone)
	f0, err := c.Open(paths[0])
	require.NoError(t, err)
	require.NoError(t, c.Close(f0))

	f1, err := c.Open(paths[1])
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	f2, err := c.Open(paths[2])
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	require.NoError(t, c.Close(f1))
	require.NoError(t, c.Close(f2))
}

func TestClearClosesUnreferencedHandles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := filecache.New(4, filecache.AdviseNone)
	f, err := c.Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Close(f))

	c.Clear()
	require.Equal(t, 0, c.Len())
}
