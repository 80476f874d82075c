package imageindex_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/filecache"
	"github.com/blockdelta/diskdelta/imageindex"
)

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestBuildRejectsNonMultipleSize(t *testing.T) {
	path := writeImage(t, make([]byte, 10))
	hasher, err := blockhash.New(16)
	require.NoError(t, err)
	cache := filecache.New(4, filecache.AdviseSequential)

	_, err = imageindex.Build(path, 4, hasher, cache)
	require.Error(t, err)
}

func TestRLERunsCollapseConsecutiveDuplicates(t *testing.T) {
	// 4 identical 4-byte zero blocks followed by one distinct block.
	data := append(make([]byte, 16), []byte("WXYZ")...)
	path := writeImage(t, data)
	hasher, err := blockhash.New(16)
	require.NoError(t, err)
	cache := filecache.New(4, filecache.AdviseSequential)

	m, err := imageindex.Build(path, 4, hasher, cache)
	require.NoError(t, err)
	require.EqualValues(t, 5, m.NumBlocks())

	zeroHash := hasher.Hash(make([]byte, 4))
	runs := m.IndexesByHash(zeroHash)
	require.Equal(t, []imageindex.Run{{Start: 0, Length: 4}}, runs)

	wxyzHash := hasher.Hash([]byte("WXYZ"))
	runs = m.IndexesByHash(wxyzHash)
	require.Equal(t, []imageindex.Run{{Start: 4, Length: 1}}, runs)
}

func TestHashByIndexAndLiteralByIndex(t *testing.T) {
	path := writeImage(t, []byte("AAAABBBBCCCCDDDD"))
	hasher, err := blockhash.New(16)
	require.NoError(t, err)
	cache := filecache.New(4, filecache.AdviseRandom)

	m, err := imageindex.Build(path, 4, hasher, cache)
	require.NoError(t, err)

	lit, err := m.LiteralByIndex(2)
	require.NoError(t, err)
	require.Equal(t, []byte("CCCC"), lit)

	h, err := m.HashByIndex(2)
	require.NoError(t, err)
	require.Equal(t, hasher.Hash([]byte("CCCC")), h)
}

func TestIndexesByHashReturnsDefensiveCopy(t *testing.T) {
	path := writeImage(t, []byte("AAAAAAAA"))
	hasher, err := blockhash.New(16)
	require.NoError(t, err)
	cache := filecache.New(4, filecache.AdviseSequential)

	m, err := imageindex.Build(path, 4, hasher, cache)
	require.NoError(t, err)

	h, err := m.HashByIndex(0)
	require.NoError(t, err)
	runs := m.IndexesByHash(h)
	runs[0].Length = 999

	runsAgain := m.IndexesByHash(h)
	require.EqualValues(t, 2, runsAgain[0].Length)
}
