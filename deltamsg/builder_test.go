package deltamsg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/deltamsg"
	"github.com/blockdelta/diskdelta/filecache"
	"github.com/blockdelta/diskdelta/imageindex"
	"github.com/blockdelta/diskdelta/knownstore"
)

func buildPair(t *testing.T, blockSize, digestBits int, iData, tData []byte) (*imageindex.Map, *imageindex.Map, *knownstore.Store) {
	t.Helper()
	dir := t.TempDir()
	iPath := filepath.Join(dir, "initial.img")
	tPath := filepath.Join(dir, "target.img")
	require.NoError(t, os.WriteFile(iPath, iData, 0o644))
	require.NoError(t, os.WriteFile(tPath, tData, 0o644))

	hasher, err := blockhash.New(digestBits)
	require.NoError(t, err)
	cache := filecache.New(4, filecache.AdviseSequential)

	mI, err := imageindex.Build(iPath, blockSize, hasher, cache)
	require.NoError(t, err)
	mT, err := imageindex.Build(tPath, blockSize, hasher, cache)
	require.NoError(t, err)

	storePath := filepath.Join(dir, "store")
	k, err := knownstore.Open(storePath, blockSize, digestBits)
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })

	return mI, mT, k
}

func zeros(n int) []byte { return make([]byte, n) }

// E1: identical images produce an empty message.
func TestE1IdenticalImagesEmptyMessage(t *testing.T) {
	mI, mT, k := buildPair(t, 4, 16, zeros(16), zeros(16))
	msg, err := deltamsg.Build(mI, mT, k)
	require.NoError(t, err)
	require.Empty(t, msg.Instructions)
}

// E2: single changed block that matches an initial-disk block becomes a
// DiskReference.
func TestE2DiskReference(t *testing.T) {
	initial := append(append(zeros(8), []byte("ABCD")...), zeros(4)...)
	mI, mT, k := buildPair(t, 4, 16, initial, zeros(16))
	msg, err := deltamsg.Build(mI, mT, k)
	require.NoError(t, err)
	require.Len(t, msg.Instructions, 1)

	inst := msg.Instructions[0]
	require.EqualValues(t, 2, inst.DiskIndex)
	require.Equal(t, deltamsg.DiskReference, inst.Kind)
	require.EqualValues(t, 0, inst.Ref)
}

// E3: a repeated literal block becomes Literal then MessageReference.
func TestE3LiteralThenMessageReference(t *testing.T) {
	target := append(append([]byte("WXYZ"), []byte("WXYZ")...), zeros(8)...)
	mI, mT, k := buildPair(t, 4, 16, zeros(16), target)
	msg, err := deltamsg.Build(mI, mT, k)
	require.NoError(t, err)
	require.Len(t, msg.Instructions, 2)

	require.EqualValues(t, 0, msg.Instructions[0].DiskIndex)
	require.Equal(t, deltamsg.Literal, msg.Instructions[0].Kind)
	require.Equal(t, []byte("WXYZ"), msg.Instructions[0].Literal)

	require.EqualValues(t, 1, msg.Instructions[1].DiskIndex)
	require.Equal(t, deltamsg.MessageReference, msg.Instructions[1].Kind)
	require.EqualValues(t, 0, msg.Instructions[1].Ref)
}

// E4: every target block has a distinct match somewhere in I, so all
// four instructions are DiskReferences.
func TestE4AllDiskReferences(t *testing.T) {
	mI, mT, k := buildPair(t, 4, 16, []byte("AAAABBBBCCCCDDDD"), []byte("DDDDCCCCBBBBAAAA"))
	msg, err := deltamsg.Build(mI, mT, k)
	require.NoError(t, err)
	require.Len(t, msg.Instructions, 4)

	want := []uint32{3, 2, 1, 0}
	for idx, inst := range msg.Instructions {
		require.Equal(t, deltamsg.DiskReference, inst.Kind)
		require.Equal(t, want[idx], inst.Ref)
	}
}

// E5: a one-off literal with no disk match and no known-store hit.
func TestE5LiteralWithNoMatch(t *testing.T) {
	mI, mT, k := buildPair(t, 1, 8, []byte("ABCDE"), []byte("ABXDE"))
	msg, err := deltamsg.Build(mI, mT, k)
	require.NoError(t, err)
	require.Len(t, msg.Instructions, 1)

	inst := msg.Instructions[0]
	require.EqualValues(t, 2, inst.DiskIndex)
	require.Equal(t, deltamsg.Literal, inst.Kind)
	require.Equal(t, []byte("X"), inst.Literal)
}

// E6: a block already known to the store is emitted as Hash the first
// time it is seen in this message, then MessageReference the second time.
func TestE6HashThenMessageReference(t *testing.T) {
	mI, mT, k := buildPair(t, 4, 16, zeros(8), append([]byte("QQQQ"), []byte("QQQQ")...))

	hasher, err := blockhash.New(16)
	require.NoError(t, err)
	require.NoError(t, k.Add(hasher.Hash([]byte("QQQQ")), []byte("QQQQ")))
	knownBefore := k.Len()

	msg, err := deltamsg.Build(mI, mT, k)
	require.NoError(t, err)
	require.Len(t, msg.Instructions, 2)

	require.Equal(t, deltamsg.Hash, msg.Instructions[0].Kind)
	require.Equal(t, hasher.Hash([]byte("QQQQ")), msg.Instructions[0].Digest)

	require.Equal(t, deltamsg.MessageReference, msg.Instructions[1].Kind)
	require.EqualValues(t, 0, msg.Instructions[1].Ref)

	require.Equal(t, knownBefore, k.Len())
}

func TestHeaderWidthsReflectMaxPayloads(t *testing.T) {
	mI, mT, k := buildPair(t, 4, 16, []byte("AAAABBBBCCCCDDDD"), []byte("DDDDCCCCBBBBAAAA"))
	msg, err := deltamsg.Build(mI, mT, k)
	require.NoError(t, err)

	// N=4, bits(N-1)=bits(3)=2.
	require.Equal(t, 2, msg.ChangedIndexBits)
	require.Equal(t, 2, msg.HeaderBits)
	// Max disk-ref payload seen is 3.
	require.Equal(t, 2, msg.DiskRefBits)
	// No message references emitted.
	require.Equal(t, 1, msg.MessageRefBits)
}
