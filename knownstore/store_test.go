package knownstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/deltaerr"
	"github.com/blockdelta/diskdelta/knownstore"
)

func TestAddAndGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes_4_16")
	s, err := knownstore.Open(path, 4, 16)
	require.NoError(t, err)
	defer s.Close()

	hasher, err := blockhash.New(16)
	require.NoError(t, err)

	literal := []byte("ABCD")
	d := hasher.Hash(literal)

	require.False(t, s.Contains(d))
	require.NoError(t, s.Add(d, literal))
	require.True(t, s.Contains(d))
	require.Equal(t, 1, s.Len())

	got, err := s.GetDataByHash(d)
	require.NoError(t, err)
	require.Equal(t, literal, got)
}

func TestAddIsNoOpOnDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes_4_16")
	s, err := knownstore.Open(path, 4, 16)
	require.NoError(t, err)
	defer s.Close()

	hasher, err := blockhash.New(16)
	require.NoError(t, err)
	literal := []byte("WXYZ")
	d := hasher.Hash(literal)

	require.NoError(t, s.Add(d, literal))
	require.NoError(t, s.Add(d, literal))
	require.Equal(t, 1, s.Len())
}

func TestGetUnknownHashFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes_4_16")
	s, err := knownstore.Open(path, 4, 16)
	require.NoError(t, err)
	defer s.Close()

	hasher, err := blockhash.New(16)
	require.NoError(t, err)
	d := hasher.Hash([]byte("NOPE"))

	_, err = s.GetDataByHash(d)
	require.ErrorIs(t, err, deltaerr.ErrUnknownHash)
}

func TestAddRejectsWrongDigestLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes_4_16")
	s, err := knownstore.Open(path, 4, 16)
	require.NoError(t, err)
	defer s.Close()

	err = s.Add(blockhash.Digest([]byte{1, 2, 3}), []byte("ABCD"))
	require.ErrorIs(t, err, deltaerr.ErrHashSizeMismatch)
}

func TestReopenRestoresIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes_4_16")
	hasher, err := blockhash.New(16)
	require.NoError(t, err)

	s1, err := knownstore.Open(path, 4, 16)
	require.NoError(t, err)
	literal := []byte("ABCD")
	d := hasher.Hash(literal)
	require.NoError(t, s1.Add(d, literal))
	require.NoError(t, s1.Close())

	s2, err := knownstore.Open(path, 4, 16)
	require.NoError(t, err)
	defer s2.Close()
	require.True(t, s2.Contains(d))
	got, err := s2.GetDataByHash(d)
	require.NoError(t, err)
	require.Equal(t, literal, got)
}
