package bitstream_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockdelta/diskdelta/bitstream"
	"github.com/blockdelta/diskdelta/deltaerr"
)

func TestWriterCloseEmptyProducesZeroBytes(t *testing.T) {
	var buf bytes.Buffer
	w := bitstream.NewWriter(&buf)
	require.NoError(t, w.Close())
	require.Empty(t, buf.Bytes())
}

func TestRoundTripBits(t *testing.T) {
	var buf bytes.Buffer
	w := bitstream.NewWriter(&buf)
	require.NoError(t, w.WriteBits(0b101, 3))
	require.NoError(t, w.WriteBits(0xABCD, 16))
	require.NoError(t, w.WriteBits(1, 1))
	require.NoError(t, w.Close())

	r := bitstream.NewReader(&buf)
	v, eof, err := r.ReadBits(3)
	require.NoError(t, err)
	require.False(t, eof)
	require.EqualValues(t, 0b101, v)

	v, eof, err = r.ReadBits(16)
	require.NoError(t, err)
	require.False(t, eof)
	require.EqualValues(t, 0xABCD, v)

	v, eof, err = r.ReadBits(1)
	require.NoError(t, err)
	require.False(t, eof)
	require.EqualValues(t, 1, v)
}

func TestRoundTripBytesUnaligned(t *testing.T) {
	var buf bytes.Buffer
	w := bitstream.NewWriter(&buf)
	require.NoError(t, w.WriteBits(0b11, 2))
	payload := []byte("WXYZ")
	require.NoError(t, w.WriteBytes(payload))
	require.NoError(t, w.Close())

	// ceil((2 + 32) / 8) = 5 bytes
	require.Len(t, buf.Bytes(), 5)

	r := bitstream.NewReader(&buf)
	tag, eof, err := r.ReadBits(2)
	require.NoError(t, err)
	require.False(t, eof)
	require.EqualValues(t, 0b11, tag)

	got, eof, err := r.ReadBytes(4)
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, payload, got)
}

func TestReaderEOFAtBoundary(t *testing.T) {
	var buf bytes.Buffer
	w := bitstream.NewWriter(&buf)
	require.NoError(t, w.WriteBits(0xFF, 8))
	require.NoError(t, w.Close())

	r := bitstream.NewReader(&buf)
	_, eof, err := r.ReadBits(8)
	require.NoError(t, err)
	require.False(t, eof)

	_, eof, err = r.ReadBits(8)
	require.NoError(t, err)
	require.True(t, eof, "clean end of stream should report eof, not an error")
}

func TestReaderTruncatedMidField(t *testing.T) {
	var buf bytes.Buffer
	w := bitstream.NewWriter(&buf)
	// Write only 4 bits, so a 16-bit read will run out partway through.
	require.NoError(t, w.WriteBits(0b1010, 4))
	require.NoError(t, w.Close())

	r := bitstream.NewReader(&buf)
	_, _, err := r.ReadBits(16)
	require.Error(t, err)
	require.ErrorIs(t, err, deltaerr.ErrTruncated)
}
