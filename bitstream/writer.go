// Package bitstream provides a buffered, bit-granular writer and reader
// over ordinary byte streams. Every field is packed MSB-first within each
// byte; a writer's trailing partial byte is zero-padded on Close.
package bitstream

import (
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/blockdelta/diskdelta/deltaerr"
)

// flushThreshold bounds how large the staging buffer is allowed to grow
// before it is handed to the underlying writer.
const flushThreshold = 1 << 20 // 1 MiB

// Writer accumulates bits MSB-first and flushes whole bytes to an
// underlying io.Writer. The zero value is not usable; use NewWriter.
type Writer struct {
	w      io.Writer
	staged *bytebufferpool.ByteBuffer
	cur    byte
	bitpos int // bits already placed in cur, from the MSB side, 0..7
	closed bool
}

// NewWriter wraps w for bit-granular writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, staged: bytebufferpool.Get()}
}

// WriteBits writes the low nbits of v, MSB first, for 1 <= nbits <= 64.
func (w *Writer) WriteBits(v uint64, nbits int) error {
	if nbits <= 0 || nbits > 64 {
		return fmt.Errorf("%w: bit width %d out of range", deltaerr.ErrInvalidParameter, nbits)
	}
	for i := nbits - 1; i >= 0; i-- {
		bit := byte((v >> uint(i)) & 1)
		w.cur |= bit << uint(7-w.bitpos)
		w.bitpos++
		if w.bitpos == 8 {
			w.staged.WriteByte(w.cur)
			w.cur = 0
			w.bitpos = 0
		}
	}
	return w.maybeFlush()
}

// WriteBytes writes p as a sequence of whole bytes, continuing from
// whatever bit offset the writer is currently at.
func (w *Writer) WriteBytes(p []byte) error {
	if w.bitpos == 0 {
		w.staged.Write(p)
	} else {
		shift := uint(w.bitpos)
		for _, b := range p {
			w.cur |= b >> shift
			w.staged.WriteByte(w.cur)
			w.cur = b << (8 - shift)
		}
	}
	return w.maybeFlush()
}

func (w *Writer) maybeFlush() error {
	if w.staged.Len() < flushThreshold {
		return nil
	}
	return w.flush()
}

func (w *Writer) flush() error {
	if w.staged.Len() == 0 {
		return nil
	}
	if _, err := w.w.Write(w.staged.B); err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	w.staged.Reset()
	return nil
}

// Close flushes the trailing partial byte, zero-padded, and releases the
// writer's staging buffer. Closing a writer that never wrote anything
// produces zero bytes of output.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.bitpos > 0 {
		w.staged.WriteByte(w.cur)
		w.cur = 0
		w.bitpos = 0
	}
	err := w.flush()
	bytebufferpool.Put(w.staged)
	return err
}
