// Package deltaerr defines the sentinel error kinds shared by every
// diskdelta package. Callers should test with errors.Is; every layer
// boundary wraps with %w so the sentinel survives to the top.
package deltaerr

import "errors"

var (
	// ErrSizeMismatch: I and T differ in byte length, or length is not a
	// multiple of the block size.
	ErrSizeMismatch = errors.New("diskdelta: image size mismatch")

	// ErrInvalidParameter: block size or digest size out of range.
	ErrInvalidParameter = errors.New("diskdelta: invalid parameter")

	// ErrIoFailure wraps an underlying read/write error.
	ErrIoFailure = errors.New("diskdelta: i/o failure")

	// ErrTruncated: the deserializer ran short mid-field.
	ErrTruncated = errors.New("diskdelta: truncated delta stream")

	// ErrInvalidTag: the deserializer read a 2-bit tag it could not map.
	ErrInvalidTag = errors.New("diskdelta: invalid instruction tag")

	// ErrUnknownHash: a digest was not present in the known-block store.
	ErrUnknownHash = errors.New("diskdelta: unknown hash")

	// ErrHashSizeMismatch: Store.Add received a digest of the wrong length.
	ErrHashSizeMismatch = errors.New("diskdelta: hash size mismatch")

	// ErrContentMismatch: two equal-length images differ byte-for-byte.
	ErrContentMismatch = errors.New("diskdelta: content mismatch")
)
