package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/goware/urlx"
)

// ConfigVersion exists for parity with prior on-disk config formats;
// diskdelta has no persisted config file, but keeps the constant as the
// CLI's one versioned artifact (useful if flag defaults ever need to be
// read from a file instead of the command line).
const ConfigVersion = 1

// DefaultBlockSize is B when the CLI's --block-size flag is omitted.
const DefaultBlockSize = 4096

// DefaultTBW is the assumed total-bytes-written figure the digest-size
// formula is calibrated against: 100,000 TB, the same assumption the
// original tool's CLI defaulted to.
const DefaultTBW = 100_000 * 1024 * 1024 * 1024 * 1024

// DefaultDigestBits computes D = ceil(2*log2(TBW/B)), the smallest digest
// width that keeps the truncated-SHA-256 collision probability acceptable
// for an image built out of blockSize-sized blocks over a TBW-sized
// working set.
func DefaultDigestBits(blockSize int) int {
	if blockSize <= 0 {
		return 1
	}
	d := int(math.Ceil(2 * math.Log2(float64(DefaultTBW)/float64(blockSize))))
	if d < 1 {
		d = 1
	}
	if d > 256 {
		d = 256
	}
	return d
}

// PathArg is a CLI-supplied path to a local image, delta, or known-block
// store file. Unlike the teacher's URI type (which also recognized
// remote web, IPFS, and bare-CID forms), PathArg only accepts local
// forms, since the core's Non-goals exclude remote/streaming sources.
type PathArg string

// String returns the path as a plain filesystem path, stripping a
// file:// scheme if present. Bare paths (the common case) are returned
// unchanged; urlx is only invoked for strings that look like URIs, since
// it normalizes scheme-less input as a web URL rather than a path.
func (p PathArg) String() string {
	s := string(p)
	if !strings.Contains(s, "://") {
		return s
	}
	u, err := urlx.Parse(s)
	if err != nil {
		return s
	}
	if u.Scheme == "file" {
		return u.Path
	}
	return s
}

// IsZero reports whether the path argument was left unset.
func (p PathArg) IsZero() bool {
	return p == ""
}

// Validate rejects empty paths and any non-local scheme (http://,
// ipfs://, etc.) the argument names.
func (p PathArg) Validate(flagName string) error {
	if p.IsZero() {
		return fmt.Errorf("%s must be set", flagName)
	}
	s := string(p)
	if !strings.Contains(s, "://") {
		return nil
	}
	u, err := urlx.Parse(s)
	if err != nil {
		return fmt.Errorf("%s is not a valid path or URI: %w", flagName, err)
	}
	switch u.Scheme {
	case "", "file":
		return nil
	default:
		return fmt.Errorf("%s must be a local path or file:// URI, got scheme %q", flagName, u.Scheme)
	}
}
