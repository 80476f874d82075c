// Package knownstore implements the persistent known-block store (C4):
// an append-only log of (digest, literal) records shared across runs so a
// block seen once never has to travel through the delta stream again.
package knownstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/deltaerr"
	"github.com/blockdelta/diskdelta/filecache"
)

var log = logging.Logger("diskdelta/knownstore")

// DefaultPath mirrors the original tool's data/hashes_{B}_{D} naming so a
// store built by one run is found by the next run using the same (B, D).
func DefaultPath(blockSize, digestBits int) string {
	return filepath.Join("data", fmt.Sprintf("hashes_%d_%d", blockSize, digestBits))
}

// Store is the on-disk append-only log plus its in-memory digest index.
// A record is digestLen bytes of digest immediately followed by
// blockSize bytes of literal; records are fixed-size, so the Nth digest's
// literal lives at offset N*(digestLen+blockSize)+digestLen.
type Store struct {
	path      string
	blockSize int
	digestLen int

	cache *filecache.Cache

	// digests is the in-memory, on-disk-order list of known digests.
	digests []blockhash.Digest
	// offset maps a digest's string form to its position in digests.
	offset map[string]int

	w *bufio.Writer
	f *os.File
}

func recordSize(blockSize, digestLen int) int64 {
	return int64(digestLen) + int64(blockSize)
}

// Open opens (creating if necessary) the known-block store at path,
// scanning any existing records to rebuild the in-memory digest index.
func Open(path string, blockSize, digestBits int) (*Store, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size %d", deltaerr.ErrInvalidParameter, blockSize)
	}
	digestLen := (digestBits + 7) / 8

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}

	s := &Store{
		path:      path,
		blockSize: blockSize,
		digestLen: digestLen,
		cache:     filecache.NewReadWrite(4, filecache.AdviseRandom),
		offset:    make(map[string]int),
		w:         bufio.NewWriter(f),
		f:         f,
	}

	if err := s.scan(); err != nil {
		f.Close()
		return nil, err
	}

	log.Debugw("opened known-block store", "path", path, "known", len(s.digests))
	return s, nil
}

func (s *Store) scan() error {
	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	rec := recordSize(s.blockSize, s.digestLen)
	if info.Size()%rec != 0 {
		return fmt.Errorf("%w: %s size %d is not a multiple of record size %d", deltaerr.ErrSizeMismatch, s.path, info.Size(), rec)
	}

	count := info.Size() / rec
	buf := make([]byte, s.digestLen)
	for i := int64(0); i < count; i++ {
		if _, err := s.f.ReadAt(buf, i*rec); err != nil {
			return fmt.Errorf("%w: scanning record %d of %s: %v", deltaerr.ErrIoFailure, i, s.path, err)
		}
		d := blockhash.Digest(append([]byte(nil), buf...))
		s.offset[string(d)] = len(s.digests)
		s.digests = append(s.digests, d)
	}
	return nil
}

// Contains reports whether d is already known.
func (s *Store) Contains(d blockhash.Digest) bool {
	_, ok := s.offset[string(d)]
	return ok
}

// Add appends (d, literal) unless d is already known, in which case it is
// a no-op. len(literal) must equal the store's block size and len(d) its
// digest length.
func (s *Store) Add(d blockhash.Digest, literal []byte) error {
	if len(d) != s.digestLen {
		return fmt.Errorf("%w: got %d bytes, want %d", deltaerr.ErrHashSizeMismatch, len(d), s.digestLen)
	}
	if len(literal) != s.blockSize {
		return fmt.Errorf("%w: literal length %d, want %d", deltaerr.ErrInvalidParameter, len(literal), s.blockSize)
	}
	if s.Contains(d) {
		return nil
	}

	if _, err := s.w.Write(d); err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	if _, err := s.w.Write(literal); err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}

	s.offset[string(d)] = len(s.digests)
	s.digests = append(s.digests, append([]byte(nil), d...))
	return nil
}

// GetDataByHash returns the literal recorded for d.
func (s *Store) GetDataByHash(d blockhash.Digest) ([]byte, error) {
	idx, ok := s.offset[string(d)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", deltaerr.ErrUnknownHash, []byte(d))
	}

	f, err := s.cache.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer s.cache.Close(f)

	rec := recordSize(s.blockSize, s.digestLen)
	literal := make([]byte, s.blockSize)
	if _, err := f.ReadAt(literal, int64(idx)*rec+int64(s.digestLen)); err != nil {
		return nil, fmt.Errorf("%w: reading record %d of %s: %v", deltaerr.ErrIoFailure, idx, s.path, err)
	}
	return literal, nil
}

// Len reports how many distinct digests are known.
func (s *Store) Len() int { return len(s.digests) }

// Close flushes and releases the store's resources. The store must not be
// used afterward.
func (s *Store) Close() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	s.cache.Clear()
	return s.f.Close()
}
