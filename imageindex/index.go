// Package imageindex builds and queries the per-image digest index used
// by the message builder: for one image it answers "what is the digest
// of block i" and "which blocks share this digest", the latter as a
// run-length-encoded list of (start, length) pairs in first-seen order.
package imageindex

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/tidwall/hashmap"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/deltaerr"
	"github.com/blockdelta/diskdelta/filecache"
)

var log = logging.Logger("diskdelta/imageindex")

// numBuckets bounds how large any single in-memory bucket map can grow,
// mirroring compactindexsized's bucket scheme for the same reason: an
// all-duplicate-block image should not force one giant map.
const numBuckets = 256

// hashMemoSize bounds the HashByIndex memo; it exists to avoid rehashing
// the same block twice when a caller (e.g. a verify pass) revisits an
// index the builder already hashed, not to cache the whole image.
const hashMemoSize = 4096

// Run is one run of consecutive block indices sharing a digest.
type Run struct {
	Start  uint32
	Length uint32
}

// digestKey is a fixed-size, comparable stand-in for a variable-length
// digest so it can key a generic hashmap.Map. Digests are at most 32
// bytes (D <= 256 bits) and are zero-padded on the right; within one Map
// every digest has the same byte length, so padding cannot collide two
// distinct real digests.
type digestKey [32]byte

func toDigestKey(d blockhash.Digest) digestKey {
	var k digestKey
	copy(k[:], d)
	return k
}

// Map is the digest index for a single image.
type Map struct {
	path      string
	blockSize int
	numBlocks uint32
	hasher    *blockhash.Hasher
	cache     *filecache.Cache
	buckets   [numBuckets]*hashmap.Map[digestKey, []Run]
	hashByIdx *ttlcache.Cache[uint32, string]
}

// Build performs the one linear scan required to populate the reverse
// (digest -> run list) index. The forward direction (HashByIndex,
// LiteralByIndex) is answered on demand and does not need the scan.
func Build(path string, blockSize int, hasher *blockhash.Hasher, cache *filecache.Cache) (*Map, error) {
	return BuildWithProgress(path, blockSize, hasher, cache, nil)
}

// BuildWithProgress is Build with an optional bar advanced once per block
// scanned; passing a nil bar is equivalent to calling Build directly.
func BuildWithProgress(path string, blockSize int, hasher *blockhash.Hasher, cache *filecache.Cache, bar *progressbar.ProgressBar) (*Map, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size %d", deltaerr.ErrInvalidParameter, blockSize)
	}
	if info.Size()%int64(blockSize) != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of block size %d", deltaerr.ErrSizeMismatch, path, info.Size(), blockSize)
	}

	m := &Map{
		path:      path,
		blockSize: blockSize,
		numBlocks: uint32(info.Size() / int64(blockSize)),
		hasher:    hasher,
		cache:     cache,
	}
	for i := range m.buckets {
		m.buckets[i] = hashmap.New[digestKey, []Run](0)
	}
	m.hashByIdx = ttlcache.New[uint32, string](
		ttlcache.WithCapacity[uint32, string](hashMemoSize),
	)

	f, err := cache.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer cache.Close(f)

	buf := make([]byte, blockSize)
	for i := uint32(0); i < m.numBlocks; i++ {
		if _, err := f.ReadAt(buf, int64(i)*int64(blockSize)); err != nil {
			return nil, fmt.Errorf("%w: reading block %d of %s: %v", deltaerr.ErrIoFailure, i, path, err)
		}
		d := hasher.Hash(buf)
		k := toDigestKey(d)
		bucket := m.bucketFor(d)

		runs, _ := bucket.Get(k)
		if last := len(runs) - 1; last >= 0 && runs[last].Start+runs[last].Length == i {
			runs[last].Length++
		} else {
			runs = append(runs, Run{Start: i, Length: 1})
		}
		bucket.Set(k, runs)
		if bar != nil {
			bar.Add(1)
		}
	}

	log.Debugw("built image index", "path", path, "blocks", m.numBlocks)
	return m, nil
}

func (m *Map) bucketFor(d blockhash.Digest) *hashmap.Map[digestKey, []Run] {
	return m.buckets[xxhash.Sum64(d)%numBuckets]
}

// NumBlocks returns N, the image length in blocks.
func (m *Map) NumBlocks() uint32 { return m.numBlocks }

// HashByIndex returns the digest of block i, reading it on demand and
// consulting the small memo cache first.
func (m *Map) HashByIndex(i uint32) (blockhash.Digest, error) {
	if item := m.hashByIdx.Get(i); item != nil {
		return blockhash.Digest(item.Value()), nil
	}
	lit, err := m.LiteralByIndex(i)
	if err != nil {
		return nil, err
	}
	d := m.hasher.Hash(lit)
	m.hashByIdx.Set(i, string(d), ttlcache.DefaultTTL)
	return d, nil
}

// LiteralByIndex reads the raw B bytes of block i.
func (m *Map) LiteralByIndex(i uint32) ([]byte, error) {
	if i >= m.numBlocks {
		return nil, fmt.Errorf("%w: block index %d out of range (N=%d)", deltaerr.ErrInvalidParameter, i, m.numBlocks)
	}
	f, err := m.cache.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer m.cache.Close(f)

	buf := make([]byte, m.blockSize)
	if _, err := f.ReadAt(buf, int64(i)*int64(m.blockSize)); err != nil {
		return nil, fmt.Errorf("%w: reading block %d of %s: %v", deltaerr.ErrIoFailure, i, m.path, err)
	}
	return buf, nil
}

// IndexesByHash returns a defensive copy of the run list recorded for d,
// in the order those runs were first seen during Build.
func (m *Map) IndexesByHash(d blockhash.Digest) []Run {
	bucket := m.bucketFor(d)
	runs, ok := bucket.Get(toDigestKey(d))
	if !ok {
		return nil
	}
	out := make([]Run, len(runs))
	copy(out, runs)
	return out
}
