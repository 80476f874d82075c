// Package filecache hands out shared, reference-counted *os.File handles
// so the image index and known-block store never need to track
// their own open/close lifecycle for the same path, and never assume an
// exclusive seek cursor on a file another component is also reading.
// Callers must use ReadAt/WriteAt, never Seek+Read/Write, since a handle
// may be shared concurrently by several logical readers.
package filecache

import (
	"container/list"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// AdviseKind selects the page-cache access pattern hint applied to a
// freshly opened handle.
type AdviseKind int

const (
	// AdviseNone skips the fadvise call entirely.
	AdviseNone AdviseKind = iota
	// AdviseSequential hints a single forward pass, as done by an
	// IndexHashMap build scan.
	AdviseSequential
	// AdviseRandom hints scattered lookups, as done by a known-block
	// store or an applier resolving DiskReference/Hash instructions.
	AdviseRandom
)

type entry struct {
	file *os.File
	refs int
}

// Cache is an LRU pool of open file handles, safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	ll       *list.List
	flag     int
	perm     os.FileMode
	advise   AdviseKind
	// removed holds handles evicted from cache while still referenced,
	// so a later Close can finish closing them exactly once.
	removed map[*os.File]int
}

// New returns a Cache that opens files read-only and keeps at most
// capacity handles cached at once (0 disables caching: every Open opens a
// fresh handle and every Close closes it).
func New(capacity int, advise AdviseKind) *Cache {
	return &Cache{
		capacity: capacity,
		flag:     os.O_RDONLY,
		advise:   advise,
	}
}

// NewReadWrite is like New but opens files for reading and writing,
// creating them if missing — used by the known-block store's append log.
func NewReadWrite(capacity int, advise AdviseKind) *Cache {
	return &Cache{
		capacity: capacity,
		flag:     os.O_RDWR | os.O_CREATE,
		perm:     0o644,
		advise:   advise,
	}
}

// Open returns a shared handle for name, opening it if not already
// cached. Every Open must be matched by a Close.
func (c *Cache) Open(name string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		return c.openFresh(name)
	}
	if c.cache == nil {
		c.cache = make(map[string]*list.Element)
		c.ll = list.New()
	}
	if elem, ok := c.cache[name]; ok {
		c.ll.MoveToFront(elem)
		ent := elem.Value.(*entry)
		ent.refs++
		return ent.file, nil
	}

	f, err := c.openFresh(name)
	if err != nil {
		return nil, err
	}
	c.cache[name] = c.ll.PushFront(&entry{file: f, refs: 1})
	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
	return f, nil
}

func (c *Cache) openFresh(name string) (*os.File, error) {
	f, err := os.OpenFile(name, c.flag, c.perm)
	if err != nil {
		return nil, err
	}
	c.applyAdvise(f)
	return f, nil
}

func (c *Cache) applyAdvise(f *os.File) {
	switch c.advise {
	case AdviseSequential:
		_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	case AdviseRandom:
		_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
	}
}

// Close decrements name's reference count, closing the underlying handle
// once it reaches zero and the entry is no longer cached.
func (c *Cache) Close(f *os.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if refs, ok := c.removed[f]; ok {
		if refs <= 1 {
			delete(c.removed, f)
			return f.Close()
		}
		c.removed[f] = refs - 1
		return nil
	}

	if c.capacity == 0 || c.cache == nil {
		return f.Close()
	}
	elem, ok := c.cache[f.Name()]
	if !ok {
		return f.Close()
	}
	ent := elem.Value.(*entry)
	if ent.file != f {
		// A different handle for the same path is cached now; this one
		// is orphaned (already evicted), so just close it.
		return f.Close()
	}
	ent.refs--
	return nil
}

// Len reports how many distinct files are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		return 0
	}
	return c.ll.Len()
}

// Clear closes every cached handle with a zero reference count and
// forgets the rest; callers holding a reference are still responsible
// for a matching Close.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, elem := range c.cache {
		ent := elem.Value.(*entry)
		if ent.refs == 0 {
			ent.file.Close()
		}
	}
	c.cache = nil
	c.ll = nil
}

func (c *Cache) evictOldest() {
	elem := c.ll.Back()
	if elem == nil {
		return
	}
	c.ll.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.cache, ent.file.Name())
	if ent.refs == 0 {
		ent.file.Close()
		return
	}
	// Still referenced: stash it so the matching Close(s) finish the job
	// exactly once, while a later Open reopens the file under the cache.
	if c.removed == nil {
		c.removed = make(map[*os.File]int)
	}
	c.removed[ent.file] = ent.refs
}
