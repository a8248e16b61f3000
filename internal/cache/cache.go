package cache

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/objectfs/zerofs/pkg/zferrors"
)

// Cache is a bounded LRU cache of file bodies on local disk, keyed by
// object id. It is the staging area background uploads read from and
// the reads the filesystem layer serves from on a cache hit.
//
// All public operations are atomic with respect to one another: a single
// mutex guards the index, the touch order, and the backing files.
type Cache struct {
	mu         sync.Mutex
	dir        string
	quota      int64
	index      map[string]int64
	touchOrder *list.List
	elems      map[string]*list.Element
	pinned     map[string]bool // ids with a pending upload, excluded from eviction
	log        zerolog.Logger
}

// New opens a disk cache rooted at dir, enforcing quota bytes. It fails
// if dir does not exist or quota is not positive. Existing entries under
// dir are adopted into the index by treating each filename as an object
// id — this is how the cache recovers its state across a process restart
// (the directory tree itself is rebuilt by listing the bucket).
func New(dir string, quota int64, log zerolog.Logger) (*Cache, error) {
	if quota <= 0 {
		return nil, zferrors.Config("cache quota must be positive")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, zferrors.Configf(err, "cache directory %q", dir)
	}
	if !info.IsDir() {
		return nil, zferrors.Config(fmt.Sprintf("cache path %q is not a directory", dir))
	}

	c := &Cache{
		dir:        dir,
		quota:      quota,
		index:      make(map[string]int64),
		touchOrder: list.New(),
		elems:      make(map[string]*list.Element),
		pinned:     make(map[string]bool),
		log:        log.With().Str("component", "cache").Logger(),
	}
	if err := c.populate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) populate() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return zferrors.IO(err, "scanning cache directory %q", c.dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return zferrors.IO(err, "stat cache entry %q", entry.Name())
		}
		id := entry.Name()
		c.index[id] = info.Size()
		c.elems[id] = c.touchOrder.PushBack(id)
	}
	c.log.Debug().Int("entries", len(c.index)).Msg("populated cache index from disk")
	return nil
}

func (c *Cache) path(id string) string {
	return filepath.Join(c.dir, id)
}

// Contains reports whether id is present in the cache.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

// Pin marks id as having a pending upload, excluding it from eviction
// until a matching Unpin. Idempotent: calling Pin repeatedly for the
// same id (e.g. on every coalesced write before the upload task
// actually runs) has the same effect as calling it once.
func (c *Cache) Pin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[id] = true
}

// Unpin clears id's pending-upload marker, making it evictable again.
func (c *Cache) Unpin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pinned, id)
}

// Add writes bytes to the cache under id, replacing any prior body for
// that id, then enforces the quota by evicting least-recently-used
// unpinned entries. It fails with zferrors.ErrNoSpace if quota cannot
// be honored because every other entry has a pending upload — the
// write itself still lands in that case, since the caller (a write or
// an upload re-keying the cache) must not lose data, but future writes
// should fail until pressure relieves.
func (c *Cache) Add(id string, data []byte) error {
	if err := c.writeAtomic(id, data); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[id] = int64(len(data))
	c.touch(id)
	return c.evict(id)
}

// writeAtomic writes data to cache_dir/id via a temp file plus rename, so
// a concurrent reader never observes a partially written body.
func (c *Cache) writeAtomic(id string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, id+".tmp-*")
	if err != nil {
		return zferrors.IO(err, "creating temp file for %q", id)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return zferrors.IO(err, "writing temp file for %q", id)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return zferrors.IO(err, "closing temp file for %q", id)
	}
	if err := os.Rename(tmpName, c.path(id)); err != nil {
		os.Remove(tmpName)
		return zferrors.IO(err, "renaming temp file into place for %q", id)
	}
	return nil
}

// Update overwrites the cached body for id at offset, failing with
// zferrors.NotFound if id is not present. Returns the number of bytes
// written.
func (c *Cache) Update(id string, data []byte, offset int64) (int, error) {
	c.mu.Lock()
	if _, ok := c.index[id]; !ok {
		c.mu.Unlock()
		return 0, zferrors.NotFound(id)
	}
	c.mu.Unlock()

	f, err := os.OpenFile(c.path(id), os.O_WRONLY, 0o600)
	if err != nil {
		return 0, zferrors.IO(err, "opening %q for update", id)
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return 0, zferrors.IO(err, "seeking in %q", id)
	}
	n, err := f.Write(data)
	if err != nil {
		return n, zferrors.IO(err, "writing %q at offset %d", id, offset)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if end := offset + int64(n); end > c.index[id] {
		c.index[id] = end
	}
	c.touch(id)
	if err := c.evict(id); err != nil {
		return n, err
	}
	return n, nil
}

// Get reads a slice of the cached body for id, starting at offset. size
// of -1 means "to end". Fails with zferrors.NotFound if id is absent.
func (c *Cache) Get(id string, offset int64, size int64) ([]byte, error) {
	c.mu.Lock()
	if _, ok := c.index[id]; !ok {
		c.mu.Unlock()
		return nil, zferrors.NotFound(id)
	}
	c.mu.Unlock()

	f, err := os.Open(c.path(id))
	if err != nil {
		return nil, zferrors.IO(err, "opening %q", id)
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, zferrors.IO(err, "seeking in %q", id)
	}

	var data []byte
	if size < 0 {
		data, err = io.ReadAll(f)
	} else {
		buf := make([]byte, size)
		var n int
		n, err = io.ReadFull(f, buf)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = nil
		}
		data = buf[:n]
	}
	if err != nil {
		return nil, zferrors.IO(err, "reading %q", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(id)
	return data, nil
}

// Delete removes id from the cache. It does not touch the entry, since
// it is leaving the cache entirely. Deleting an absent id is a no-op.
func (c *Cache) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Cache) removeLocked(id string) error {
	if _, ok := c.index[id]; !ok {
		return nil
	}
	if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
		return zferrors.IO(err, "deleting %q", id)
	}
	delete(c.index, id)
	if elem, ok := c.elems[id]; ok {
		c.touchOrder.Remove(elem)
		delete(c.elems, id)
	}
	return nil
}

// FileSize returns the persisted size of id via stat, failing with
// zferrors.NotFound if absent.
func (c *Cache) FileSize(id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[id]; !ok {
		return 0, zferrors.NotFound(id)
	}
	info, err := os.Stat(c.path(id))
	if err != nil {
		return 0, zferrors.IO(err, "stat %q", id)
	}
	return info.Size(), nil
}

// Used returns the current total cached byte count. Callers must not
// rely on this remaining accurate once the lock is released.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedLocked()
}

func (c *Cache) usedLocked() int64 {
	var total int64
	for _, size := range c.index {
		total += size
	}
	return total
}

// touch moves id to the back of the touch order (most recently used),
// removing it from wherever it currently sits first. Caller must hold c.mu.
func (c *Cache) touch(id string) {
	if elem, ok := c.elems[id]; ok {
		c.touchOrder.Remove(elem)
	}
	c.elems[id] = c.touchOrder.PushBack(id)
}

// evict pops the least-recently-used unpinned entries until usage is at
// or below quota. Pinned entries (a pending upload in flight, see Pin)
// are skipped rather than evicted, so a background upload never loses
// the body it is about to send. keep, the entry just written, is
// skipped too, so the write that triggered eviction is never lost. If
// quota is still exceeded once every other unpinned entry has been
// tried, evict returns zferrors.ErrNoSpace. Caller must hold c.mu.
func (c *Cache) evict(keep string) error {
	elem := c.touchOrder.Front()
	for c.usedLocked() > c.quota && elem != nil {
		next := elem.Next()
		id := elem.Value.(string)
		if c.pinned[id] || id == keep {
			elem = next
			continue
		}
		c.log.Debug().Str("id", id).Msg("evicting cache entry over quota")
		if err := c.removeLocked(id); err != nil {
			c.log.Error().Err(err).Str("id", id).Msg("failed to evict cache entry")
			return err
		}
		elem = next
	}
	if c.usedLocked() > c.quota {
		return zferrors.ErrNoSpace
	}
	return nil
}

