package fusefs

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	"github.com/objectfs/zerofs/internal/cache"
	"github.com/objectfs/zerofs/internal/metrics"
	"github.com/objectfs/zerofs/internal/objectstore"
	"github.com/objectfs/zerofs/internal/taskqueue"
	"github.com/objectfs/zerofs/internal/tree"
)

// Statfs describes the fixed block-size/block-count tuple statfs
// reports, independent of actual cache occupancy.
type Statfs struct {
	BlockSize  uint32
	TotalBytes uint64
}

// FS wires components C1-C4 together behind the FUSE node tree. It is
// shared by every DirNode and FileNode minted from its Root.
type FS struct {
	tree    *tree.Tree
	cache   *cache.Cache
	queue   *taskqueue.Queue
	store   objectstore.Store
	metrics *metrics.Collector
	log     zerolog.Logger

	uploadDelay time.Duration
	statfs      Statfs
	uid, gid    uint32

	descriptor uint64

	lockMu    sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// New builds an FS over an already-populated tree and already-running
// cache/queue/store. uid/gid are applied to every getattr/lookup result
// as the file owner (single-user mount, matching the spec's
// single-mount assumption). m may be nil, disabling metrics recording.
func New(t *tree.Tree, c *cache.Cache, q *taskqueue.Queue, store objectstore.Store, m *metrics.Collector, uploadDelay time.Duration, statfs Statfs, uid, gid uint32, log zerolog.Logger) *FS {
	return &FS{
		tree:        t,
		cache:       c,
		queue:       q,
		store:       store,
		metrics:     m,
		log:         log.With().Str("component", "fusefs").Logger(),
		uploadDelay: uploadDelay,
		statfs:      statfs,
		uid:         uid,
		gid:         gid,
		fileLocks:   make(map[string]*sync.Mutex),
	}
}

// Root returns the root node for fs.Mount.
func (f *FS) Root() fs.InodeEmbedder {
	return &DirNode{fs: f, path: ""}
}

// nextDescriptor returns the next process-wide file descriptor. It is
// advisory only: no per-descriptor state is kept, so concurrent
// allocation needs no synchronization beyond the atomic increment.
func (f *FS) nextDescriptor() uint64 {
	return atomic.AddUint64(&f.descriptor, 1)
}

// lockFor returns the mutex guarding id's body and object_id, creating
// it on first use. The map grows monotonically; entries for files
// long deleted could in principle be garbage-collected, but are
// harmless to retain (see the spec's Design Notes on this tradeoff).
func (f *FS) lockFor(id string) *sync.Mutex {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()
	l, ok := f.fileLocks[id]
	if !ok {
		l = &sync.Mutex{}
		f.fileLocks[id] = l
	}
	return l
}

// observe times an operation named op and, once it returns via the
// errno pointed to by out, records its latency and pass/fail outcome.
// Called as defer f.observe("read", time.Now(), &errno)() with errno a
// named return value, so the deferred call sees its final value. A nil
// metrics collector makes this a no-op, matching bodyLocked's own
// nil-check for RecordCacheHit.
func (f *FS) observe(op string, start time.Time, out *syscall.Errno) func() {
	return func() {
		if f.metrics == nil {
			return
		}
		f.metrics.ObserveOperation(op, time.Since(start).Seconds(), *out != 0)
	}
}

// bodyLocked reads file's current body from cache, downloading from the
// object store on a miss and inserting it. Caller must hold the lock
// for file.ObjectID.
func (f *FS) bodyLocked(ctx context.Context, path string, file *tree.File) ([]byte, error) {
	body, err := f.cache.Get(file.ObjectID, 0, -1)
	if f.metrics != nil {
		f.metrics.RecordCacheHit(err == nil)
	}
	if err == nil {
		return body, nil
	}
	data, dlErr := f.store.DownloadFile(ctx, path)
	if dlErr != nil {
		return nil, dlErr
	}
	if addErr := f.cache.Add(file.ObjectID, data); addErr != nil {
		return nil, addErr
	}
	return data, nil
}

// submitUpload schedules the debounced background upload for file,
// keyed by its current object id. Must be called while holding the
// per-file lock for that id, matching the write path's lock discipline.
func (f *FS) submitUpload(path string, file *tree.File) {
	id := file.ObjectID
	f.cache.Pin(id)
	err := f.queue.SubmitTask(id, f.uploadDelay, func() error {
		return f.uploadTask(path, id)
	})
	if err != nil {
		f.log.Error().Err(err).Str("path", path).Msg("failed to submit upload task")
		f.cache.Unpin(id)
	}
}

// uploadTask is the task body for _upload_file: read the body cached
// under the id that was current when the task was submitted, PUT it,
// and on success re-key the cache and the tree's File to the
// server-assigned id. If the file's identity has since changed (e.g.
// rewritten after this task was scheduled but the task queue's
// supersession didn't catch it, or the file was deleted), this is a
// no-op past the read.
func (f *FS) uploadTask(path string, id string) error {
	lock := f.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	body, err := f.cache.Get(id, 0, -1)
	if err != nil {
		// The entry is gone (file deleted or already re-keyed by an
		// earlier, somehow-unsuperseded run); nothing more will ever
		// happen for this id.
		f.cache.Unpin(id)
		return nil
	}

	node, err := f.tree.Find(path)
	if err != nil || node.Kind != tree.KindFile || node.File.ObjectID != id {
		// The file was removed, replaced, or already uploaded under
		// this id by a prior run; same reasoning as above.
		f.cache.Unpin(id)
		return nil
	}

	newID, err := f.store.UploadFile(context.Background(), path, body)
	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordUploadRetry()
		}
		// Leave the pin in place: retry.Do will call this fn again (or
		// the task will be re-enqueued), and the body must survive
		// until one of those attempts succeeds or the id is abandoned.
		return err
	}

	if err := f.cache.Add(newID, body); err != nil {
		f.cache.Unpin(id)
		return err
	}
	_ = f.cache.Delete(id)
	f.cache.Unpin(id)

	node.File.ObjectID = newID
	node.File.Size = int64(len(body))
	return nil
}

// spliceAt merges data into body at offset, NUL-padding if offset lies
// beyond the current length, per the write operation's semantics.
func spliceAt(body []byte, data []byte, offset int64) []byte {
	end := offset + int64(len(data))
	if end < int64(len(body)) {
		end = int64(len(body))
	}
	out := make([]byte, end)
	copy(out, body)
	copy(out[offset:], data)
	return out
}

// fillAttr populates out from node's POSIX attributes and size/time
// fields.
func fillAttr(node *tree.Node, uid, gid uint32, out *fuse.Attr) {
	switch node.Kind {
	case tree.KindFile:
		file := node.File
		out.Mode = file.Mode
		out.Size = uint64(file.Size)
		out.Nlink = 1
		setSeconds(&out.Atime, &out.Atimensec, file.Atime)
		setSeconds(&out.Mtime, &out.Mtimensec, file.Mtime)
		setSeconds(&out.Ctime, &out.Ctimensec, file.Ctime)
	case tree.KindDirectory:
		dir := node.Directory
		out.Mode = dir.Mode
		out.Nlink = dir.Nlink()
		mtime := dir.Mtime()
		setSeconds(&out.Atime, &out.Atimensec, dir.Atime)
		setSeconds(&out.Mtime, &out.Mtimensec, mtime)
		setSeconds(&out.Ctime, &out.Ctimensec, mtime)
	}
	out.Owner = fuse.Owner{Uid: uid, Gid: gid}
}

func setSeconds(sec *uint64, nsec *uint32, fractional float64) {
	whole := int64(fractional)
	*sec = uint64(whole)
	*nsec = uint32((fractional - float64(whole)) * 1e9)
}

// nowSeconds returns the current time as fractional Unix seconds, the
// representation tree.File.Mtime/Ctime/Atime use throughout.
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
