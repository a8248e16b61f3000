// Package taskqueue implements component C3: a single-flight, delayed,
// retrying background task executor with task-level supersession, used
// to debounce uploads so that rapid successive writes to the same file
// coalesce into one background upload.
package taskqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/objectfs/zerofs/pkg/retry"
	"github.com/objectfs/zerofs/pkg/zferrors"
)

// Func is the work a task performs. It re-looks-up whatever it needs
// through a closure over the caller's state, so a concurrent rename or
// delete of the underlying file remains observable.
type Func func() error

// runState tracks Queue's start/stop lifecycle.
type runState int

const (
	stopped runState = iota
	running
)

// item is one entry in the delay-ordered priority queue.
type item struct {
	taskID  string
	version uint64
	readyAt time.Time
	fn      Func
	isStop  bool
	index   int
}

// Queue schedules debounced work keyed by a logical task id: submissions
// for the same id coalesce to the latest version, failures retry with
// exponential backoff, and supersession (not a per-id mutex) keeps at
// most one execution of the latest version in flight.
type Queue struct {
	numWorkers int
	retry      retry.Config
	log        zerolog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	pq    taskHeap
	state runState

	versionMu sync.Mutex
	versions  map[string]uint64

	wg sync.WaitGroup
}

// New creates a Queue with the given worker count. workers must be >= 1.
func New(workers int, retryConfig retry.Config, log zerolog.Logger) (*Queue, error) {
	if workers < 1 {
		return nil, zferrors.Config("task queue requires at least one worker")
	}
	q := &Queue{
		numWorkers: workers,
		retry:      retryConfig,
		log:        log.With().Str("component", "taskqueue").Logger(),
		versions:   make(map[string]uint64),
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Start transitions STOPPED -> RUNNING and spawns the worker pool. It
// fails if the queue is already running.
func (q *Queue) Start() error {
	q.mu.Lock()
	if q.state == running {
		q.mu.Unlock()
		return zferrors.Config("task queue is already running")
	}
	q.state = running
	q.mu.Unlock()

	for i := 0; i < q.numWorkers; i++ {
		q.wg.Add(1)
		go q.runWorker(i)
	}
	return nil
}

// Stop transitions RUNNING -> STOPPED. If finishOngoing is false, pending
// (not-yet-dequeued) tasks are discarded first. It fails if the queue is
// already stopped.
func (q *Queue) Stop(finishOngoing bool) error {
	q.mu.Lock()
	if q.state == stopped {
		q.mu.Unlock()
		return zferrors.Config("task queue is already stopped")
	}
	if !finishOngoing {
		q.pq = nil
	}
	// Sentinels sort after every real task, so workers drain whatever is
	// still pending before they exit.
	for i := 0; i < q.numWorkers; i++ {
		heap.Push(&q.pq, &item{isStop: true, readyAt: time.Unix(1<<62, 0)})
	}
	q.state = stopped
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// SubmitTask schedules fn to run after delay, keyed by id. A submission
// for an id already pending supersedes it: the new submission gets a
// later version number, and the worker loop discards stale versions it
// encounters.
func (q *Queue) SubmitTask(id string, delay time.Duration, fn Func) error {
	q.mu.Lock()
	if q.state != running {
		q.mu.Unlock()
		return zferrors.Config("task queue is not running")
	}
	q.mu.Unlock()

	version := q.bumpVersion(id)

	q.mu.Lock()
	heap.Push(&q.pq, &item{
		taskID:  id,
		version: version,
		readyAt: time.Now().Add(delay),
		fn:      fn,
	})
	q.cond.Signal()
	q.mu.Unlock()

	q.log.Debug().Str("task_id", id).Uint64("version", version).Dur("delay", delay).Msg("submitted task")
	return nil
}

// CancelTask supersedes any pending task for id without scheduling a
// replacement. A task already past its second supersession check (mid
// fn execution) is not interrupted.
func (q *Queue) CancelTask(id string) {
	q.bumpVersion(id)
	q.log.Debug().Str("task_id", id).Msg("canceled task")
}

func (q *Queue) bumpVersion(id string) uint64 {
	q.versionMu.Lock()
	defer q.versionMu.Unlock()
	q.versions[id]++
	return q.versions[id]
}

// currentVersion reads the latest version recorded for id, without
// bumping it.
func (q *Queue) currentVersion(id string) uint64 {
	q.versionMu.Lock()
	defer q.versionMu.Unlock()
	return q.versions[id]
}

func (q *Queue) runWorker(i int) {
	defer q.wg.Done()
	log := q.log.With().Int("worker", i).Logger()
	log.Debug().Msg("worker started")

	for {
		it := q.dequeue()
		if it == nil {
			log.Debug().Msg("worker stopping")
			return
		}
		if it.isStop {
			log.Debug().Msg("worker received stop sentinel")
			return
		}
		q.process(it, log)
	}
}

// dequeue blocks until an item is available and pops it. It never
// returns nil: a worker leaves its loop by popping one of the stop
// sentinels Stop pushes, one per worker.
func (q *Queue) dequeue() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pq) == 0 {
		q.cond.Wait()
	}
	return heap.Pop(&q.pq).(*item)
}

func (q *Queue) process(it *item, log zerolog.Logger) {
	if q.currentVersion(it.taskID) > it.version {
		log.Debug().Str("task_id", it.taskID).Msg("task superseded before sleep")
		return
	}

	sleep := time.Until(it.readyAt)
	if sleep < time.Second {
		sleep = time.Second
	}
	time.Sleep(sleep)

	if q.currentVersion(it.taskID) > it.version {
		log.Debug().Str("task_id", it.taskID).Msg("task superseded after sleep")
		return
	}

	r := retry.New(q.retry)
	err := r.Do(context.Background(), it.fn)
	if err != nil {
		log.Error().Err(err).Str("task_id", it.taskID).Msg("task failed after retries, re-enqueueing")
		// Re-enqueue after a post-failure delay rather than at the
		// original readyAt, so a persistently failing task is not
		// immediately eligible again.
		const requeueDelay = time.Minute
		it.readyAt = time.Now().Add(requeueDelay)
		q.mu.Lock()
		heap.Push(&q.pq, it)
		q.cond.Signal()
		q.mu.Unlock()
		return
	}
	log.Debug().Str("task_id", it.taskID).Msg("task completed")
}

// taskHeap implements container/heap.Interface, ordered by readyAt.
type taskHeap []*item

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
