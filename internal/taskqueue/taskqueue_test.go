package taskqueue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/zerofs/pkg/retry"
)

func newTestQueue(t *testing.T, workers int) *Queue {
	t.Helper()
	q, err := New(workers, retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(true) })
	return q
}

func TestNew_RejectsZeroWorkers(t *testing.T) {
	_, err := New(0, retry.DefaultConfig(), zerolog.Nop())
	require.Error(t, err)
}

func TestStart_RejectsDoubleStart(t *testing.T) {
	q := newTestQueue(t, 1)
	assert.Error(t, q.Start())
}

func TestSubmitTask_RunsAfterDelay(t *testing.T) {
	q := newTestQueue(t, 1)
	done := make(chan struct{})
	require.NoError(t, q.SubmitTask("x", 20*time.Millisecond, func() error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

// Scenario 3 from the spec: submitting a newer version for the same
// task_id before the first runs means only the latest version's
// function body executes.
func TestSupersession_OnlyLatestVersionRuns(t *testing.T) {
	q := newTestQueue(t, 1)
	var ran int32
	var lastArg int32

	require.NoError(t, q.SubmitTask("x", time.Second, func() error {
		atomic.AddInt32(&ran, 1)
		atomic.StoreInt32(&lastArg, 1)
		return nil
	}))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, q.SubmitTask("x", time.Second, func() error {
		atomic.AddInt32(&ran, 1)
		atomic.StoreInt32(&lastArg, 2)
		return nil
	}))

	// The single worker discards version 1 after its 1s sleep, then
	// sleeps the 1s floor again for version 2, which runs ~2s in.
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	assert.Equal(t, int32(2), atomic.LoadInt32(&lastArg))
}

// Scenario 4 from the spec: canceling before the delay elapses means fn
// never runs.
func TestCancelTask_PreventsExecution(t *testing.T) {
	q := newTestQueue(t, 1)
	var ran int32
	require.NoError(t, q.SubmitTask("x", time.Second, func() error {
		atomic.AddInt32(&ran, 1)
		return nil
	}))
	time.Sleep(50 * time.Millisecond)
	q.CancelTask("x")

	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}

func TestSubmitTask_FailsWhenStopped(t *testing.T) {
	q, err := New(1, retry.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	err = q.SubmitTask("x", 0, func() error { return nil })
	require.Error(t, err)
}

func TestStop_RejectsDoubleStop(t *testing.T) {
	q, err := New(1, retry.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, q.Start())
	require.NoError(t, q.Stop(true))
	assert.Error(t, q.Stop(true))
}

func TestRetry_RecoversFromTransientFailure(t *testing.T) {
	q := newTestQueue(t, 1)
	var attempts int32
	done := make(chan struct{})
	require.NoError(t, q.SubmitTask("x", 0, func() error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("task never succeeded")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

// A single task_id never has two concurrent executions in flight across
// the worker pool, even with multiple workers: submitting several
// updates in quick succession collapses to exactly one execution.
func TestAtMostOneInFlightPerTaskID(t *testing.T) {
	q := newTestQueue(t, 4)
	var mu sync.Mutex
	executions := 0
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		require.NoError(t, q.SubmitTask("shared", 0, func() error {
			mu.Lock()
			executions++
			mu.Unlock()
			close(done)
			return nil
		}))
	}

	// Four workers each hold one stale version through its 1s sleep;
	// the latest is dequeued only after that and sleeps 1s itself.
	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("task never ran")
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, executions)
}
