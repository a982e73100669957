package jobs

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolPushPop(t *testing.T) {
	pool := NewPool()

	require.NoError(t, pool.Push(NewJob(PriorityNormal, func() error { return nil })))
	require.NoError(t, pool.Push(NewJob(PriorityHigh, func() error { return nil })))
	assert.Equal(t, 2, pool.Total())

	assert.True(t, pool.Contain(PriorityHigh, nil))
	assert.False(t, pool.Contain(PriorityTop, nil))
	assert.True(t, pool.Contain(PriorityTop, []Priority{PriorityNormal}))

	job := pool.Pop(PriorityHigh, nil)
	require.NotNil(t, job)
	assert.Equal(t, PriorityHigh, job.Priority())

	assert.Nil(t, pool.Pop(PriorityHigh, nil))
	job = pool.Pop(PriorityHigh, []Priority{PriorityNormal})
	require.NotNil(t, job)
	assert.Equal(t, PriorityNormal, job.Priority())
}

func TestPoolLockedRejectsPush(t *testing.T) {
	pool := NewPool()
	pool.Lock()
	err := pool.Push(NewJob(PriorityNormal, func() error { return nil }))
	assert.ErrorIs(t, err, ErrPoolLocked)

	pool.Unlock()
	assert.NoError(t, pool.Push(NewJob(PriorityNormal, func() error { return nil })))
}

func TestPoolNotificationOnPushAndEmpty(t *testing.T) {
	pool := NewPool()

	var mu sync.Mutex
	var notified []Priority
	require.NoError(t, pool.AppendNotification("probe", func(p Priority) {
		mu.Lock()
		notified = append(notified, p)
		mu.Unlock()
	}))

	require.NoError(t, pool.Push(NewJob(PriorityLow, func() error { return nil })))
	require.NotNil(t, pool.Pop(PriorityLow, nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notified, 2)
	assert.Equal(t, PriorityLow, notified[0])
	assert.Equal(t, PriorityNone, notified[1])
}

func TestNotificationIDsMustBeUnique(t *testing.T) {
	pool := NewPool()
	require.NoError(t, pool.AppendNotification("dup", func(Priority) {}))
	assert.Error(t, pool.AppendNotification("dup", func(Priority) {}))

	pool.RemoveNotification("dup")
	assert.NoError(t, pool.AppendNotification("dup", func(Priority) {}))
}

func TestSingleWorkerFIFO(t *testing.T) {
	tp := NewThreadPool()
	tp.Append(NewWorker(PriorityNormal), false)

	const n = 50
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		require.NoError(t, tp.Push(NewJob(PriorityNormal, func() error {
			mu.Lock()
			order = append(order, i)
			if len(order) == n {
				close(done)
			}
			mu.Unlock()
			return nil
		})))
	}

	tp.Start()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not finish")
	}
	tp.Stop(false)

	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "bucket order must be FIFO")
	}
}

func TestHigherPriorityDispatchedFirst(t *testing.T) {
	tp := NewThreadPool()
	// One worker draining every bucket, top first.
	tp.Append(NewWorker(PriorityTop, PriorityHigh, PriorityNormal, PriorityLow), false)

	var mu sync.Mutex
	var order []Priority
	done := make(chan struct{})
	record := func(p Priority) func() error {
		return func() error {
			mu.Lock()
			order = append(order, p)
			if len(order) == 4 {
				close(done)
			}
			mu.Unlock()
			return nil
		}
	}

	require.NoError(t, tp.Push(NewJob(PriorityLow, record(PriorityLow))))
	require.NoError(t, tp.Push(NewJob(PriorityNormal, record(PriorityNormal))))
	require.NoError(t, tp.Push(NewJob(PriorityHigh, record(PriorityHigh))))
	require.NoError(t, tp.Push(NewJob(PriorityTop, record(PriorityTop))))

	tp.Start()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not finish")
	}
	tp.Stop(false)

	assert.Equal(t, []Priority{PriorityTop, PriorityHigh, PriorityNormal, PriorityLow}, order)
}

func TestWorkerWakesOnPush(t *testing.T) {
	tp := NewThreadPool()
	tp.Append(NewWorker(PriorityNormal), false)
	tp.Start()
	defer tp.Stop(false)

	ran := make(chan struct{})
	require.NoError(t, tp.Push(NewJob(PriorityNormal, func() error {
		close(ran)
		return nil
	})))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not wake for pushed job")
	}
}

func TestStopWithDrainRunsQueuedJobs(t *testing.T) {
	tp := NewThreadPool()
	tp.Append(NewWorker(PriorityNormal), false)

	var mu sync.Mutex
	count := 0
	for i := 0; i < 20; i++ {
		require.NoError(t, tp.Push(NewJob(PriorityNormal, func() error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})))
	}

	tp.Start()
	tp.Stop(true)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, count, "drain must run every queued job")
}

func TestStopImmediateDiscardsQueuedJobs(t *testing.T) {
	tp := NewThreadPool()
	tp.Append(NewWorker(PriorityNormal), false)
	// Not started: queued jobs must be discarded, not run.
	var mu sync.Mutex
	count := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, tp.Push(NewJob(PriorityNormal, func() error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})))
	}

	tp.Stop(false)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
	assert.Zero(t, tp.Pool().Total())
}

func TestStopReturnsPromptly(t *testing.T) {
	tp := NewThreadPoolWithCounts(2, 2, 1)
	tp.Start()

	done := make(chan struct{})
	go func() {
		tp.Stop(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop deadlocked")
	}
}

func TestJobPanicIsFailure(t *testing.T) {
	job := NewJob(PriorityNormal, func() error {
		panic("boom")
	})
	err := job.Work(PriorityNormal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestDataJobReceivesPayload(t *testing.T) {
	var got []byte
	job := NewDataJob(PriorityNormal, []byte("payload"), func(data []byte) error {
		got = data
		return nil
	})
	require.NoError(t, job.Work(PriorityNormal))
	assert.Equal(t, []byte("payload"), got)
}

func TestPoolJobCanEnqueueFollowUp(t *testing.T) {
	pool := NewPool()
	job := NewPoolJob(PriorityNormal, []byte("x"), func(p *Pool, data []byte) error {
		return p.Push(NewJob(PriorityLow, func() error { return nil }))
	})
	require.NoError(t, pool.Push(job))

	popped := pool.Pop(PriorityNormal, nil)
	require.NotNil(t, popped)
	require.NoError(t, popped.Work(PriorityNormal))
	assert.Equal(t, 1, pool.Total())
}

func TestJobSpillAndReload(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("spilled payload bytes")

	var got []byte
	job := NewDataJob(PriorityLow, payload, func(data []byte) error {
		got = data
		return nil
	})
	require.NoError(t, job.Spill(dir))
	assert.Nil(t, job.Data(), "payload must leave memory after spill")

	files, err := os.ReadDir(fmt.Sprintf("%s/%d", dir, int(PriorityLow)))
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, job.Work(PriorityNormal))
	assert.Equal(t, payload, got)

	// The spill file is removed after the run.
	files, err = os.ReadDir(fmt.Sprintf("%s/%d", dir, int(PriorityLow)))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestJobWithoutCallableFails(t *testing.T) {
	job := &Job{priority: PriorityNormal}
	assert.Error(t, job.Work(PriorityNormal))
}

func TestWorkerFailedJobDoesNotStopWorker(t *testing.T) {
	tp := NewThreadPool()
	tp.Append(NewWorker(PriorityNormal), false)
	tp.Start()
	defer tp.Stop(false)

	ran := make(chan struct{})
	require.NoError(t, tp.Push(NewJob(PriorityNormal, func() error {
		return errors.New("handler failure")
	})))
	require.NoError(t, tp.Push(NewJob(PriorityNormal, func() error {
		close(ran)
		return nil
	})))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after failed job")
	}
}
