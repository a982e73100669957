package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMessage(t *testing.T, topic string) *Message {
	t.Helper()
	msg, err := NewMessage(topic).Build()
	require.NoError(t, err)
	return msg
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 10})

	require.NoError(t, q.Enqueue(mustMessage(t, "a")))
	require.NoError(t, q.Enqueue(mustMessage(t, "b")))
	require.NoError(t, q.Enqueue(mustMessage(t, "c")))

	for _, want := range []string{"a", "b", "c"} {
		msg, err := q.TryDequeue()
		require.NoError(t, err)
		assert.Equal(t, want, msg.Topic)
	}
}

func TestQueueFullRejects(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 2})
	require.NoError(t, q.Enqueue(mustMessage(t, "a")))
	require.NoError(t, q.Enqueue(mustMessage(t, "b")))

	err := q.Enqueue(mustMessage(t, "c"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Size())
}

func TestQueueDropOnFullEvictsOldest(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 2, DropOnFull: true})
	require.NoError(t, q.Enqueue(mustMessage(t, "a")))
	require.NoError(t, q.Enqueue(mustMessage(t, "b")))
	require.NoError(t, q.Enqueue(mustMessage(t, "c")))

	msg, err := q.TryDequeue()
	require.NoError(t, err)
	assert.Equal(t, "b", msg.Topic, "oldest must have been evicted")
}

func TestPriorityQueueOrdersHighestFirst(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 10, EnablePriority: true})

	low := mustMessage(t, "low")
	low.Priority = PriorityLow
	critical := mustMessage(t, "critical")
	critical.Priority = PriorityCritical
	normal := mustMessage(t, "normal")
	normal.Priority = PriorityNormal

	require.NoError(t, q.Enqueue(low))
	require.NoError(t, q.Enqueue(critical))
	require.NoError(t, q.Enqueue(normal))

	for _, want := range []string{"critical", "normal", "low"} {
		msg, err := q.TryDequeue()
		require.NoError(t, err)
		assert.Equal(t, want, msg.Topic)
	}
}

func TestPriorityQueueStableWithinPriority(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 10, EnablePriority: true})
	for _, topic := range []string{"first", "second", "third"} {
		require.NoError(t, q.Enqueue(mustMessage(t, topic)))
	}
	for _, want := range []string{"first", "second", "third"} {
		msg, err := q.TryDequeue()
		require.NoError(t, err)
		assert.Equal(t, want, msg.Topic)
	}
}

func TestPriorityQueueCannotDropOldest(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 1, EnablePriority: true, DropOnFull: true})
	require.NoError(t, q.Enqueue(mustMessage(t, "a")))
	assert.ErrorIs(t, q.Enqueue(mustMessage(t, "b")), ErrQueueFull)
}

func TestDequeueTimeout(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 10})

	start := time.Now()
	_, err := q.Dequeue(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 10})

	got := make(chan *Message, 1)
	go func() {
		msg, err := q.Dequeue(5 * time.Second)
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Enqueue(mustMessage(t, "wake")))

	select {
	case msg := <-got:
		assert.Equal(t, "wake", msg.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake")
	}
}

func TestStopWakesAllWaiters(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 10})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Dequeue(10 * time.Second)
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	q.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiters did not wake on stop")
	}

	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrQueueStopped)
	}
}

func TestStoppedQueueStillDrainable(t *testing.T) {
	q := NewQueue(QueueConfig{MaxSize: 10})
	require.NoError(t, q.Enqueue(mustMessage(t, "leftover")))
	q.Stop()

	assert.ErrorIs(t, q.Enqueue(mustMessage(t, "rejected")), ErrQueueStopped)

	msg, err := q.TryDequeue()
	require.NoError(t, err)
	assert.Equal(t, "leftover", msg.Topic)

	_, err = q.TryDequeue()
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestMessageExpiry(t *testing.T) {
	msg := mustMessage(t, "ttl")
	assert.False(t, msg.IsExpired())

	msg.TTL = time.Millisecond
	msg.Timestamp = time.Now().Add(-time.Second)
	assert.True(t, msg.IsExpired())
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewMessage("").Build()
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msg, err := NewMessage("ok").Source("svc").Header("k", "v").Build()
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "svc", msg.Source)
	assert.Equal(t, "v", msg.Headers["k"])
	assert.NotNil(t, msg.Payload)
}
