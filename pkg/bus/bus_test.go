package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus(t *testing.T, mutate func(*Config)) *Bus {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkerThreads = 2
	cfg.EnableMetrics = false
	if mutate != nil {
		mutate(&cfg)
	}
	b := New(cfg)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)
	return b
}

func TestPublishAndDeliver(t *testing.T) {
	b := testBus(t, nil)

	got := make(chan *Message, 1)
	_, err := b.Subscribe("orders.created", func(msg *Message) error {
		got <- msg
		return nil
	}, nil, 5)
	require.NoError(t, err)

	msg := mustMessage(t, "orders.created")
	require.NoError(t, b.Publish(msg))

	select {
	case delivered := <-got:
		assert.Equal(t, msg.ID, delivered.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPublishValidation(t *testing.T) {
	b := testBus(t, nil)

	assert.ErrorIs(t, b.Publish(nil), ErrInvalidMessage)

	noID := mustMessage(t, "t")
	noID.ID = ""
	assert.ErrorIs(t, b.Publish(noID), ErrInvalidMessage)

	noTopic := mustMessage(t, "t")
	noTopic.Topic = ""
	assert.ErrorIs(t, b.Publish(noTopic), ErrInvalidMessage)

	expired := mustMessage(t, "t")
	expired.TTL = time.Millisecond
	expired.Timestamp = time.Now().Add(-time.Second)
	assert.ErrorIs(t, b.Publish(expired), ErrInvalidMessage)
}

func TestPublishAfterStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMetrics = false
	b := New(cfg)
	require.NoError(t, b.Start())
	b.Stop()

	assert.ErrorIs(t, b.Publish(mustMessage(t, "t")), ErrQueueStopped)
}

func TestHandlerFailureGoesToDeadLetter(t *testing.T) {
	b := testBus(t, nil)

	_, err := b.Subscribe("fail.topic", func(msg *Message) error {
		return errors.New("handler blew up")
	}, nil, 5)
	require.NoError(t, err)

	require.NoError(t, b.Publish(mustMessage(t, "fail.topic")))

	require.Eventually(t, func() bool {
		return b.Stats().Failed == 1
	}, 2*time.Second, 10*time.Millisecond)

	letters := b.DeadLetters(0)
	require.Len(t, letters, 1)
	assert.Equal(t, "fail.topic", letters[0].Topic)
}

func TestNoSubscribersIsSoftByDefault(t *testing.T) {
	b := testBus(t, nil)

	require.NoError(t, b.Publish(mustMessage(t, "nobody.listens")))

	require.Eventually(t, func() bool {
		return b.Stats().Processed == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Zero(t, b.Stats().Failed)
	assert.Empty(t, b.DeadLetters(0))
}

func TestDeadLetterSinkReceivesRecord(t *testing.T) {
	sink := &recordingSink{}
	b := testBus(t, func(cfg *Config) {
		cfg.DeadLetterSink = sink
	})

	_, err := b.Subscribe("t", func(msg *Message) error {
		return errors.New("nope")
	}, nil, 5)
	require.NoError(t, err)

	require.NoError(t, b.Publish(mustMessage(t, "t")))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type recordingSink struct {
	mu      sync.Mutex
	appends int
}

func (s *recordingSink) Append(reason string, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

func TestStopDrainsQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerThreads = 1
	cfg.EnableMetrics = false
	b := New(cfg)
	require.NoError(t, b.Start())

	var mu sync.Mutex
	count := 0
	_, err := b.Subscribe("drain.#", func(msg *Message) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, nil, 5)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Publish(mustMessage(t, "drain.msg")))
	}

	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, count, "drain-on-stop must deliver everything queued")
}

func TestSingleWorkerPerTopicFIFO(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerThreads = 1
	cfg.EnablePriorityQueue = false
	cfg.EnableMetrics = false
	b := New(cfg)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	_, err := b.Subscribe("seq", func(msg *Message) error {
		mu.Lock()
		order = append(order, msg.Headers["n"])
		if len(order) == 10 {
			close(done)
		}
		mu.Unlock()
		return nil
	}, nil, 5)
	require.NoError(t, err)

	for _, n := range []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"} {
		msg, err := NewMessage("seq").Header("n", n).Build()
		require.NoError(t, err)
		require.NoError(t, b.Publish(msg))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, order)
}

func TestStatsCounters(t *testing.T) {
	b := testBus(t, nil)

	_, err := b.Subscribe("ok", func(msg *Message) error { return nil }, nil, 5)
	require.NoError(t, err)

	require.NoError(t, b.Publish(mustMessage(t, "ok")))
	require.NoError(t, b.Publish(mustMessage(t, "ok")))

	require.Eventually(t, func() bool {
		stats := b.Stats()
		return stats.Published == 2 && stats.Processed == 2
	}, 2*time.Second, 10*time.Millisecond)

	b.ResetStats()
	assert.Zero(t, b.Stats().Published)
}
