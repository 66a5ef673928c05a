package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 4; i++ {
		require.True(t, q.Push(i))
	}
	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue[int](1)
	require.True(t, q.Push(1))

	pushed := make(chan struct{})
	go func() {
		q.Push(2)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push should block while full")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := q.Pop()
	require.True(t, ok)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push should complete after pop")
	}
}

func TestQueueShutdownUnblocksPop(t *testing.T) {
	q := NewQueue[int](1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok := q.Pop()
		assert.False(t, ok)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()
	wg.Wait()
}

func TestQueueShutdownUnblocksPush(t *testing.T) {
	q := NewQueue[int](1)
	require.True(t, q.Push(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok := q.Push(2)
		assert.False(t, ok)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()
	wg.Wait()
}

func TestQueueDrainsAfterShutdown(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Shutdown()

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = q.Pop()
	assert.False(t, ok)

	assert.False(t, q.Push(3))
}
