package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownGracefulCompletion(t *testing.T) {
	var drained atomic.Bool
	h := NewShutdownHandler(2*time.Second, func() {
		drained.Store(true)
	}, func() {
		t.Error("timeout callback must not fire")
	})
	h.Install()
	defer h.Uninstall()

	require.Equal(t, ShutdownRunning, h.State())
	h.RequestShutdown()

	require.Eventually(t, func() bool {
		return h.State() == ShutdownRequested && drained.Load()
	}, time.Second, 10*time.Millisecond)

	h.MarkCompleted()
	assert.Equal(t, ShutdownCompleted, h.State())
	assert.True(t, h.Requested())
}

func TestShutdownTimeout(t *testing.T) {
	var timedOut atomic.Bool
	h := NewShutdownHandler(150*time.Millisecond,
		func() {
			// Never reports completion.
			time.Sleep(time.Hour)
		},
		func() {
			timedOut.Store(true)
		},
	)
	h.Install()
	defer h.Uninstall()

	h.RequestShutdown()

	require.Eventually(t, func() bool {
		return h.State() == ShutdownTimedOut
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, timedOut.Load())
}

func TestShutdownMarkCompletedOnlyFromRequested(t *testing.T) {
	h := NewShutdownHandler(time.Second, nil, nil)
	h.MarkCompleted()
	assert.Equal(t, ShutdownRunning, h.State(), "completion before a request is ignored")
}
