package task

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ShutdownState is the handler's lifecycle.
type ShutdownState int32

const (
	ShutdownRunning ShutdownState = iota
	ShutdownRequested
	ShutdownCompleted
	ShutdownTimedOut
)

// ShutdownHandler captures SIGINT/SIGTERM and drives a graceful drain:
// Running → Requested → Completed | TimedOut. A watchdog goroutine waits
// for the signal, invokes the shutdown callback in another goroutine, and
// polls the state for at most the timeout before firing the timeout
// callback.
type ShutdownHandler struct {
	state      atomic.Int32
	timeout    time.Duration
	onShutdown func()
	onTimeout  func()

	sigCh     chan os.Signal
	installed bool
	mu        sync.Mutex
}

// NewShutdownHandler builds a handler with the given drain deadline.
func NewShutdownHandler(timeout time.Duration, onShutdown, onTimeout func()) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ShutdownHandler{
		timeout:    timeout,
		onShutdown: onShutdown,
		onTimeout:  onTimeout,
		sigCh:      make(chan os.Signal, 1),
	}
}

// Install registers the signal handlers and starts the watchdog.
func (h *ShutdownHandler) Install() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.installed {
		slog.Warn("shutdown handler already installed")
		return
	}
	h.installed = true

	signal.Notify(h.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go h.watchdog()
}

func (h *ShutdownHandler) watchdog() {
	sig, ok := <-h.sigCh
	if !ok {
		return
	}
	if !h.state.CompareAndSwap(int32(ShutdownRunning), int32(ShutdownRequested)) {
		return
	}
	slog.Warn("shutdown signal received, draining", "signal", sig.String())

	go func() {
		if h.onShutdown != nil {
			h.onShutdown()
		}
	}()

	deadline := time.Now().Add(h.timeout)
	for time.Now().Before(deadline) {
		if h.State() == ShutdownCompleted {
			slog.Info("graceful shutdown completed")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	if h.state.CompareAndSwap(int32(ShutdownRequested), int32(ShutdownTimedOut)) {
		slog.Error("graceful shutdown timed out, forcing termination",
			"timeout", h.timeout)
		if h.onTimeout != nil {
			h.onTimeout()
		}
	}
}

// RequestShutdown triggers the drain without a signal (tests, API).
func (h *ShutdownHandler) RequestShutdown() {
	select {
	case h.sigCh <- syscall.SIGTERM:
	default:
	}
}

// MarkCompleted reports the drain finished before the deadline.
func (h *ShutdownHandler) MarkCompleted() {
	h.state.CompareAndSwap(int32(ShutdownRequested), int32(ShutdownCompleted))
}

// State returns the current lifecycle state.
func (h *ShutdownHandler) State() ShutdownState {
	return ShutdownState(h.state.Load())
}

// Requested reports whether a shutdown is in progress or finished.
func (h *ShutdownHandler) Requested() bool {
	return h.State() != ShutdownRunning
}

// Uninstall detaches the signal handlers.
func (h *ShutdownHandler) Uninstall() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.installed {
		return
	}
	h.installed = false
	signal.Stop(h.sigCh)
}
