package pipeline

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/vision"
)

// jitterStage sleeps a random few milliseconds to scramble worker timing.
type jitterStage struct {
	name      string
	processed atomic.Int64
	fail      func(seq int64) error
}

func (s *jitterStage) Name() string { return s.name }

func (s *jitterStage) Process(fd *FrameData) error {
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	s.processed.Add(1)
	if s.fail != nil {
		return s.fail(fd.SequenceID)
	}
	return nil
}

func pushFrames(p *Pipeline, n int64) {
	go func() {
		for i := int64(0); i < n; i++ {
			fd := &FrameData{SequenceID: i, Frame: vision.NewFrame(2, 2)}
			if !p.Input().Push(fd) {
				return
			}
		}
		p.Input().Push(NewEOS())
	}()
}

func drain(t *testing.T, p *Pipeline) []*FrameData {
	t.Helper()
	var out []*FrameData
	for {
		fd, ok := p.Output().Pop()
		require.True(t, ok, "output closed before EOS")
		if fd.EOS {
			return out
		}
		out = append(out, fd)
	}
}

func TestPipelineOrderingWithConcurrentWorkers(t *testing.T) {
	const n = 100
	stage := &jitterStage{name: "jitter"}
	p := New(Config{WorkerCount: 4, MaxQueueSize: 8}, stage)
	p.Start()

	pushFrames(p, n)
	out := drain(t, p)
	p.Wait()

	require.Len(t, out, n)
	for i, fd := range out {
		assert.Equal(t, int64(i), fd.SequenceID, "frame %d out of order", i)
	}
	assert.Equal(t, int64(n), stage.processed.Load())
}

func TestPipelineMultiStageSingleEOS(t *testing.T) {
	const n = 20
	p := New(Config{WorkerCount: 3, MaxQueueSize: 4},
		&jitterStage{name: "one"},
		&jitterStage{name: "two"},
	)
	p.Start()

	pushFrames(p, n)
	out := drain(t, p)
	p.Wait()

	require.Len(t, out, n)
	for i, fd := range out {
		assert.Equal(t, int64(i), fd.SequenceID)
	}
	// No second EOS: the output queue is empty after the sentinel.
	assert.Equal(t, 0, p.Output().Len())
}

func TestPipelineRecoverablePassthrough(t *testing.T) {
	stage := &jitterStage{
		name: "no-face",
		fail: func(seq int64) error {
			if seq == 1 {
				return errs.New(errs.CodeNoFaceDetected, "no face")
			}
			return nil
		},
	}
	p := New(Config{WorkerCount: 2, MaxQueueSize: 4}, stage)
	p.Start()

	pushFrames(p, 3)
	out := drain(t, p)
	p.Wait()

	require.Len(t, out, 3)
	assert.False(t, out[0].Skipped)
	assert.True(t, out[1].Skipped)
	assert.False(t, out[1].Failed)
	assert.False(t, out[2].Skipped)
}

func TestPipelineFatalMarksFailed(t *testing.T) {
	stage := &jitterStage{
		name: "boom",
		fail: func(seq int64) error {
			if seq == 0 {
				return errs.New(errs.CodeProcessorFailed, "boom")
			}
			return nil
		},
	}
	p := New(Config{WorkerCount: 1, MaxQueueSize: 2}, stage)
	p.Start()

	pushFrames(p, 2)
	out := drain(t, p)
	p.Wait()

	require.Len(t, out, 2)
	assert.True(t, out[0].Failed)
	assert.False(t, out[1].Failed)
}

func TestPipelineStopUnblocksEverything(t *testing.T) {
	p := New(Config{WorkerCount: 2, MaxQueueSize: 2}, &jitterStage{name: "idle"})
	p.Start()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not complete")
	}
}

func TestPipelineStartAtResume(t *testing.T) {
	const start = 31
	const n = 10
	p := New(Config{WorkerCount: 3, MaxQueueSize: 4}, &jitterStage{name: "resume"})
	p.StartAt(start)

	go func() {
		for i := int64(start); i < start+n; i++ {
			p.Input().Push(&FrameData{SequenceID: i, Frame: vision.NewFrame(2, 2)})
		}
		p.Input().Push(NewEOS())
	}()

	out := drain(t, p)
	p.Wait()

	require.Len(t, out, n)
	for i, fd := range out {
		assert.Equal(t, int64(start+i), fd.SequenceID)
	}
}
