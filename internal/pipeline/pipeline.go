package pipeline

import (
	"log/slog"
	"sync"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/vision"
)

// FrameData is the unit of work flowing through the pipeline. Ownership is
// move-only: exactly one stage holds a frame at any time.
type FrameData struct {
	SequenceID int64
	Frame      *vision.Frame
	Meta       map[string]any
	EOS        bool
	Failed     bool
	Skipped    bool
}

// NewEOS builds the end-of-stream sentinel; it carries no image data.
func NewEOS() *FrameData { return &FrameData{SequenceID: -1, EOS: true} }

// FrameProcessor is one pipeline stage's work function.
type FrameProcessor interface {
	Name() string
	Process(fd *FrameData) error
}

// Config sizes the pipeline.
type Config struct {
	WorkerCount  int
	MaxQueueSize int
}

// Pipeline wires input queue → stage workers → ... → output queue. Frames
// leave the output queue in sequence-id order regardless of worker count.
type Pipeline struct {
	stages  []FrameProcessor
	queues  []*Queue[*FrameData]
	cfg     Config
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New builds a pipeline over the given stages.
func New(cfg Config, stages ...FrameProcessor) *Pipeline {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxQueueSize < 1 {
		cfg.MaxQueueSize = 1
	}
	p := &Pipeline{stages: stages, cfg: cfg}
	for i := 0; i <= len(stages); i++ {
		p.queues = append(p.queues, NewQueue[*FrameData](cfg.MaxQueueSize))
	}
	return p
}

// Input is the producer-facing queue.
func (p *Pipeline) Input() *Queue[*FrameData] { return p.queues[0] }

// Output is the consumer-facing queue; frames emerge ordered.
func (p *Pipeline) Output() *Queue[*FrameData] { return p.queues[len(p.queues)-1] }

// Start launches the stage workers with sequence ids beginning at 0.
func (p *Pipeline) Start() { p.StartAt(0) }

// StartAt launches the stage workers. Each stage runs WorkerCount workers
// with a reorder buffer at its output boundary anchored at firstSequence
// (non-zero when a task resumes from a checkpoint). One EOS pushed into
// the input terminates every stage in turn; a single EOS reaches the
// output.
func (p *Pipeline) StartAt(firstSequence int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i, stage := range p.stages {
		in := p.queues[i]
		out := p.queues[i+1]
		p.runStage(stage, in, out, firstSequence)
	}
}

func (p *Pipeline) runStage(stage FrameProcessor, in, out *Queue[*FrameData], firstSequence int64) {
	reorder := newReorderBuffer(out, firstSequence)

	p.wg.Add(p.cfg.WorkerCount)
	var live sync.WaitGroup
	live.Add(p.cfg.WorkerCount)

	for w := 0; w < p.cfg.WorkerCount; w++ {
		go func() {
			defer p.wg.Done()
			defer live.Done()
			for {
				fd, ok := in.Pop()
				if !ok {
					return
				}
				if fd.EOS {
					// Put the sentinel back for sibling workers, then exit;
					// the last worker out forwards a single EOS downstream.
					in.Push(fd)
					return
				}

				if err := stage.Process(fd); err != nil {
					if errs.Recoverable(err) {
						fd.Skipped = true
						slog.Debug("frame passed through", "stage", stage.Name(),
							"seq", fd.SequenceID, "error", err)
					} else {
						fd.Failed = true
						slog.Warn("frame failed", "stage", stage.Name(),
							"seq", fd.SequenceID, "error", err)
					}
				}
				if !reorder.Push(fd) {
					return
				}
			}
		}()
	}

	// Forward exactly one EOS after every worker of this stage exited.
	go func() {
		live.Wait()
		reorder.Flush()
		out.Push(NewEOS())
	}()
}

// Stop shuts every queue down, unblocking all waiters; workers observe the
// closed queues and exit.
func (p *Pipeline) Stop() {
	for _, q := range p.queues {
		q.Shutdown()
	}
	p.wg.Wait()
}

// Wait blocks until every worker exited (after EOS or Stop).
func (p *Pipeline) Wait() { p.wg.Wait() }

// reorderBuffer restores sequence-id order at a stage boundary. Workers
// push completed frames in any order; the buffer releases them downstream
// strictly in sequence.
type reorderBuffer struct {
	mu      sync.Mutex
	out     *Queue[*FrameData]
	pending map[int64]*FrameData
	next    int64
}

func newReorderBuffer(out *Queue[*FrameData], firstSequence int64) *reorderBuffer {
	return &reorderBuffer{out: out, pending: make(map[int64]*FrameData), next: firstSequence}
}

// Push hands a frame to the buffer; any now-contiguous run is forwarded.
// Returns false when the output queue is shut down.
func (b *reorderBuffer) Push(fd *FrameData) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[fd.SequenceID] = fd

	for {
		next, ok := b.pending[b.next]
		if !ok {
			return true
		}
		delete(b.pending, b.next)
		if !b.out.Push(next) {
			return false
		}
		b.next++
	}
}

// Flush forwards any stragglers in sequence order. Called after the last
// worker exits; gaps can only exist if frames were lost to a shutdown.
func (b *reorderBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.pending) > 0 {
		// Find the smallest pending id.
		var min int64
		first := true
		for id := range b.pending {
			if first || id < min {
				min = id
				first = false
			}
		}
		fd := b.pending[min]
		delete(b.pending, min)
		if !b.out.Push(fd) {
			return
		}
	}
}
