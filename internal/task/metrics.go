package task

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

// MetricsSchemaVersion tags the exported JSON.
const MetricsSchemaVersion = "1.0"

// StepLatency summarises the samples of one named step.
type StepLatency struct {
	StepName    string  `json:"step_name"`
	AvgMs       float64 `json:"avg_ms"`
	P50Ms       float64 `json:"p50_ms"`
	P99Ms       float64 `json:"p99_ms"`
	TotalMs     float64 `json:"total_ms"`
	SampleCount int     `json:"sample_count"`
}

// GPUSample is one timestamped memory reading.
type GPUSample struct {
	ElapsedMs int64 `json:"elapsed_ms"`
	UsageMB   int64 `json:"usage_mb"`
}

// Summary carries the frame counters.
type Summary struct {
	TotalFrames     int64 `json:"total_frames"`
	ProcessedFrames int64 `json:"processed_frames"`
	FailedFrames    int64 `json:"failed_frames"`
	SkippedFrames   int64 `json:"skipped_frames"`
}

// Metrics is the exported snapshot.
type Metrics struct {
	SchemaVersion string        `json:"schema_version"`
	TaskID        string        `json:"task_id"`
	Timestamp     string        `json:"timestamp"`
	DurationMs    float64       `json:"duration_ms"`
	Summary       Summary       `json:"summary"`
	StepLatency   []StepLatency `json:"step_latency"`
	GPUMemory     struct {
		PeakMB  int64       `json:"peak_mb"`
		AvgMB   float64     `json:"avg_mb"`
		Samples []GPUSample `json:"samples"`
	} `json:"gpu_memory"`
}

// Collector accumulates per-task counters, step latencies and GPU memory
// samples. Step timing is per-goroutine-token so concurrent workers nest.
type Collector struct {
	mu         sync.Mutex
	taskID     string
	start      time.Time
	summary    Summary
	stepStarts map[string]map[uint64]time.Time
	samples    map[string][]float64

	gpuSamples    []GPUSample
	gpuPeak       int64
	gpuSum        int64
	gpuCount      int64
	gpuInterval   time.Duration
	lastGPUSample time.Time
}

// NewCollector starts the task clock.
func NewCollector(taskID string) *Collector {
	now := time.Now()
	return &Collector{
		taskID:        taskID,
		start:         now,
		stepStarts:    make(map[string]map[uint64]time.Time),
		samples:       make(map[string][]float64),
		gpuInterval:   time.Second,
		lastGPUSample: now.Add(-time.Hour),
	}
}

// SetTotalFrames records the expected frame count.
func (c *Collector) SetTotalFrames(total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.TotalFrames = total
}

// SetGPUSampleInterval rate-limits RecordGPUMemory.
func (c *Collector) SetGPUSampleInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gpuInterval = interval
}

// StartStep marks the step's start for the calling worker. token
// distinguishes concurrent workers of the same step.
func (c *Collector) StartStep(step string, token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	starts, ok := c.stepStarts[step]
	if !ok {
		starts = make(map[uint64]time.Time)
		c.stepStarts[step] = starts
	}
	starts[token] = time.Now()
}

// EndStep records the elapsed time since the matching StartStep.
func (c *Collector) EndStep(step string, token uint64) {
	end := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	starts, ok := c.stepStarts[step]
	if !ok {
		return
	}
	start, ok := starts[token]
	if !ok {
		return
	}
	delete(starts, token)
	c.samples[step] = append(c.samples[step], float64(end.Sub(start))/float64(time.Millisecond))
}

// TimeStep wraps fn with StartStep/EndStep.
func (c *Collector) TimeStep(step string, token uint64, fn func()) {
	c.StartStep(step, token)
	defer c.EndStep(step, token)
	fn()
}

// RecordFrameCompleted increments the processed counter.
func (c *Collector) RecordFrameCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.ProcessedFrames++
}

// RecordFrameFailed increments the failed counter.
func (c *Collector) RecordFrameFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.FailedFrames++
}

// RecordFrameSkipped increments the skipped counter.
func (c *Collector) RecordFrameSkipped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.SkippedFrames++
}

// RecordGPUMemory stores a memory sample, rate-limited.
func (c *Collector) RecordGPUMemory(usageMB int64) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastGPUSample) < c.gpuInterval {
		return
	}
	c.lastGPUSample = now
	c.gpuSamples = append(c.gpuSamples, GPUSample{
		ElapsedMs: now.Sub(c.start).Milliseconds(),
		UsageMB:   usageMB,
	})
	if usageMB > c.gpuPeak {
		c.gpuPeak = usageMB
	}
	c.gpuSum += usageMB
	c.gpuCount++
}

// Snapshot builds the exported metrics view.
func (c *Collector) Snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		SchemaVersion: MetricsSchemaVersion,
		TaskID:        c.taskID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		DurationMs:    float64(time.Since(c.start)) / float64(time.Millisecond),
		Summary:       c.summary,
	}

	steps := make([]string, 0, len(c.samples))
	for step := range c.samples {
		steps = append(steps, step)
	}
	sort.Strings(steps)

	for _, step := range steps {
		samples := append([]float64(nil), c.samples[step]...)
		sort.Float64s(samples)

		var total float64
		for _, s := range samples {
			total += s
		}
		n := len(samples)
		m.StepLatency = append(m.StepLatency, StepLatency{
			StepName:    step,
			AvgMs:       total / float64(n),
			P50Ms:       percentile(samples, 0.50),
			P99Ms:       percentile(samples, 0.99),
			TotalMs:     total,
			SampleCount: n,
		})
	}

	m.GPUMemory.PeakMB = c.gpuPeak
	if c.gpuCount > 0 {
		m.GPUMemory.AvgMB = float64(c.gpuSum) / float64(c.gpuCount)
	}
	m.GPUMemory.Samples = append([]GPUSample(nil), c.gpuSamples...)
	return m
}

// ToJSON serialises the snapshot.
func (c *Collector) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c.Snapshot(), "", "  ")
}

// percentile reads the p-quantile from sorted samples (nearest-rank).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
