package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	c := NewCollector("task_1")
	c.SetTotalFrames(10)
	c.RecordFrameCompleted()
	c.RecordFrameCompleted()
	c.RecordFrameFailed()
	c.RecordFrameSkipped()

	m := c.Snapshot()
	assert.Equal(t, int64(10), m.Summary.TotalFrames)
	assert.Equal(t, int64(2), m.Summary.ProcessedFrames)
	assert.Equal(t, int64(1), m.Summary.FailedFrames)
	assert.Equal(t, int64(1), m.Summary.SkippedFrames)
}

func TestMetricsStepLatency(t *testing.T) {
	c := NewCollector("task_1")
	for i := 0; i < 5; i++ {
		c.StartStep("swap", uint64(i))
	}
	time.Sleep(5 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.EndStep("swap", uint64(i))
	}

	m := c.Snapshot()
	require.Len(t, m.StepLatency, 1)
	step := m.StepLatency[0]
	assert.Equal(t, "swap", step.StepName)
	assert.Equal(t, 5, step.SampleCount)
	assert.Greater(t, step.AvgMs, 0.0)
	assert.GreaterOrEqual(t, step.P99Ms, step.P50Ms)
	assert.InDelta(t, step.AvgMs*5, step.TotalMs, step.TotalMs*0.01)
}

func TestMetricsConcurrentTokensNest(t *testing.T) {
	c := NewCollector("task_1")
	c.StartStep("detect", 1)
	c.StartStep("detect", 2)
	c.EndStep("detect", 2)
	c.EndStep("detect", 1)
	// Unmatched end is ignored.
	c.EndStep("detect", 3)
	c.EndStep("unknown", 1)

	m := c.Snapshot()
	require.Len(t, m.StepLatency, 1)
	assert.Equal(t, 2, m.StepLatency[0].SampleCount)
}

func TestMetricsGPUSamples(t *testing.T) {
	c := NewCollector("task_1")
	c.SetGPUSampleInterval(0)
	c.RecordGPUMemory(100)
	c.RecordGPUMemory(300)
	c.RecordGPUMemory(200)

	m := c.Snapshot()
	assert.Equal(t, int64(300), m.GPUMemory.PeakMB)
	assert.InDelta(t, 200.0, m.GPUMemory.AvgMB, 1e-9)
	assert.Len(t, m.GPUMemory.Samples, 3)
}

func TestMetricsGPURateLimit(t *testing.T) {
	c := NewCollector("task_1")
	c.SetGPUSampleInterval(time.Hour)
	c.RecordGPUMemory(100)
	c.RecordGPUMemory(200)

	m := c.Snapshot()
	assert.Len(t, m.GPUMemory.Samples, 1)
}

func TestMetricsJSONSchema(t *testing.T) {
	c := NewCollector("task_1")
	c.RecordFrameCompleted()

	payload, err := c.ToJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "1.0", decoded["schema_version"])
	assert.Equal(t, "task_1", decoded["task_id"])
	assert.Contains(t, decoded, "summary")
	assert.Contains(t, decoded, "step_latency")
	assert.Contains(t, decoded, "gpu_memory")
	assert.Contains(t, decoded, "timestamp")
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 5.0, percentile(sorted, 0.50))
	assert.Equal(t, 10.0, percentile(sorted, 0.99))
	assert.Equal(t, 0.0, percentile(nil, 0.5))
}
