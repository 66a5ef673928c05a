package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 25, parseRate("25/1"), 1e-9)
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.001)
	assert.InDelta(t, 24, parseRate("24"), 1e-9)
	assert.Zero(t, parseRate("0/0"))
}

func TestWriterOptionsCRF(t *testing.T) {
	assert.Equal(t, 51, WriterOptions{Quality: 0}.CRF())
	assert.Equal(t, 0, WriterOptions{Quality: 100}.CRF())
	assert.Equal(t, 10, WriterOptions{Quality: 80}.CRF())
	// Out-of-range values clamp.
	assert.Equal(t, 51, WriterOptions{Quality: -5}.CRF())
	assert.Equal(t, 0, WriterOptions{Quality: 150}.CRF())
}

func TestSegmentAllocation(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")

	first, err := NextSegmentPath(output)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(SegmentDir(output), "seg_0000.mp4"), first)

	// Simulate a written segment; the next allocation advances.
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))
	second, err := NextSegmentPath(output)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(SegmentDir(output), "seg_0001.mp4"), second)

	segments, err := ListSegments(output)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, segments)
}

func TestListSegmentsEmpty(t *testing.T) {
	segments, err := ListSegments(filepath.Join(t.TempDir(), "never.mp4"))
	require.NoError(t, err)
	assert.Nil(t, segments)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}
