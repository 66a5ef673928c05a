package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceforge/internal/config"
	"github.com/your-org/faceforge/internal/errs"
)

func testRunner(t *testing.T, conflictPolicy string) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	app, err := config.Load("")
	require.NoError(t, err)

	runner := &Runner{
		App: app,
		Task: &config.TaskConfig{
			TaskInfo: config.TaskInfo{ID: "t1"},
			IO: config.IOConfig{
				Output: config.OutputTarget{
					Path:           filepath.Join(dir, "out.mp4"),
					ConflictPolicy: conflictPolicy,
				},
			},
		},
		Metrics: NewCollector("t1"),
	}
	return runner, dir
}

func TestResolveOutputPathFresh(t *testing.T) {
	runner, dir := testRunner(t, "")
	out, err := runner.resolveOutputPath("input.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.mp4"), out)
}

func TestResolveOutputPathConflictError(t *testing.T) {
	runner, dir := testRunner(t, "Error")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.mp4"), []byte("x"), 0o644))

	_, err := runner.resolveOutputPath("input.mp4")
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidPath, errs.CodeOf(err))
}

func TestResolveOutputPathOverwrite(t *testing.T) {
	runner, dir := testRunner(t, "Overwrite")
	existing := filepath.Join(dir, "out.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	out, err := runner.resolveOutputPath("input.mp4")
	require.NoError(t, err)
	assert.Equal(t, existing, out)
}

func TestResolveOutputPathRename(t *testing.T) {
	runner, dir := testRunner(t, "Rename")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.mp4"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out_1.mp4"), []byte("x"), 0o644))

	out, err := runner.resolveOutputPath("input.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out_2.mp4"), out)
}

func TestResolveOutputPathDirectoryTarget(t *testing.T) {
	runner, dir := testRunner(t, "")
	runner.Task.IO.Output.Path = dir

	out, err := runner.resolveOutputPath("/videos/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), out)
}

func TestIsVideoPath(t *testing.T) {
	assert.True(t, isVideoPath("a.mp4"))
	assert.True(t, isVideoPath("B.MKV"))
	assert.False(t, isVideoPath("a.jpg"))
	assert.False(t, isVideoPath("noext"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", contentTypeFor("x.jpg"))
	assert.Equal(t, "video/mp4", contentTypeFor("x.mp4"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("x.bin"))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	runner, _ := testRunner(t, "")
	runner.Task.TaskInfo.ID = "bad id!"

	err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidPath, errs.CodeOf(err))
}

func TestCancelFlag(t *testing.T) {
	runner, _ := testRunner(t, "")
	assert.False(t, runner.isCancelled())
	runner.Cancel()
	assert.True(t, runner.isCancelled())
}
