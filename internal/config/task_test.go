package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceforge/internal/errs"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func appDefaults(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func validTask(t *testing.T, dir string) *TaskConfig {
	t.Helper()
	source := writeFile(t, dir, "source.jpg", "x")
	target := writeFile(t, dir, "target.jpg", "x")
	taskPath := writeFile(t, dir, "task.yaml", `
task_info:
  id: swap_demo
io:
  source_paths: ["`+source+`"]
  target_paths: ["`+target+`"]
  output:
    path: "`+filepath.Join(dir, "out.jpg")+`"
pipeline:
  - step: face_swapper
    name: swap
    params:
      model: inswapper_128
`)
	tc, err := LoadTask(taskPath)
	require.NoError(t, err)
	return tc
}

func TestTaskValidateOK(t *testing.T) {
	tc := validTask(t, t.TempDir())
	assert.NoError(t, tc.Validate(appDefaults(t)))
}

func TestTaskValidateJSONForm(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "s.jpg", "x")
	target := writeFile(t, dir, "t.jpg", "x")
	taskPath := writeFile(t, dir, "task.json", `{
		"task_info": {"id": "json_task"},
		"io": {
			"source_paths": ["`+source+`"],
			"target_paths": ["`+target+`"],
			"output": {"path": "`+filepath.Join(dir, "o.jpg")+`"}
		},
		"pipeline": [{"step": "face_enhancer", "name": "enh", "params": {"model": "gfpgan_1.4"}}]
	}`)

	tc, err := LoadTask(taskPath)
	require.NoError(t, err)
	assert.NoError(t, tc.Validate(appDefaults(t)))
}

func TestTaskInvalidIDRejected(t *testing.T) {
	tc := validTask(t, t.TempDir())
	tc.TaskInfo.ID = "bad id!"
	err := tc.Validate(appDefaults(t))
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidPath, errs.CodeOf(err))
}

func TestTaskMissingSourcesRejected(t *testing.T) {
	tc := validTask(t, t.TempDir())
	tc.IO.SourcePaths = nil
	err := tc.Validate(appDefaults(t))
	assert.Equal(t, errs.CodeMissingField, errs.CodeOf(err))

	// A stored identity name substitutes for source paths.
	tc.IO.SourceIdentity = "alice"
	assert.NoError(t, tc.Validate(appDefaults(t)))
}

func TestTaskMissingTargetFileRejected(t *testing.T) {
	tc := validTask(t, t.TempDir())
	tc.IO.TargetPaths = []string{"/nonexistent/frame.png"}
	err := tc.Validate(appDefaults(t))
	assert.Equal(t, errs.CodeFileNotFound, errs.CodeOf(err))
}

func TestTaskEmptyPipelineRejected(t *testing.T) {
	tc := validTask(t, t.TempDir())
	tc.Pipeline = nil
	err := tc.Validate(appDefaults(t))
	assert.Equal(t, errs.CodeMissingField, errs.CodeOf(err))
}

func TestTaskWebpOutputRejected(t *testing.T) {
	tc := validTask(t, t.TempDir())
	tc.ImageFormat = "webp"
	err := tc.Validate(appDefaults(t))
	assert.Equal(t, errs.CodeParameterOutOfRange, errs.CodeOf(err))
}

func TestTaskQualityBounds(t *testing.T) {
	tc := validTask(t, t.TempDir())
	tc.VideoQuality = 101
	err := tc.Validate(appDefaults(t))
	assert.Equal(t, errs.CodeParameterOutOfRange, errs.CodeOf(err))
}

func TestTaskBadAudioPolicy(t *testing.T) {
	tc := validTask(t, t.TempDir())
	tc.AudioPolicy = "Mute"
	err := tc.Validate(appDefaults(t))
	assert.Equal(t, errs.CodeParameterOutOfRange, errs.CodeOf(err))
}

func TestStepParamsDecode(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "s.jpg", "x")
	target := writeFile(t, dir, "t.jpg", "x")
	taskPath := writeFile(t, dir, "task.yaml", `
task_info:
  id: chain
io:
  source_paths: ["`+source+`"]
  target_paths: ["`+target+`"]
  output:
    path: "`+filepath.Join(dir, "o.mp4")+`"
pipeline:
  - step: face_swapper
    name: swap
    params:
      model: inswapper_128
      face_selector_mode: one
  - step: face_enhancer
    name: enhance
    params:
      model: codeformer
      blend: 60
      weight: 0.7
  - step: frame_enhancer
    name: upscale
    enabled: false
    params:
      model: real_esrgan_x4
`)
	tc, err := LoadTask(taskPath)
	require.NoError(t, err)
	require.NoError(t, tc.Validate(appDefaults(t)))

	swap, err := tc.Pipeline[0].DecodeParams()
	require.NoError(t, err)
	assert.Equal(t, "inswapper_128", swap.(*FaceSwapperParams).Model)
	assert.Equal(t, "one", swap.(*FaceSwapperParams).Selector.Mode)

	enh, err := tc.Pipeline[1].DecodeParams()
	require.NoError(t, err)
	assert.Equal(t, 60, enh.(*FaceEnhancerParams).Blend)
	assert.InDelta(t, 0.7, enh.(*FaceEnhancerParams).Weight, 1e-9)

	assert.True(t, tc.Pipeline[0].IsEnabled())
	assert.False(t, tc.Pipeline[2].IsEnabled())
}

func TestEnhancerDefaults(t *testing.T) {
	step := StepConfig{Step: StepFaceEnhancer}
	params, err := step.DecodeParams()
	require.NoError(t, err)
	p := params.(*FaceEnhancerParams)
	assert.Equal(t, 80, p.Blend)
	assert.InDelta(t, 1.0, p.Weight, 1e-9)
}

func TestUnknownStepRejected(t *testing.T) {
	step := StepConfig{Step: "face_inverter"}
	_, err := step.DecodeParams()
	assert.Equal(t, errs.CodeMissingField, errs.CodeOf(err))
}

func TestTaskHashStability(t *testing.T) {
	dir := t.TempDir()
	a := validTask(t, dir)
	assert.Equal(t, a.Hash(), a.Hash())

	b := validTask(t, dir)
	assert.Equal(t, a.Hash(), b.Hash(), "identical configs hash identically")

	b.VideoQuality = 42
	assert.NotEqual(t, a.Hash(), b.Hash())
}
