package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/your-org/faceforge/internal/analyser"
	"github.com/your-org/faceforge/internal/config"
	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/media"
	"github.com/your-org/faceforge/internal/observability"
	"github.com/your-org/faceforge/internal/pipeline"
	"github.com/your-org/faceforge/internal/processors"
	"github.com/your-org/faceforge/internal/vision"
)

// Progress is passed to the progress callback, at most every 100 ms.
type Progress struct {
	TaskID     string
	TargetPath string
	Processed  int64
	Total      int64
}

// ProgressFunc receives progress updates.
type ProgressFunc func(Progress)

// EventSink publishes task lifecycle and progress events; nil disables.
type EventSink interface {
	PublishLifecycle(ctx context.Context, taskID, state string) error
	PublishProgress(ctx context.Context, p Progress) error
}

// ArtifactSink uploads final outputs; nil disables.
type ArtifactSink interface {
	UploadFile(ctx context.Context, localPath, key, contentType string) error
}

// IdentitySource resolves a stored identity name to an embedding; nil
// disables identity-library lookups.
type IdentitySource interface {
	LoadEmbedding(ctx context.Context, name string) ([]float32, error)
}

const (
	progressInterval       = 100 * time.Millisecond
	checkpointSaveInterval = 2 * time.Second
)

// Runner executes one task configuration end-to-end.
type Runner struct {
	App         *config.Config
	Task        *config.TaskConfig
	Builder     *processors.Builder
	Analyser    *analyser.Analyser
	Checkpoints *CheckpointManager
	Metrics     *Collector
	Shutdown    *ShutdownHandler
	Progress    ProgressFunc
	Events      EventSink
	Artifacts   ArtifactSink
	Identities  IdentitySource

	cancelled atomic.Bool
}

// Cancel asks the runner to drain; partial outputs are preserved so the
// next run resumes from the checkpoint.
func (r *Runner) Cancel() { r.cancelled.Store(true) }

// Run validates, materialises the chain, builds the source identity, and
// processes every target. The first fatal error aborts the task.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Task.Validate(r.App); err != nil {
		return err
	}

	observability.ActiveTasks.Inc()
	defer observability.ActiveTasks.Dec()

	r.publishLifecycle(ctx, "started")

	stages, err := r.buildStages()
	if err != nil {
		r.publishLifecycle(ctx, "failed")
		return err
	}

	meta, err := r.buildSourceMeta(ctx)
	if err != nil {
		r.publishLifecycle(ctx, "failed")
		return err
	}

	for _, target := range r.Task.IO.TargetPaths {
		if r.isCancelled() {
			r.publishLifecycle(ctx, "cancelled")
			return errs.New(errs.CodeTaskCancelled, "task %s cancelled", r.Task.TaskInfo.ID)
		}

		var err error
		if isVideoPath(target) {
			err = r.runVideo(ctx, target, stages, meta)
		} else {
			err = r.runImage(ctx, target, stages, meta)
		}
		if err != nil {
			if errs.CodeOf(err) == errs.CodeTaskCancelled {
				r.publishLifecycle(ctx, "cancelled")
				return err
			}
			if errs.Fatal(err) {
				r.publishLifecycle(ctx, "failed")
				return err
			}
			// Runtime failures skip the media item but keep the task alive.
			slog.Error("target failed", "target", target, "error", err)
			continue
		}
	}

	r.writeMetrics()
	r.publishLifecycle(ctx, "completed")
	return nil
}

func (r *Runner) isCancelled() bool {
	return r.cancelled.Load() || (r.Shutdown != nil && r.Shutdown.Requested())
}

func (r *Runner) buildStages() ([]pipeline.FrameProcessor, error) {
	var stages []pipeline.FrameProcessor
	for _, step := range r.Task.Pipeline {
		if !step.IsEnabled() {
			continue
		}
		stage, err := r.Builder.Build(step)
		if err != nil {
			return nil, err
		}
		stages = append(stages, &timedStage{inner: stage, metrics: r.Metrics})
	}
	if len(stages) == 0 {
		return nil, errs.New(errs.CodeMissingField, "pipeline has no enabled steps")
	}
	return stages, nil
}

// timedStage samples per-step latency around the wrapped processor. The
// sequence id doubles as the per-worker timing token, so concurrent
// workers of the same stage nest correctly.
type timedStage struct {
	inner   pipeline.FrameProcessor
	metrics *Collector
}

func (s *timedStage) Name() string { return s.inner.Name() }

func (s *timedStage) Process(fd *pipeline.FrameData) error {
	token := uint64(fd.SequenceID)
	s.metrics.StartStep(s.inner.Name(), token)
	start := time.Now()
	err := s.inner.Process(fd)
	observability.InferenceDuration.WithLabelValues(s.inner.Name()).Observe(time.Since(start).Seconds())
	s.metrics.EndStep(s.inner.Name(), token)
	return err
}

// buildSourceMeta averages the source-image embeddings (or loads a stored
// identity) into the metadata every frame carries.
func (r *Runner) buildSourceMeta(ctx context.Context) (map[string]any, error) {
	meta := make(map[string]any)

	if name := r.Task.IO.SourceIdentity; name != "" && r.Identities != nil {
		embedding, err := r.Identities.LoadEmbedding(ctx, name)
		if err != nil {
			return nil, err
		}
		meta[processors.MetaSourceEmbedding] = embedding
		return meta, nil
	}

	var faces []*face.Face
	for _, path := range r.Task.IO.SourcePaths {
		frame, err := vision.ReadImage(path)
		if err != nil {
			return nil, err
		}
		f, err := r.Analyser.GetOneFace(frame, 0, analyser.ModeAll, face.SelectorOptions{
			Order: face.OrderBestWorst,
		})
		if err != nil {
			return nil, err
		}
		faces = append(faces, f)

		if _, ok := meta[processors.MetaSourceFrame]; !ok {
			crop, _ := face.WarpByLandmarks5(frame, f.Landmarks5, face.TemplateFFHQ512, 512)
			meta[processors.MetaSourceFrame] = crop
		}
	}

	avg, err := analyser.GetAverageFace(faces)
	if err != nil {
		return nil, err
	}
	meta[processors.MetaSourceEmbedding] = avg.Embedding
	return meta, nil
}

// runImage decodes, pushes one frame through the pipeline, and encodes the
// single output.
func (r *Runner) runImage(ctx context.Context, target string, stages []pipeline.FrameProcessor, meta map[string]any) error {
	frame, err := vision.ReadImage(target)
	if err != nil {
		return err
	}

	pipe := pipeline.New(r.pipeConfig(), stages...)
	pipe.Start()

	fd := &pipeline.FrameData{SequenceID: 0, Frame: frame, Meta: meta}
	pipe.Input().Push(fd)
	pipe.Input().Push(pipeline.NewEOS())

	var out *pipeline.FrameData
	for {
		item, ok := pipe.Output().Pop()
		if !ok {
			return errs.New(errs.CodeProcessorFailed, "pipeline closed before output")
		}
		if item.EOS {
			break
		}
		out = item
	}
	pipe.Wait()

	if out == nil {
		return errs.New(errs.CodeProcessorFailed, "no output frame for %s", target)
	}
	r.countFrame(out)

	outputPath, err := r.resolveOutputPath(target)
	if err != nil {
		return err
	}
	format := r.Task.ImageFormat
	if format == "" {
		format = r.App.Output.ImageFormat
	}
	if err := vision.WriteImage(outputPath, out.Frame, format, 95); err != nil {
		return err
	}

	r.uploadArtifact(ctx, outputPath)
	slog.Info("image written", "output", outputPath)
	return nil
}

// runVideo is the producer / workers / consumer orchestration with
// checkpoint resume and audio remux.
func (r *Runner) runVideo(ctx context.Context, target string, stages []pipeline.FrameProcessor, meta map[string]any) error {
	info, err := media.Probe(ctx, target)
	if err != nil {
		return err
	}

	outputPath, err := r.resolveOutputPath(target)
	if err != nil {
		return err
	}

	total := info.FrameCount
	if r.Task.MaxFrames > 0 && r.Task.MaxFrames < total {
		total = r.Task.MaxFrames
	}
	r.Metrics.SetTotalFrames(total)

	// Resume when a valid checkpoint for this config exists.
	var startFrame int64
	configHash := r.Task.Hash()
	if ckpt := r.Checkpoints.Load(r.Task.TaskInfo.ID, configHash); ckpt != nil {
		startFrame = ckpt.LastCompletedFrame + 1
	}

	reader, err := media.OpenFrameReader(ctx, target, info)
	if err != nil {
		return err
	}
	defer reader.Close()
	if startFrame > 0 {
		if err := reader.Skip(startFrame); err != nil && err != io.EOF {
			return err
		}
	}

	segmentPath, err := media.NextSegmentPath(outputPath)
	if err != nil {
		return err
	}
	writer, err := media.OpenFrameWriter(ctx, segmentPath, info.Width, info.Height, media.WriterOptions{
		Encoder: r.videoEncoder(),
		Quality: r.videoQuality(),
		FPS:     info.FPS,
	})
	if err != nil {
		return err
	}

	pipe := pipeline.New(r.pipeConfig(), stages...)
	pipe.StartAt(startFrame)

	stride := r.Task.FrameStride
	if stride < 1 {
		stride = 1
	}

	// Producer: reads frames, stamps dense sequence ids, pushes.
	go func() {
		seq := startFrame
		read := startFrame
		for {
			if r.isCancelled() {
				break
			}
			if r.Task.MaxFrames > 0 && read >= r.Task.MaxFrames {
				break
			}
			frame, err := reader.ReadFrame()
			if err != nil {
				if err != io.EOF {
					slog.Error("frame read failed", "target", target, "error", err)
				}
				break
			}
			read++
			if (read-1)%int64(stride) != 0 {
				continue
			}
			fd := &pipeline.FrameData{SequenceID: seq, Frame: frame, Meta: meta}
			if !pipe.Input().Push(fd) {
				break
			}
			seq++
		}
		pipe.Input().Push(pipeline.NewEOS())
	}()

	// Consumer: pops in order, writes, updates metrics and checkpoint.
	var processed int64
	var writeErr error
	lastProgress := time.Time{}
	for {
		fd, ok := pipe.Output().Pop()
		if !ok || fd.EOS {
			break
		}
		r.countFrame(fd)

		if writeErr == nil {
			if err := writer.WriteFrame(fd.Frame); err != nil {
				writeErr = err
			}
		}
		processed++
		completed := startFrame + processed - 1

		r.Checkpoints.Save(Checkpoint{
			TaskID:             r.Task.TaskInfo.ID,
			ConfigHash:         configHash,
			LastCompletedFrame: completed,
			TotalFrames:        total,
			OutputPath:         outputPath,
		}, checkpointSaveInterval)

		if r.Progress != nil && time.Since(lastProgress) >= progressInterval {
			lastProgress = time.Now()
			observability.QueueDepth.WithLabelValues("input").Set(float64(pipe.Input().Len()))
			observability.QueueDepth.WithLabelValues("output").Set(float64(pipe.Output().Len()))
			p := Progress{
				TaskID:     r.Task.TaskInfo.ID,
				TargetPath: target,
				Processed:  startFrame + processed,
				Total:      total,
			}
			r.Progress(p)
			r.publishProgress(ctx, p)
		}
	}

	cancelled := r.isCancelled()
	if cancelled {
		pipe.Stop()
	} else {
		pipe.Wait()
	}

	if err := writer.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		return writeErr
	}

	if cancelled {
		// Keep the partial segment and checkpoint for the next run.
		r.Checkpoints.ForceSave(Checkpoint{
			TaskID:             r.Task.TaskInfo.ID,
			ConfigHash:         configHash,
			LastCompletedFrame: startFrame + processed - 1,
			TotalFrames:        total,
			OutputPath:         outputPath,
		})
		r.writeMetrics()
		return errs.New(errs.CodeTaskCancelled, "task %s cancelled at frame %d",
			r.Task.TaskInfo.ID, startFrame+processed)
	}

	if err := r.finaliseVideo(ctx, target, outputPath, info); err != nil {
		return err
	}
	r.Checkpoints.Cleanup(r.Task.TaskInfo.ID)
	r.uploadArtifact(ctx, outputPath)
	slog.Info("video written", "output", outputPath, "frames", processed)
	return nil
}

// finaliseVideo concatenates the segments, remuxes audio per policy, and
// renames into place.
func (r *Runner) finaliseVideo(ctx context.Context, target, outputPath string, info *media.Info) error {
	segments, err := media.ListSegments(outputPath)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errs.New(errs.CodeOutputWriteFailed, "no video segments for %s", outputPath)
	}

	combined := outputPath + ".video.tmp.mp4"
	if err := media.ConcatSegments(ctx, segments, combined); err != nil {
		return err
	}
	defer os.Remove(combined)

	copyAudio := r.audioPolicy() == "Copy" && info.HasAudio
	muxed := outputPath + ".muxed.tmp.mp4"
	if err := media.RemuxAudio(ctx, combined, target, muxed, copyAudio); err != nil {
		return err
	}

	if err := os.Rename(muxed, outputPath); err != nil {
		os.Remove(muxed)
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "rename output %s", outputPath)
	}
	os.RemoveAll(media.SegmentDir(outputPath))
	return nil
}

func (r *Runner) countFrame(fd *pipeline.FrameData) {
	taskID := r.Task.TaskInfo.ID
	switch {
	case fd.Failed:
		r.Metrics.RecordFrameFailed()
		observability.FramesFailed.WithLabelValues(taskID).Inc()
	case fd.Skipped:
		r.Metrics.RecordFrameSkipped()
		observability.FramesSkipped.WithLabelValues(taskID).Inc()
	default:
		r.Metrics.RecordFrameCompleted()
		observability.FramesProcessed.WithLabelValues(taskID).Inc()
	}
}

func (r *Runner) pipeConfig() pipeline.Config {
	threads := r.Task.ThreadCount
	if threads == 0 {
		threads = r.App.Pipeline.ThreadCount
	}
	queueSize := r.Task.MaxQueueSize
	if queueSize == 0 {
		queueSize = r.App.Pipeline.MaxQueueSize
	}
	return pipeline.Config{WorkerCount: threads, MaxQueueSize: queueSize}
}

func (r *Runner) videoEncoder() string {
	if r.Task.VideoEncoder != "" {
		return r.Task.VideoEncoder
	}
	return r.App.Output.VideoEncoder
}

func (r *Runner) videoQuality() int {
	if r.Task.VideoQuality != 0 {
		return r.Task.VideoQuality
	}
	return r.App.Output.VideoQuality
}

func (r *Runner) audioPolicy() string {
	if r.Task.AudioPolicy != "" {
		return r.Task.AudioPolicy
	}
	return r.App.Output.AudioPolicy
}

// resolveOutputPath applies the conflict policy to the configured output
// location. A directory output path gains the target's base name.
func (r *Runner) resolveOutputPath(target string) (string, error) {
	out := r.Task.IO.Output.Path
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		out = filepath.Join(out, filepath.Base(target))
	}

	policy := r.Task.IO.Output.ConflictPolicy
	if policy == "" {
		policy = r.App.Output.ConflictPolicy
	}

	if _, err := os.Stat(out); err != nil {
		return out, nil
	}
	switch policy {
	case "Overwrite":
		return out, nil
	case "Rename":
		ext := filepath.Ext(out)
		base := strings.TrimSuffix(out, ext)
		for i := 1; ; i++ {
			candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
			if _, err := os.Stat(candidate); err != nil {
				return candidate, nil
			}
		}
	}
	return "", errs.New(errs.CodeInvalidPath, "output %s already exists", out)
}

func (r *Runner) writeMetrics() {
	dir := r.App.Models.MetricsDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("create metrics dir", "error", err)
		return
	}
	payload, err := r.Metrics.ToJSON()
	if err != nil {
		slog.Error("serialise metrics", "error", err)
		return
	}
	path := filepath.Join(dir, r.Task.TaskInfo.ID+".metrics.json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		slog.Error("write metrics", "path", path, "error", err)
	}
}

func (r *Runner) publishLifecycle(ctx context.Context, state string) {
	if r.Events == nil {
		return
	}
	if err := r.Events.PublishLifecycle(ctx, r.Task.TaskInfo.ID, state); err != nil {
		slog.Warn("publish lifecycle event", "state", state, "error", err)
	}
}

func (r *Runner) publishProgress(ctx context.Context, p Progress) {
	if r.Events == nil {
		return
	}
	if err := r.Events.PublishProgress(ctx, p); err != nil {
		slog.Warn("publish progress event", "error", err)
	}
}

func (r *Runner) uploadArtifact(ctx context.Context, path string) {
	if r.Artifacts == nil {
		return
	}
	key := fmt.Sprintf("outputs/%s/%s", r.Task.TaskInfo.ID, filepath.Base(path))
	if err := r.Artifacts.UploadFile(ctx, path, key, contentTypeFor(path)); err != nil {
		slog.Warn("artifact upload failed", "path", path, "error", err)
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".mp4":
		return "video/mp4"
	}
	return "application/octet-stream"
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true, ".m4v": true,
}

func isVideoPath(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}
