// Package media wraps the external ffmpeg/ffprobe binaries: stream
// probing, raw BGR frame pipes in and out, segment concatenation and
// audio remuxing.
package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/vision"
)

// Info describes a probed video stream.
type Info struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int64
	HasAudio   bool
}

// Probe inspects path with ffprobe.
func Probe(ctx context.Context, path string) (*Info, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height,r_frame_rate,nb_frames",
		"-of", "json", path,
	).Output()
	if err != nil {
		return nil, errs.Wrap(errs.CodeVideoOpenFailed, err, "ffprobe %s", path)
	}

	var probe struct {
		Streams []struct {
			CodecType  string `json:"codec_type"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			NbFrames   string `json:"nb_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, errs.Wrap(errs.CodeVideoOpenFailed, err, "parse ffprobe output for %s", path)
	}

	info := &Info{}
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width = s.Width
				info.Height = s.Height
				info.FPS = parseRate(s.RFrameRate)
				info.FrameCount, _ = strconv.ParseInt(s.NbFrames, 10, 64)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, errs.New(errs.CodeVideoOpenFailed, "%s has no video stream", path)
	}
	if info.FPS == 0 {
		info.FPS = 25
	}
	return info, nil
}

func parseRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// FrameReader demuxes a video into raw BGR frames over a pipe.
type FrameReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	info   *Info
	buf    []byte
}

// OpenFrameReader starts ffmpeg decoding path to bgr24 raw frames.
func OpenFrameReader(ctx context.Context, path string, info *Info) (*FrameReader, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "warning",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.CodeVideoOpenFailed, err, "ffmpeg stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Wrap(errs.CodeVideoOpenFailed, err, "ffmpeg stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.CodeVideoOpenFailed, err, "start ffmpeg for %s", path)
	}
	go logStderr(stderr)

	return &FrameReader{
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, 1<<20),
		info:   info,
		buf:    make([]byte, info.Width*info.Height*3),
	}, nil
}

// ReadFrame returns the next frame, or (nil, io.EOF) at stream end.
func (r *FrameReader) ReadFrame() (*vision.Frame, error) {
	if _, err := io.ReadFull(r.reader, r.buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, errs.Wrap(errs.CodeVideoOpenFailed, err, "read frame")
	}
	pix := make([]uint8, len(r.buf))
	copy(pix, r.buf)
	frame, err := vision.FrameFromPix(r.info.Width, r.info.Height, pix)
	if err != nil {
		return nil, errs.Wrap(errs.CodeVideoOpenFailed, err, "frame buffer")
	}
	return frame, nil
}

// Skip discards n frames.
func (r *FrameReader) Skip(n int64) error {
	for i := int64(0); i < n; i++ {
		if _, err := io.ReadFull(r.reader, r.buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return io.EOF
			}
			return errs.Wrap(errs.CodeVideoOpenFailed, err, "skip frame")
		}
	}
	return nil
}

// Close terminates the decoder.
func (r *FrameReader) Close() {
	r.stdout.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.cmd.Wait()
}

// WriterOptions configure the encoder.
type WriterOptions struct {
	Encoder string
	// Quality is a percentage (0–100) mapped onto the encoder's CRF scale.
	Quality int
	FPS     float64
}

// CRF maps the quality percentage to the 0–51 CRF scale (higher quality,
// lower CRF).
func (o WriterOptions) CRF() int {
	q := o.Quality
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	return (100 - q) * 51 / 100
}

// FrameWriter muxes raw BGR frames into a video file.
type FrameWriter struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	w, h  int
}

// OpenFrameWriter starts ffmpeg encoding raw frames to path.
func OpenFrameWriter(ctx context.Context, path string, w, h int, opts WriterOptions) (*FrameWriter, error) {
	encoder := opts.Encoder
	if encoder == "" {
		encoder = "libx264"
	}
	fps := opts.FPS
	if fps == 0 {
		fps = 25
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "warning", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", encoder,
		"-crf", strconv.Itoa(opts.CRF()),
		"-pix_fmt", "yuv420p",
		path,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.CodeOutputWriteFailed, err, "ffmpeg stdin pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Wrap(errs.CodeOutputWriteFailed, err, "ffmpeg stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.CodeOutputWriteFailed, err, "start encoder for %s", path)
	}
	go logStderr(stderr)

	return &FrameWriter{cmd: cmd, stdin: stdin, w: w, h: h}, nil
}

// WriteFrame encodes one frame; size must match the writer.
func (w *FrameWriter) WriteFrame(f *vision.Frame) error {
	if f.W != w.w || f.H != w.h {
		f = f.Resize(w.w, w.h)
	}
	if _, err := w.stdin.Write(f.Pix); err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "write frame")
	}
	return nil
}

// Close flushes and waits for the encoder.
func (w *FrameWriter) Close() error {
	if err := w.stdin.Close(); err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "close encoder stdin")
	}
	if err := w.cmd.Wait(); err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "encoder exit")
	}
	return nil
}

// SegmentDir returns the partial-output directory for an output path.
func SegmentDir(outputPath string) string { return outputPath + ".parts" }

// NextSegmentPath allocates the next segment file in the parts directory.
func NextSegmentPath(outputPath string) (string, error) {
	dir := SegmentDir(outputPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.CodeOutputWriteFailed, err, "create %s", dir)
	}
	segments, err := ListSegments(outputPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("seg_%04d.mp4", len(segments))), nil
}

// ListSegments returns the existing segment files in order.
func ListSegments(outputPath string) ([]string, error) {
	dir := SegmentDir(outputPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.CodeOutputWriteFailed, err, "read %s", dir)
	}
	var segments []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "seg_") {
			segments = append(segments, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

// ConcatSegments joins the segment files into dst (stream copy).
func ConcatSegments(ctx context.Context, segments []string, dst string) error {
	if len(segments) == 1 {
		return copyFile(segments[0], dst)
	}

	var list bytes.Buffer
	for _, s := range segments {
		abs, err := filepath.Abs(s)
		if err != nil {
			abs = s
		}
		fmt.Fprintf(&list, "file '%s'\n", abs)
	}
	listPath := dst + ".concat.txt"
	if err := os.WriteFile(listPath, list.Bytes(), 0o644); err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "write concat list")
	}
	defer os.Remove(listPath)

	out, err := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "warning", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		dst,
	).CombinedOutput()
	if err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "concat segments: %s", string(out))
	}
	return nil
}

// RemuxAudio copies the video stream of videoPath and the audio stream of
// audioSource into dst. With copyAudio false the video is stream-copied
// alone.
func RemuxAudio(ctx context.Context, videoPath, audioSource, dst string, copyAudio bool) error {
	args := []string{
		"-hide_banner", "-loglevel", "warning", "-y",
		"-i", videoPath,
	}
	if copyAudio {
		args = append(args,
			"-i", audioSource,
			"-map", "0:v:0",
			"-map", "1:a:0?",
			"-c:v", "copy",
			"-c:a", "copy",
		)
	} else {
		args = append(args, "-map", "0:v:0", "-c:v", "copy", "-an")
	}
	args = append(args, dst)

	out, err := exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput()
	if err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "remux: %s", string(out))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "open %s", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "copy to %s", dst)
	}
	return out.Close()
}

func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Warn("ffmpeg", "output", scanner.Text())
	}
}
