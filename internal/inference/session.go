package inference

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// InitRuntime points ORT at the shared library and initialises the
// environment once per process. libPath may be empty to use the default
// lookup for the platform.
func InitRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// DestroyRuntime tears the environment down at process exit.
func DestroyRuntime() {
	_ = ort.DestroyEnvironment()
}

// Session wraps one loaded inference graph. Run is safe for concurrent
// use to the extent the underlying runtime serialises per-session state;
// the pool assumes it does.
type Session struct {
	path       string
	opts       Options
	session    *ort.DynamicAdvancedSession
	inputInfo  []ort.InputOutputInfo
	outputInfo []ort.InputOutputInfo
	loaded     bool
}

// LoadModel opens the model at path under the given options. Fails with
// CodeModelFileMissing when the file is absent and CodeModelLoadFailed on
// any runtime error.
func LoadModel(path string, opts Options) (*Session, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Wrap(errs.CodeModelFileMissing, err, "model file %s", path)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeModelLoadFailed, err, "read model metadata %s", path)
	}

	sessOpts, err := buildSessionOptions(opts)
	if err != nil {
		return nil, errs.Wrap(errs.CodeModelLoadFailed, err, "session options for %s", path)
	}
	defer sessOpts.Destroy()

	inputNames := make([]string, len(inputs))
	for i, in := range inputs {
		inputNames[i] = in.Name
	}
	outputNames := make([]string, len(outputs))
	for i, out := range outputs {
		outputNames[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, sessOpts)
	if err != nil {
		return nil, errs.Wrap(errs.CodeModelLoadFailed, err, "create session for %s", path)
	}

	return &Session{
		path:       path,
		opts:       opts,
		session:    session,
		inputInfo:  inputs,
		outputInfo: outputs,
		loaded:     true,
	}, nil
}

// buildSessionOptions applies execution providers in preference order:
// TensorRT, then CUDA, then CPU. Providers the runtime cannot register are
// skipped with a warning.
func buildSessionOptions(opts Options) (*ort.SessionOptions, error) {
	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if opts.IntraOpThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			sessOpts.Destroy()
			return nil, fmt.Errorf("set intra_op_threads: %w", err)
		}
	}
	if opts.InterOpThreads > 0 {
		if err := sessOpts.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			sessOpts.Destroy()
			return nil, fmt.Errorf("set inter_op_threads: %w", err)
		}
	}

	if opts.wantsProvider(ProviderTensorRT) {
		if err := appendTensorRT(sessOpts, opts); err != nil {
			slog.Warn("tensorrt provider unavailable, skipping", "error", err)
		}
	}
	if opts.wantsProvider(ProviderCUDA) {
		if err := appendCUDA(sessOpts, opts); err != nil {
			slog.Warn("cuda provider unavailable, skipping", "error", err)
		}
	}
	// CPU is always registered implicitly as the final fallback.
	return sessOpts, nil
}

func appendTensorRT(sessOpts *ort.SessionOptions, opts Options) error {
	trtOpts, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return err
	}
	defer trtOpts.Destroy()

	settings := map[string]string{
		"device_id":              strconv.Itoa(opts.DeviceID),
		"trt_max_workspace_size": strconv.FormatInt(int64(opts.TRTWorkspaceMB)*1024*1024, 10),
	}
	if opts.TRTEngineCache {
		settings["trt_engine_cache_enable"] = "1"
		if opts.TRTCachePath != "" {
			settings["trt_engine_cache_path"] = opts.TRTCachePath
		}
	}
	if opts.TRTEmbedEngine {
		settings["trt_dump_ep_context_model"] = "1"
		settings["trt_ep_context_embed_mode"] = "1"
	}
	if err := trtOpts.Update(settings); err != nil {
		return err
	}
	return sessOpts.AppendExecutionProviderTensorRT(trtOpts)
}

func appendCUDA(sessOpts *ort.SessionOptions, opts Options) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()

	if err := cudaOpts.Update(map[string]string{
		"device_id": strconv.Itoa(opts.DeviceID),
	}); err != nil {
		return err
	}
	return sessOpts.AppendExecutionProviderCUDA(cudaOpts)
}

// Run executes one forward pass. Output values are allocated by the
// runtime; the caller must Destroy them.
func (s *Session) Run(inputs []ort.Value) ([]ort.Value, error) {
	if !s.loaded {
		return nil, errs.New(errs.CodeModelLoadFailed, "session for %s is not loaded", s.path)
	}
	outputs := make([]ort.Value, len(s.outputInfo))
	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "run %s", s.path)
	}
	return outputs, nil
}

// InputInfo returns the model's input node metadata.
func (s *Session) InputInfo() []ort.InputOutputInfo { return s.inputInfo }

// OutputInfo returns the model's output node metadata.
func (s *Session) OutputInfo() []ort.InputOutputInfo { return s.outputInfo }

// InputNames returns input node names in declaration order.
func (s *Session) InputNames() []string {
	names := make([]string, len(s.inputInfo))
	for i, in := range s.inputInfo {
		names[i] = in.Name
	}
	return names
}

// OutputNames returns output node names in declaration order.
func (s *Session) OutputNames() []string {
	names := make([]string, len(s.outputInfo))
	for i, out := range s.outputInfo {
		names[i] = out.Name
	}
	return names
}

// InputDims returns the declared shape of input node i. Dynamic axes are
// reported as -1 by the runtime.
func (s *Session) InputDims(i int) []int64 {
	if i < 0 || i >= len(s.inputInfo) {
		return nil
	}
	return []int64(s.inputInfo[i].Dimensions)
}

// SpatialSize returns the (width, height) declared by input node 0 of an
// NCHW model, or the fallback when the axes are dynamic.
func (s *Session) SpatialSize(fallbackW, fallbackH int) (int, int) {
	dims := s.InputDims(0)
	if len(dims) == 4 && dims[2] > 0 && dims[3] > 0 {
		return int(dims[3]), int(dims[2])
	}
	return fallbackW, fallbackH
}

// IsLoaded reports whether the underlying session is live.
func (s *Session) IsLoaded() bool { return s.loaded }

// ModelPath returns the loaded model path.
func (s *Session) ModelPath() string { return s.path }

// Close releases the runtime session.
func (s *Session) Close() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	s.loaded = false
}
