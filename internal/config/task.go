package config

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/your-org/faceforge/internal/errs"
)

// TaskConfig is one task as read from YAML or JSON. YAML being a superset
// of JSON, a single decoder covers both.
type TaskConfig struct {
	TaskInfo TaskInfo     `yaml:"task_info" json:"task_info"`
	IO       IOConfig     `yaml:"io" json:"io"`
	Pipeline []StepConfig `yaml:"pipeline" json:"pipeline"`

	// Optional overrides; zero values fall back to app-config defaults.
	ThreadCount  int    `yaml:"thread_count,omitempty" json:"thread_count,omitempty"`
	MaxQueueSize int    `yaml:"max_queue_size,omitempty" json:"max_queue_size,omitempty"`
	MaxFrames    int64  `yaml:"max_frames,omitempty" json:"max_frames,omitempty"`
	FrameStride  int    `yaml:"frame_stride,omitempty" json:"frame_stride,omitempty"`
	ImageFormat  string `yaml:"image_format,omitempty" json:"image_format,omitempty"`
	VideoEncoder string `yaml:"video_encoder,omitempty" json:"video_encoder,omitempty"`
	VideoQuality int    `yaml:"video_quality,omitempty" json:"video_quality,omitempty"`
	AudioPolicy  string `yaml:"audio_policy,omitempty" json:"audio_policy,omitempty"`

	Analysis AnalysisOverrides `yaml:"analysis,omitempty" json:"analysis,omitempty"`
}

type TaskInfo struct {
	ID string `yaml:"id" json:"id"`
}

type IOConfig struct {
	SourcePaths []string `yaml:"source_paths" json:"source_paths"`
	// SourceIdentity names a stored identity in the identity library as an
	// alternative to source_paths.
	SourceIdentity string       `yaml:"source_identity,omitempty" json:"source_identity,omitempty"`
	TargetPaths    []string     `yaml:"target_paths" json:"target_paths"`
	Output         OutputTarget `yaml:"output" json:"output"`
}

type OutputTarget struct {
	Path           string `yaml:"path" json:"path"`
	ConflictPolicy string `yaml:"conflict_policy,omitempty" json:"conflict_policy,omitempty"`
}

type AnalysisOverrides struct {
	DetectorScore   float64  `yaml:"detector_score,omitempty" json:"detector_score,omitempty"`
	LandmarkerScore float64  `yaml:"landmarker_score,omitempty" json:"landmarker_score,omitempty"`
	DistanceLimit   float64  `yaml:"distance_limit,omitempty" json:"distance_limit,omitempty"`
	DetectorModels  []string `yaml:"detector_models,omitempty" json:"detector_models,omitempty"`
	LandmarkModels  []string `yaml:"landmark_models,omitempty" json:"landmark_models,omitempty"`
}

// StepConfig is one pipeline entry. Params is decoded lazily into the
// step-specific struct by DecodeParams.
type StepConfig struct {
	Step    string    `yaml:"step" json:"step"`
	Name    string    `yaml:"name" json:"name"`
	Enabled *bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Params  yaml.Node `yaml:"params,omitempty" json:"params,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (s StepConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// Known step kinds.
const (
	StepFaceSwapper        = "face_swapper"
	StepFaceEnhancer       = "face_enhancer"
	StepFrameEnhancer      = "frame_enhancer"
	StepExpressionRestorer = "expression_restorer"
)

// SelectorParams is the face-selection option block shared by face steps.
type SelectorParams struct {
	Mode                string   `yaml:"face_selector_mode" json:"face_selector_mode"` // All|One|Reference
	Order               string   `yaml:"face_selector_order" json:"face_selector_order"`
	Position            int      `yaml:"face_position" json:"face_position"`
	Genders             []string `yaml:"face_selector_genders" json:"face_selector_genders"`
	Races               []string `yaml:"face_selector_races" json:"face_selector_races"`
	AgeStart            int      `yaml:"face_selector_age_start" json:"face_selector_age_start"`
	AgeEnd              int      `yaml:"face_selector_age_end" json:"face_selector_age_end"`
	ReferenceFacePath   string   `yaml:"reference_face_path" json:"reference_face_path"`
	SimilarityThreshold float64  `yaml:"reference_face_distance" json:"reference_face_distance"`
}

// MaskParams selects which masks the compositor intersects.
type MaskParams struct {
	Types          []string `yaml:"mask_types" json:"mask_types"` // box|occlusion|region
	BoxBlur        float64  `yaml:"mask_blur" json:"mask_blur"`
	BoxPadding     [4]int   `yaml:"mask_padding" json:"mask_padding"` // top,right,bottom,left percent
	Regions        []string `yaml:"mask_regions" json:"mask_regions"`
	OcclusionModel string   `yaml:"occlusion_model" json:"occlusion_model"`
	RegionModel    string   `yaml:"region_model" json:"region_model"`
}

type FaceSwapperParams struct {
	Model    string         `yaml:"model" json:"model"`
	Selector SelectorParams `yaml:",inline"`
	Mask     MaskParams     `yaml:",inline"`
}

type FaceEnhancerParams struct {
	Model    string         `yaml:"model" json:"model"`
	Blend    int            `yaml:"blend" json:"blend"`
	Weight   float64        `yaml:"weight" json:"weight"` // CodeFormer only
	Selector SelectorParams `yaml:",inline"`
	Mask     MaskParams     `yaml:",inline"`
}

type FrameEnhancerParams struct {
	Model string `yaml:"model" json:"model"`
	Blend int    `yaml:"blend" json:"blend"`
}

type ExpressionRestorerParams struct {
	Model         string         `yaml:"model" json:"model"`
	RestoreFactor float64        `yaml:"restore_factor" json:"restore_factor"`
	Selector      SelectorParams `yaml:",inline"`
	Mask          MaskParams     `yaml:",inline"`
}

// DecodeParams returns the typed parameter struct for the step kind.
func (s StepConfig) DecodeParams() (any, error) {
	decode := func(dst any) (any, error) {
		if s.Params.Kind == 0 {
			return dst, nil
		}
		if err := s.Params.Decode(dst); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidConfigFile, err,
				"invalid params for step %q", s.Step)
		}
		return dst, nil
	}

	switch s.Step {
	case StepFaceSwapper:
		return decode(&FaceSwapperParams{})
	case StepFaceEnhancer:
		p := &FaceEnhancerParams{Blend: 80, Weight: 1.0}
		return decode(p)
	case StepFrameEnhancer:
		p := &FrameEnhancerParams{Blend: 80}
		return decode(p)
	case StepExpressionRestorer:
		p := &ExpressionRestorerParams{RestoreFactor: 1.0}
		return decode(p)
	}
	return nil, errs.New(errs.CodeMissingField, "unknown pipeline step %q", s.Step)
}

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// LoadTask reads and decodes a task configuration file.
func LoadTask(path string) (*TaskConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileNotFound, err, "read task config %s", path)
	}

	tc := &TaskConfig{}
	if err := yaml.Unmarshal(data, tc); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidConfigFile, err, "parse task config %s", path)
	}
	return tc, nil
}

// Validate checks schema, bounds and paths. app supplies the defaults used
// to resolve optional fields before bounds-checking.
func (t *TaskConfig) Validate(app *Config) error {
	if t.TaskInfo.ID == "" {
		return errs.New(errs.CodeMissingField, "task_info.id is required")
	}
	if !taskIDPattern.MatchString(t.TaskInfo.ID) {
		return errs.New(errs.CodeInvalidPath, "task_info.id %q contains invalid characters", t.TaskInfo.ID)
	}
	if len(t.IO.SourcePaths) == 0 && t.IO.SourceIdentity == "" {
		return errs.New(errs.CodeMissingField, "io.source_paths (or io.source_identity) is required")
	}
	for _, p := range t.IO.SourcePaths {
		if _, err := os.Stat(p); err != nil {
			return errs.Wrap(errs.CodeFileNotFound, err, "source path %s", p)
		}
	}
	if len(t.IO.TargetPaths) == 0 {
		return errs.New(errs.CodeMissingField, "io.target_paths is required")
	}
	for _, p := range t.IO.TargetPaths {
		if _, err := os.Stat(p); err != nil {
			return errs.Wrap(errs.CodeFileNotFound, err, "target path %s", p)
		}
	}
	if t.IO.Output.Path == "" {
		return errs.New(errs.CodeMissingField, "io.output.path is required")
	}
	if len(t.Pipeline) == 0 {
		return errs.New(errs.CodeMissingField, "pipeline must contain at least one step")
	}

	for _, step := range t.Pipeline {
		params, err := step.DecodeParams()
		if err != nil {
			return err
		}
		if err := validateParams(step.Step, params); err != nil {
			return err
		}
	}

	format := t.ImageFormat
	if format == "" {
		format = app.Output.ImageFormat
	}
	switch strings.ToLower(format) {
	case "jpg", "jpeg", "png", "bmp":
	case "webp":
		return errs.New(errs.CodeParameterOutOfRange, "webp output encoding is not supported")
	default:
		return errs.New(errs.CodeParameterOutOfRange, "unknown image format %q", format)
	}

	quality := t.VideoQuality
	if quality == 0 {
		quality = app.Output.VideoQuality
	}
	if quality < 0 || quality > 100 {
		return errs.New(errs.CodeParameterOutOfRange, "video_quality %d outside [0,100]", quality)
	}

	if policy := t.AudioPolicy; policy != "" && policy != "Copy" && policy != "Skip" {
		return errs.New(errs.CodeParameterOutOfRange, "audio_policy %q (want Copy or Skip)", policy)
	}
	if policy := t.IO.Output.ConflictPolicy; policy != "" &&
		policy != "Error" && policy != "Overwrite" && policy != "Rename" {
		return errs.New(errs.CodeParameterOutOfRange, "conflict_policy %q", policy)
	}
	if t.FrameStride < 0 {
		return errs.New(errs.CodeParameterOutOfRange, "frame_stride must be >= 0")
	}

	return nil
}

func validateParams(step string, params any) error {
	checkBlend := func(blend int) error {
		if blend < 0 || blend > 100 {
			return errs.New(errs.CodeParameterOutOfRange, "%s blend %d outside [0,100]", step, blend)
		}
		return nil
	}

	switch p := params.(type) {
	case *FaceSwapperParams:
		if p.Model == "" {
			return errs.New(errs.CodeMissingField, "%s requires a model name", step)
		}
	case *FaceEnhancerParams:
		if p.Model == "" {
			return errs.New(errs.CodeMissingField, "%s requires a model name", step)
		}
		if err := checkBlend(p.Blend); err != nil {
			return err
		}
		if p.Weight < 0 || p.Weight > 1 {
			return errs.New(errs.CodeParameterOutOfRange, "%s weight %.2f outside [0,1]", step, p.Weight)
		}
	case *FrameEnhancerParams:
		if p.Model == "" {
			return errs.New(errs.CodeMissingField, "%s requires a model name", step)
		}
		if err := checkBlend(p.Blend); err != nil {
			return err
		}
	case *ExpressionRestorerParams:
		if p.Model == "" {
			return errs.New(errs.CodeMissingField, "%s requires a model name", step)
		}
		if p.RestoreFactor < 0 || p.RestoreFactor > 1 {
			return errs.New(errs.CodeParameterOutOfRange,
				"%s restore_factor %.2f outside [0,1]", step, p.RestoreFactor)
		}
	}
	return nil
}

// Hash returns the SHA-1 of the canonical JSON form of the task config.
// Checkpoints compare this to decide whether a resume is valid.
func (t *TaskConfig) Hash() string {
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
