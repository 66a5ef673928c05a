package processors

import (
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

const swapEmbeddingDim = 512

// InSwapper applies the InSwapper-128 identity transfer to a canonical
// 128² target crop. The model file embeds a 512×512 projection matrix as
// its last initializer; it is extracted once at load and applied to the
// source embedding on every call.
type InSwapper struct {
	session *inference.Session
	size    int

	matrixOnce sync.Once
	matrix     []float32
	matrixErr  error
}

// NewInSwapper wraps a loaded swap session.
func NewInSwapper(session *inference.Session) *InSwapper {
	w, _ := session.SpatialSize(128, 128)
	return &InSwapper{session: session, size: w}
}

// CropSize is the model's canonical crop edge length.
func (s *InSwapper) CropSize() int { return s.size }

func (s *InSwapper) loadMatrix() ([]float32, error) {
	s.matrixOnce.Do(func() {
		s.matrix, s.matrixErr = extractLastInitializer(s.session.ModelPath())
		if s.matrixErr == nil && len(s.matrix) != swapEmbeddingDim*swapEmbeddingDim {
			s.matrixErr = errs.New(errs.CodeModelVersionIncompatible,
				"swap matrix has %d elements, want %d", len(s.matrix), swapEmbeddingDim*swapEmbeddingDim)
		}
	})
	return s.matrix, s.matrixErr
}

// ProjectEmbedding maps the raw source embedding through the stored
// matrix: projected = (source · matrix) / ‖source‖.
func (s *InSwapper) ProjectEmbedding(source []float32) ([]float32, error) {
	matrix, err := s.loadMatrix()
	if err != nil {
		return nil, err
	}
	return projectEmbedding(source, matrix), nil
}

func projectEmbedding(source, matrix []float32) []float32 {
	dim := len(source)
	var normSq float64
	for _, v := range source {
		normSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(normSq)
	if norm == 0 {
		norm = 1
	}

	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		var sum float64
		for j := 0; j < dim; j++ {
			sum += float64(source[j]) * float64(matrix[j*dim+i])
		}
		out[i] = float32(sum / norm)
	}
	return out
}

// SwapFace runs one swap: crop must be size² BGR; the result is the same
// size with the source identity applied.
func (s *InSwapper) SwapFace(crop *vision.Frame, source []float32) (*vision.Frame, error) {
	if len(source) != swapEmbeddingDim {
		return nil, errs.New(errs.CodeProcessorFailed,
			"source embedding has %d floats, want %d", len(source), swapEmbeddingDim)
	}

	projected, err := s.ProjectEmbedding(source)
	if err != nil {
		return nil, err
	}

	// Pixels in [0, 1], std 1, RGB planar.
	target := crop.Resize(s.size, s.size)
	imageData := target.ToCHW([3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	// The graph declares "source" and "target" inputs in model order.
	names := s.session.InputNames()
	inputs := make([]ort.Value, len(names))
	var created []ort.Value
	defer func() {
		for _, v := range created {
			v.Destroy()
		}
	}()

	for i, name := range names {
		var t ort.Value
		var err error
		switch name {
		case "source":
			t, err = ort.NewTensor(ort.NewShape(1, swapEmbeddingDim), projected)
		case "target":
			t, err = ort.NewTensor(ort.NewShape(1, 3, int64(s.size), int64(s.size)), imageData)
		default:
			return nil, errs.New(errs.CodeModelVersionIncompatible, "unexpected swap input %q", name)
		}
		if err != nil {
			return nil, errs.Wrap(errs.CodeProcessorFailed, err, "swap input tensor %q", name)
		}
		created = append(created, t)
		inputs[i] = t
	}

	outputs, err := s.session.Run(inputs)
	if err != nil {
		return nil, err
	}
	defer destroyValues(outputs)

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "swap output is not float32")
	}
	shape := t.GetShape()
	if len(shape) != 4 {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "swap output shape %v", shape)
	}
	outH := int(shape[2])
	outW := int(shape[3])

	return vision.FrameFromCHW(t.GetData(), outW, outH, 255, 0), nil
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
