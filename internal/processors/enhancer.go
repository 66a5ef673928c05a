package processors

import (
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

// EnhancerKind distinguishes the face-restoration model families.
type EnhancerKind int

const (
	EnhancerGFPGAN EnhancerKind = iota
	EnhancerCodeFormer
)

// ParseEnhancerKind maps a model name to its family.
func ParseEnhancerKind(model string) EnhancerKind {
	if strings.Contains(model, "codeformer") {
		return EnhancerCodeFormer
	}
	return EnhancerGFPGAN
}

// FaceEnhancer restores a canonical 512² face crop through GFPGAN or
// CodeFormer. CodeFormer takes an extra fidelity weight input.
type FaceEnhancer struct {
	session *inference.Session
	kind    EnhancerKind
	size    int
	// Weight trades fidelity for quality on CodeFormer; [0, 1], default 1.
	Weight float64
}

// NewFaceEnhancer wraps a loaded restoration session.
func NewFaceEnhancer(session *inference.Session, kind EnhancerKind) *FaceEnhancer {
	w, _ := session.SpatialSize(512, 512)
	return &FaceEnhancer{session: session, kind: kind, size: w, Weight: 1.0}
}

// CropSize is the model's canonical crop edge length.
func (e *FaceEnhancer) CropSize() int { return e.size }

// EnhanceFace restores one crop: pixels scaled to (x/127.5)−1 RGB planar
// in, output decoded with (y+1)×127.5 clamped to [0, 255].
func (e *FaceEnhancer) EnhanceFace(crop *vision.Frame) (*vision.Frame, error) {
	target := crop.Resize(e.size, e.size)
	data := target.ToCHW(
		[3]float32{127.5, 127.5, 127.5},
		[3]float32{127.5, 127.5, 127.5},
	)

	var created []ort.Value
	defer func() {
		for _, v := range created {
			v.Destroy()
		}
	}()

	names := e.session.InputNames()
	inputs := make([]ort.Value, len(names))
	for i, name := range names {
		var t ort.Value
		var err error
		if e.kind == EnhancerCodeFormer && (name == "weight" || name == "w") {
			t, err = ort.NewTensor(ort.NewShape(1), []float64{e.Weight})
		} else {
			t, err = ort.NewTensor(ort.NewShape(1, 3, int64(e.size), int64(e.size)), data)
		}
		if err != nil {
			return nil, errs.Wrap(errs.CodeProcessorFailed, err, "enhancer input tensor %q", name)
		}
		created = append(created, t)
		inputs[i] = t
	}

	outputs, err := e.session.Run(inputs)
	if err != nil {
		return nil, err
	}
	defer destroyValues(outputs)

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "enhancer output is not float32")
	}
	shape := t.GetShape()
	if len(shape) != 4 {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "enhancer output shape %v", shape)
	}
	outH := int(shape[2])
	outW := int(shape[3])

	// (y + 1) * 127.5, clamped by the frame conversion.
	return vision.FrameFromCHW(t.GetData(), outW, outH, 127.5, 127.5), nil
}
