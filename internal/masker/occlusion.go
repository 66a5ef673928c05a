package masker

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

// occlusionBlurSigma feathers the thresholded probability map.
const occlusionBlurSigma = 5.0

// OcclusionMasker runs an XSeg-style segmentation model: per-pixel
// probability of the face being occluded at that pixel.
type OcclusionMasker struct {
	session *inference.Session
	inputW  int
	inputH  int
}

// NewOcclusionMasker wraps a loaded XSeg session.
func NewOcclusionMasker(session *inference.Session) *OcclusionMasker {
	w, h := session.SpatialSize(256, 256)
	return &OcclusionMasker{session: session, inputW: w, inputH: h}
}

// Mask produces a cropSize² mask where occluded pixels approach 0 (do not
// swap): threshold the occlusion probability map at 0.5, resize, blur with
// sigma 5, then invert and remap into [0, 1].
func (m *OcclusionMasker) Mask(crop *vision.Frame, cropSize int) (*vision.FloatMask, error) {
	resized := crop.Resize(m.inputW, m.inputH)
	data := resized.ToCHW([3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(m.inputH), int64(m.inputW)), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "occlusion input tensor")
	}
	defer input.Destroy()

	outputs, err := m.session.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	raw, err := floatData(outputs[0])
	if err != nil {
		return nil, err
	}
	if len(raw) < m.inputW*m.inputH {
		return nil, errs.New(errs.CodeModelVersionIncompatible,
			"occlusion: output size %d below %d", len(raw), m.inputW*m.inputH)
	}

	prob := vision.NewFloatMask(m.inputW, m.inputH)
	for i := range prob.Pix {
		if raw[i] > 0.5 {
			prob.Pix[i] = 1
		}
	}

	mask := prob.Resize(cropSize, cropSize).GaussianBlur(occlusionBlurSigma)
	for i, v := range mask.Pix {
		mask.Pix[i] = 1 - v
	}
	mask.Clamp()
	return mask, nil
}

func floatData(v ort.Value) ([]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "output tensor is not float32")
	}
	return t.GetData(), nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
