package masker

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

// Face-parser class ids for the BiSeNet layout.
const (
	RegionSkin         = 1
	RegionLeftEyebrow  = 2
	RegionRightEyebrow = 3
	RegionLeftEye      = 4
	RegionRightEye     = 5
	RegionGlasses      = 6
	RegionNose         = 10
	RegionMouth        = 11
	RegionUpperLip     = 12
	RegionLowerLip     = 13
)

// ParseRegion maps the config spelling to a class id; unknown spellings
// return -1.
func ParseRegion(s string) int {
	switch s {
	case "skin":
		return RegionSkin
	case "left-eyebrow":
		return RegionLeftEyebrow
	case "right-eyebrow":
		return RegionRightEyebrow
	case "left-eye":
		return RegionLeftEye
	case "right-eye":
		return RegionRightEye
	case "glasses":
		return RegionGlasses
	case "nose":
		return RegionNose
	case "mouth":
		return RegionMouth
	case "upper-lip":
		return RegionUpperLip
	case "lower-lip":
		return RegionLowerLip
	}
	return -1
}

// RegionMasker runs a BiSeNet face parser and keeps only the pixels whose
// argmax class is in the requested set.
type RegionMasker struct {
	session *inference.Session
	inputW  int
	inputH  int
}

// NewRegionMasker wraps a loaded BiSeNet session.
func NewRegionMasker(session *inference.Session) *RegionMasker {
	w, h := session.SpatialSize(512, 512)
	return &RegionMasker{session: session, inputW: w, inputH: h}
}

// Mask parses the crop and produces a cropSize² binary-then-smoothed mask
// over the whitelisted classes. The parser operates on mirrored input, so
// the map is flipped back before resizing. smoothSigma <= 0 skips the
// final blur.
func (m *RegionMasker) Mask(crop *vision.Frame, cropSize int, classes []int, smoothSigma float64) (*vision.FloatMask, error) {
	if len(classes) == 0 {
		out := vision.NewFloatMask(cropSize, cropSize)
		out.Fill(1)
		return out, nil
	}

	resized := crop.Resize(m.inputW, m.inputH)
	mirrored := vision.NewFrame(resized.W, resized.H)
	for y := 0; y < resized.H; y++ {
		for x := 0; x < resized.W; x++ {
			b, g, r := resized.At(resized.W-1-x, y)
			mirrored.Set(x, y, b, g, r)
		}
	}
	data := mirrored.ToCHW(classifierStats())

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(m.inputH), int64(m.inputW)), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "region input tensor")
	}
	defer input.Destroy()

	outputs, err := m.session.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "region: output is not float32")
	}
	shape := t.GetShape()
	if len(shape) != 4 {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "region: output shape %v", shape)
	}
	numClasses := int(shape[1])
	outH := int(shape[2])
	outW := int(shape[3])
	raw := t.GetData()

	wanted := make(map[int]bool, len(classes))
	for _, c := range classes {
		wanted[c] = true
	}

	mask := vision.NewFloatMask(outW, outH)
	area := outW * outH
	for i := 0; i < area; i++ {
		best := 0
		bestV := raw[i]
		for c := 1; c < numClasses; c++ {
			if v := raw[c*area+i]; v > bestV {
				bestV = v
				best = c
			}
		}
		if wanted[best] {
			mask.Pix[i] = 1
		}
	}

	mask = mask.FlipHorizontal().Resize(cropSize, cropSize)
	if smoothSigma > 0 {
		mask = mask.GaussianBlur(smoothSigma)
	}
	mask.Clamp()
	return mask, nil
}

// classifierStats are the ImageNet statistics the face parser was trained
// with, scaled to 8-bit pixels.
func classifierStats() ([3]float32, [3]float32) {
	return [3]float32{0.485 * 255, 0.456 * 255, 0.406 * 255},
		[3]float32{0.229 * 255, 0.224 * 255, 0.225 * 255}
}
