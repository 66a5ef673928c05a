package analyser

import (
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

const (
	denseCropSize = 256
	// denseBoxScale maps the longer box edge into the canonical crop,
	// leaving margin for the jaw line.
	denseBoxScale = 195.0
	// claheLuminance triggers contrast enhancement on dim crops.
	claheLuminance = 90.0
)

// DenseLandmarker runs a 68-point heatmap model (2DFAN or PeppaWutz) on a
// canonical 256² crop of the face box.
type DenseLandmarker struct {
	session *inference.Session
	kind    LandmarkerKind
	// coordScale maps model output coordinates to crop pixels: 2DFAN emits
	// in a 64-wide grid, PeppaWutz in normalised [0,1].
	coordScale float64
}

// NewDenseLandmarker wraps a loaded dense landmark session.
func NewDenseLandmarker(session *inference.Session, kind LandmarkerKind) *DenseLandmarker {
	scale := denseCropSize / 64.0
	if kind == LandmarkerPeppaWutz {
		scale = denseCropSize
	}
	return &DenseLandmarker{session: session, kind: kind, coordScale: scale}
}

func (d *DenseLandmarker) Name() string { return string(d.kind) }

// Detect crops the box to the canonical pose, enhances contrast on dim
// crops, runs the model, and maps the 68 points back through the inverse
// affine. The mean heatmap score is remapped linearly to [0, 1].
func (d *DenseLandmarker) Detect(frame *vision.Frame, box face.Rect) (LandmarkResult, error) {
	m := boxToCropAffine(box)
	crop := frame.WarpAffine(m, denseCropSize, denseCropSize)
	if crop.MeanLuminance() < claheLuminance {
		crop = crop.EqualizeCLAHE(2.0)
	}

	data := crop.ToCHW([3]float32{0, 0, 0}, [3]float32{255, 255, 255})
	input, err := ort.NewTensor(ort.NewShape(1, 3, denseCropSize, denseCropSize), data)
	if err != nil {
		return LandmarkResult{}, errs.Wrap(errs.CodeProcessorFailed, err, "%s input tensor", d.kind)
	}
	defer input.Destroy()

	outputs, err := d.session.Run([]ort.Value{input})
	if err != nil {
		return LandmarkResult{}, err
	}
	defer destroyAll(outputs)

	raw, err := floatData(outputs[0])
	if err != nil {
		return LandmarkResult{}, err
	}
	if len(raw) < 68*3 {
		return LandmarkResult{}, errs.New(errs.CodeModelVersionIncompatible,
			"%s: output too small (%d)", d.kind, len(raw))
	}

	inv := m.Invert()
	landmarks := make([]face.Point, 68)
	var scoreSum float64
	for i := 0; i < 68; i++ {
		cx := float64(raw[i*3]) * d.coordScale
		cy := float64(raw[i*3+1]) * d.coordScale
		x, y := inv.Apply(cx, cy)
		landmarks[i] = face.Point{X: x, Y: y}
		scoreSum += float64(raw[i*3+2])
	}

	// Heatmap peaks rarely exceed 0.9; remap that range onto [0, 1].
	score := scoreSum / 68 / 0.9
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	return LandmarkResult{Landmarks68: landmarks, Score: score}, nil
}

// boxToCropAffine builds the similarity transform placing the face box at
// the centre of the canonical crop.
func boxToCropAffine(box face.Rect) vision.Affine {
	longest := math.Max(box.Width(), box.Height())
	if longest <= 0 {
		longest = 1
	}
	scale := denseBoxScale / longest
	cx := (box.X1 + box.X2) / 2
	cy := (box.Y1 + box.Y2) / 2
	half := float64(denseCropSize) / 2

	return vision.Affine{
		scale, 0, half - scale*cx,
		0, scale, half - scale*cy,
	}
}

// Expander68From5 regresses a dense 68-point layout from 5 landmarks via
// the small geometric-regression model.
type Expander68From5 struct {
	session *inference.Session
}

// NewExpander68From5 wraps the loaded regression session.
func NewExpander68From5(session *inference.Session) *Expander68From5 {
	return &Expander68From5{session: session}
}

// Expand normalises the 5 points into template space, runs the model, and
// maps the 68 outputs back to frame coordinates.
func (e *Expander68From5) Expand(landmarks5 []face.Point) ([]face.Point, error) {
	if len(landmarks5) != 5 {
		return nil, errs.New(errs.CodeFaceNotAligned, "need 5 landmarks, got %d", len(landmarks5))
	}

	tpl := face.TemplatePoints(face.TemplateFFHQ512, 1)
	m := face.EstimateSimilarity(landmarks5, tpl[:])

	data := make([]float32, 10)
	for i, p := range landmarks5 {
		x, y := m.Apply(p.X, p.Y)
		data[i*2] = float32(x)
		data[i*2+1] = float32(y)
	}

	input, err := ort.NewTensor(ort.NewShape(1, 5, 2), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "68_from_5 input tensor")
	}
	defer input.Destroy()

	outputs, err := e.session.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	raw, err := floatData(outputs[0])
	if err != nil {
		return nil, err
	}
	if len(raw) < 68*2 {
		return nil, errs.New(errs.CodeModelVersionIncompatible,
			"68_from_5: output too small (%d)", len(raw))
	}

	inv := m.Invert()
	out := make([]face.Point, 68)
	for i := 0; i < 68; i++ {
		x, y := inv.Apply(float64(raw[i*2]), float64(raw[i*2+1]))
		out[i] = face.Point{X: x, Y: y}
	}
	return out, nil
}
