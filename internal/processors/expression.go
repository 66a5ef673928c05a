package processors

import (
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

const (
	expressionPoints = 21
	expressionDim    = expressionPoints * 3
	liveCropSize     = 512
	liveFeedSize     = 256
)

// Motion is the decoded motion-extractor output for one crop.
type Motion struct {
	Pitch       float64
	Yaw         float64
	Roll        float64
	Scale       float64
	Translation [3]float64
	Expression  []float32 // 21×3
	Points      []float32 // 21×3 canonical keypoints
}

// ExpressionRestorer transfers the source crop's expression onto the
// processed target crop via the LivePortrait sub-models.
type ExpressionRestorer struct {
	feature   *inference.Session
	motion    *inference.Session
	generator *inference.Session
	// RestoreFactor blends source and target expressions; 1 restores the
	// source expression fully.
	RestoreFactor float64
}

// NewExpressionRestorer wires the three loaded sub-model sessions.
func NewExpressionRestorer(feature, motion, generator *inference.Session) *ExpressionRestorer {
	return &ExpressionRestorer{
		feature:       feature,
		motion:        motion,
		generator:     generator,
		RestoreFactor: 1.0,
	}
}

// CropSize is the canonical crop edge length.
func (e *ExpressionRestorer) CropSize() int { return liveCropSize }

// Restore produces a 512² crop with the target's appearance and pose but
// the blended expression.
func (e *ExpressionRestorer) Restore(sourceCrop, targetCrop *vision.Frame) (*vision.Frame, error) {
	sourceMotion, err := e.extractMotion(sourceCrop)
	if err != nil {
		return nil, err
	}
	targetMotion, err := e.extractMotion(targetCrop)
	if err != nil {
		return nil, err
	}

	volume, err := e.extractFeature(sourceCrop)
	if err != nil {
		return nil, err
	}
	defer volume.Destroy()

	// Source keypoints carry the source's own expression; target keypoints
	// carry the blend, clamped to the model's offset range.
	blended := blendExpressions(sourceMotion.Expression, targetMotion.Expression, e.RestoreFactor)
	blended = LimitExpression(blended)

	sourceKP := transformKeypoints(sourceMotion, sourceMotion.Expression)
	targetKP := transformKeypoints(targetMotion, blended)

	return e.generate(volume, sourceKP, targetKP)
}

func (e *ExpressionRestorer) extractFeature(crop *vision.Frame) (*ort.Tensor[float32], error) {
	feed := crop.Resize(liveFeedSize, liveFeedSize)
	data := feed.ToCHW([3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	input, err := ort.NewTensor(ort.NewShape(1, 3, liveFeedSize, liveFeedSize), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "feature input tensor")
	}
	defer input.Destroy()

	outputs, err := e.feature.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		destroyValues(outputs)
		return nil, errs.New(errs.CodeModelVersionIncompatible, "feature output is not float32")
	}
	for _, v := range outputs[1:] {
		v.Destroy()
	}
	return t, nil
}

func (e *ExpressionRestorer) extractMotion(crop *vision.Frame) (Motion, error) {
	feed := crop.Resize(liveFeedSize, liveFeedSize)
	data := feed.ToCHW([3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	input, err := ort.NewTensor(ort.NewShape(1, 3, liveFeedSize, liveFeedSize), data)
	if err != nil {
		return Motion{}, errs.Wrap(errs.CodeProcessorFailed, err, "motion input tensor")
	}
	defer input.Destroy()

	outputs, err := e.motion.Run([]ort.Value{input})
	if err != nil {
		return Motion{}, err
	}
	defer destroyValues(outputs)

	// Output order: pitch, yaw, roll, translation, expression, scale, points.
	if len(outputs) < 7 {
		return Motion{}, errs.New(errs.CodeModelVersionIncompatible,
			"motion extractor: expected 7 outputs, got %d", len(outputs))
	}

	read := func(i int) ([]float32, error) {
		t, ok := outputs[i].(*ort.Tensor[float32])
		if !ok {
			return nil, errs.New(errs.CodeModelVersionIncompatible, "motion output %d is not float32", i)
		}
		return t.GetData(), nil
	}

	pitch, err := read(0)
	if err != nil {
		return Motion{}, err
	}
	yaw, err := read(1)
	if err != nil {
		return Motion{}, err
	}
	roll, err := read(2)
	if err != nil {
		return Motion{}, err
	}
	translation, err := read(3)
	if err != nil {
		return Motion{}, err
	}
	expression, err := read(4)
	if err != nil {
		return Motion{}, err
	}
	scale, err := read(5)
	if err != nil {
		return Motion{}, err
	}
	points, err := read(6)
	if err != nil {
		return Motion{}, err
	}

	if len(expression) < expressionDim || len(points) < expressionDim || len(translation) < 3 {
		return Motion{}, errs.New(errs.CodeModelVersionIncompatible, "motion extractor output sizes")
	}

	m := Motion{
		Pitch: decodeAngle(pitch),
		Yaw:   decodeAngle(yaw),
		Roll:  decodeAngle(roll),
		Scale: float64(scale[0]),
		Translation: [3]float64{
			float64(translation[0]), float64(translation[1]), float64(translation[2]),
		},
		Expression: append([]float32(nil), expression[:expressionDim]...),
		Points:     append([]float32(nil), points[:expressionDim]...),
	}
	return m, nil
}

// decodeAngle converts a 66-bin softmax head into degrees; single-value
// heads pass through unchanged.
func decodeAngle(data []float32) float64 {
	if len(data) == 1 {
		return float64(data[0])
	}
	// Softmax expectation over bins, each bin spanning 3 degrees, centred.
	var maxV float64 = math.Inf(-1)
	for _, v := range data {
		if float64(v) > maxV {
			maxV = float64(v)
		}
	}
	var sum, acc float64
	for i, v := range data {
		p := math.Exp(float64(v) - maxV)
		sum += p
		acc += p * float64(i)
	}
	if sum == 0 {
		return 0
	}
	return (acc/sum)*3 - 97.5
}

func (e *ExpressionRestorer) generate(volume *ort.Tensor[float32], sourceKP, targetKP []float32) (*vision.Frame, error) {
	kpSource, err := ort.NewTensor(ort.NewShape(1, expressionPoints, 3), sourceKP)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "generator source keypoints")
	}
	defer kpSource.Destroy()

	kpTarget, err := ort.NewTensor(ort.NewShape(1, expressionPoints, 3), targetKP)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "generator target keypoints")
	}
	defer kpTarget.Destroy()

	outputs, err := e.generator.Run([]ort.Value{volume, kpSource, kpTarget})
	if err != nil {
		return nil, err
	}
	defer destroyValues(outputs)

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "generator output is not float32")
	}
	shape := t.GetShape()
	if len(shape) != 4 {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "generator output shape %v", shape)
	}
	return vision.FrameFromCHW(t.GetData(), int(shape[3]), int(shape[2]), 255, 0), nil
}

// transformKeypoints applies rotation (built from pitch/yaw/roll), scale,
// translation and the expression offset to the canonical points.
func transformKeypoints(m Motion, expression []float32) []float32 {
	r := RotationMatrix(m.Pitch, m.Yaw, m.Roll)
	out := make([]float32, expressionDim)
	for i := 0; i < expressionPoints; i++ {
		px := float64(m.Points[i*3])
		py := float64(m.Points[i*3+1])
		pz := float64(m.Points[i*3+2])

		x := r[0][0]*px + r[0][1]*py + r[0][2]*pz
		y := r[1][0]*px + r[1][1]*py + r[1][2]*pz
		z := r[2][0]*px + r[2][1]*py + r[2][2]*pz

		out[i*3] = float32(x*m.Scale + m.Translation[0] + float64(expression[i*3]))
		out[i*3+1] = float32(y*m.Scale + m.Translation[1] + float64(expression[i*3+1]))
		out[i*3+2] = float32(z*m.Scale + m.Translation[2] + float64(expression[i*3+2]))
	}
	return out
}

// RotationMatrix builds R = Rz·Ry·Rx from angles in degrees.
func RotationMatrix(pitch, yaw, roll float64) [3][3]float64 {
	p := pitch * math.Pi / 180
	y := yaw * math.Pi / 180
	r := roll * math.Pi / 180

	rx := [3][3]float64{
		{1, 0, 0},
		{0, math.Cos(p), -math.Sin(p)},
		{0, math.Sin(p), math.Cos(p)},
	}
	ry := [3][3]float64{
		{math.Cos(y), 0, math.Sin(y)},
		{0, 1, 0},
		{-math.Sin(y), 0, math.Cos(y)},
	}
	rz := [3][3]float64{
		{math.Cos(r), -math.Sin(r), 0},
		{math.Sin(r), math.Cos(r), 0},
		{0, 0, 1},
	}
	return matMul(matMul(rz, ry), rx)
}

func matMul(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

// blendExpressions mixes source and target expression offsets:
// factor 1 keeps the source expression, 0 keeps the target's.
func blendExpressions(source, target []float32, factor float64) []float32 {
	out := make([]float32, expressionDim)
	for i := range out {
		out[i] = float32(float64(source[i])*factor + float64(target[i])*(1-factor))
	}
	return out
}

// LimitExpression clamps each offset element-wise to the model's range.
func LimitExpression(expression []float32) []float32 {
	out := make([]float32, len(expression))
	for i, v := range expression {
		lo := expressionMin[i]
		hi := expressionMax[i]
		if v < lo {
			v = lo
		}
		if v > hi {
			v = hi
		}
		out[i] = v
	}
	return out
}
