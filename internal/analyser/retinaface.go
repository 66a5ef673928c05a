package analyser

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

// anchor configuration shared by the RetinaFace / SCRFD family.
var detectorStrides = []int{8, 16, 32}

const anchorsPerPosition = 2

// RetinaFace decodes the det_10g-style anchor outputs: per stride, a score
// tensor [N,1], a bbox-distance tensor [N,4] and a landmark tensor [N,10].
type RetinaFace struct {
	session *inference.Session
	inputW  int
	inputH  int
}

// NewRetinaFace wraps a loaded RetinaFace session.
func NewRetinaFace(session *inference.Session) *RetinaFace {
	w, h := session.SpatialSize(640, 640)
	return &RetinaFace{session: session, inputW: w, inputH: h}
}

func (d *RetinaFace) Name() string { return "retinaface" }

// Detect letter-boxes the frame, runs inference, decodes anchor outputs
// and scales boxes and landmarks back to original coordinates.
func (d *RetinaFace) Detect(frame *vision.Frame, scoreThreshold float64) ([]Detection, error) {
	boxed, ratio := frame.Letterbox(d.inputW, d.inputH)
	data := boxed.ToCHW(detectorInputMean, detectorInputStd)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "retinaface input tensor")
	}
	defer input.Destroy()

	outputs, err := d.session.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	if len(outputs) < 9 {
		return nil, errs.New(errs.CodeModelVersionIncompatible,
			"retinaface: expected 9 outputs, got %d", len(outputs))
	}

	var detections []Detection
	for si, stride := range detectorStrides {
		scores, err := floatData(outputs[si])
		if err != nil {
			return nil, err
		}
		bboxes, err := floatData(outputs[si+3])
		if err != nil {
			return nil, err
		}
		landmarks, err := floatData(outputs[si+6])
		if err != nil {
			return nil, err
		}
		detections = append(detections,
			decodeAnchors(scores, bboxes, landmarks, stride, d.inputW, d.inputH, ratio, scoreThreshold)...)
	}
	return detections, nil
}

// decodeAnchors converts distance-coded anchor outputs into detections in
// original-image coordinates (dividing by the letter-box ratio).
func decodeAnchors(scores, bboxes, landmarks []float32, stride, inputW, inputH int, ratio, threshold float64) []Detection {
	fmW := inputW / stride
	fmH := inputH / stride

	var out []Detection
	idx := 0
	for cy := 0; cy < fmH; cy++ {
		for cx := 0; cx < fmW; cx++ {
			for a := 0; a < anchorsPerPosition; a++ {
				if idx >= len(scores) {
					return out
				}
				score := float64(scores[idx])
				if score < threshold {
					idx++
					continue
				}

				anchorX := float64(cx * stride)
				anchorY := float64(cy * stride)
				st := float64(stride)

				box := face.Rect{
					X1: (anchorX - float64(bboxes[idx*4+0])*st) / ratio,
					Y1: (anchorY - float64(bboxes[idx*4+1])*st) / ratio,
					X2: (anchorX + float64(bboxes[idx*4+2])*st) / ratio,
					Y2: (anchorY + float64(bboxes[idx*4+3])*st) / ratio,
				}

				lm := make([]face.Point, 5)
				for li := 0; li < 5; li++ {
					lm[li] = face.Point{
						X: (anchorX + float64(landmarks[idx*10+li*2])*st) / ratio,
						Y: (anchorY + float64(landmarks[idx*10+li*2+1])*st) / ratio,
					}
				}

				out = append(out, Detection{Box: box, Score: score, Landmarks5: lm})
				idx++
			}
		}
	}
	return out
}

func floatData(v ort.Value) ([]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "output tensor is not float32")
	}
	return t.GetData(), nil
}

func int64Data(v ort.Value) ([]int64, error) {
	t, ok := v.(*ort.Tensor[int64])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "output tensor is not int64")
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
