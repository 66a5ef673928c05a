package analyser

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

// YOLOFace decodes the yoloface_8n layout: one output [1, 20, N] where the
// 20 channels are cx, cy, w, h, score and five (x, y, visibility) landmark
// triples, all in model-input pixels.
type YOLOFace struct {
	session *inference.Session
	inputW  int
	inputH  int
}

// NewYOLOFace wraps a loaded YOLOFace session. Models with dynamic spatial
// dims fall back to 640×640.
func NewYOLOFace(session *inference.Session) *YOLOFace {
	w, h := session.SpatialSize(640, 640)
	return &YOLOFace{session: session, inputW: w, inputH: h}
}

func (d *YOLOFace) Name() string { return "yoloface" }

func (d *YOLOFace) Detect(frame *vision.Frame, scoreThreshold float64) ([]Detection, error) {
	boxed, ratio := frame.Letterbox(d.inputW, d.inputH)
	data := boxed.ToCHW(detectorInputMean, detectorInputStd)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "yoloface input tensor")
	}
	defer input.Destroy()

	outputs, err := d.session.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	if len(outputs) < 1 {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "yoloface: no outputs")
	}

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "yoloface: output is not float32")
	}
	shape := t.GetShape()
	if len(shape) != 3 || shape[1] < 5 {
		return nil, errs.New(errs.CodeModelVersionIncompatible,
			"yoloface: unexpected output shape %v", shape)
	}

	channels := int(shape[1])
	n := int(shape[2])
	raw := t.GetData()
	at := func(c, i int) float64 { return float64(raw[c*n+i]) }

	var detections []Detection
	for i := 0; i < n; i++ {
		score := at(4, i)
		if score < scoreThreshold {
			continue
		}

		cx := at(0, i)
		cy := at(1, i)
		w := at(2, i)
		h := at(3, i)

		box := face.Rect{
			X1: (cx - w/2) / ratio,
			Y1: (cy - h/2) / ratio,
			X2: (cx + w/2) / ratio,
			Y2: (cy + h/2) / ratio,
		}

		var lm []face.Point
		if channels >= 20 {
			lm = make([]face.Point, 5)
			for li := 0; li < 5; li++ {
				lm[li] = face.Point{
					X: at(5+li*3, i) / ratio,
					Y: at(5+li*3+1, i) / ratio,
				}
			}
		}

		detections = append(detections, Detection{Box: box, Score: score, Landmarks5: lm})
	}
	return detections, nil
}
