package analyser

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

// SCRFD shares the RetinaFace anchor decode but its output tensors carry a
// leading batch dimension: per stride, scores [1,N,1], bboxes [1,N,4],
// landmarks [1,N,10]. The flat data layout is identical, so the decoder is
// reused as-is.
type SCRFD struct {
	session *inference.Session
	inputW  int
	inputH  int
}

// NewSCRFD wraps a loaded SCRFD session.
func NewSCRFD(session *inference.Session) *SCRFD {
	w, h := session.SpatialSize(640, 640)
	return &SCRFD{session: session, inputW: w, inputH: h}
}

func (d *SCRFD) Name() string { return "scrfd" }

func (d *SCRFD) Detect(frame *vision.Frame, scoreThreshold float64) ([]Detection, error) {
	boxed, ratio := frame.Letterbox(d.inputW, d.inputH)
	data := boxed.ToCHW(detectorInputMean, detectorInputStd)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "scrfd input tensor")
	}
	defer input.Destroy()

	outputs, err := d.session.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer destroyAll(outputs)

	if len(outputs) < 9 {
		return nil, errs.New(errs.CodeModelVersionIncompatible,
			"scrfd: expected 9 outputs, got %d", len(outputs))
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
