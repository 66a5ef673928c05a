package analyser

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

const (
	recognizerCropSize     = 112
	recognizerEmbeddingDim = 512
)

// Recognizer computes ArcFace identity embeddings from a 112² canonical
// warp of the 5 landmarks.
type Recognizer struct {
	session *inference.Session
}

// NewRecognizer wraps a loaded ArcFace session.
func NewRecognizer(session *inference.Session) *Recognizer {
	return &Recognizer{session: session}
}

// Recognize warps the face, normalises pixels to (x/127.5)−1 in RGB order,
// and returns the raw 512-float embedding plus its L2-normalised copy.
func (r *Recognizer) Recognize(frame *vision.Frame, landmarks5 []face.Point) (embedding, normed []float32, err error) {
	if len(landmarks5) != 5 {
		return nil, nil, errs.New(errs.CodeFaceNotAligned, "need 5 landmarks, got %d", len(landmarks5))
	}

	crop, _ := face.WarpByLandmarks5(frame, landmarks5, face.TemplateArcFace112v2, recognizerCropSize)
	data := crop.ToCHW(
		[3]float32{127.5, 127.5, 127.5},
		[3]float32{127.5, 127.5, 127.5},
	)

	input, err := ort.NewTensor(ort.NewShape(1, 3, recognizerCropSize, recognizerCropSize), data)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeProcessorFailed, err, "recognizer input tensor")
	}
	defer input.Destroy()

	outputs, err := r.session.Run([]ort.Value{input})
	if err != nil {
		return nil, nil, err
	}
	defer destroyAll(outputs)

	raw, err := floatData(outputs[0])
	if err != nil {
		return nil, nil, err
	}
	if len(raw) < recognizerEmbeddingDim {
		return nil, nil, errs.New(errs.CodeModelVersionIncompatible,
			"recognizer: embedding size %d", len(raw))
	}

	embedding = make([]float32, recognizerEmbeddingDim)
	copy(embedding, raw)
	return embedding, face.Normalize(embedding), nil
}
