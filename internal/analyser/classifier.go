package analyser

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/vision"
)

const classifierCropSize = 224

// ImageNet statistics, scaled to 8-bit pixel range.
var (
	classifierMean = [3]float32{0.485 * 255, 0.456 * 255, 0.406 * 255}
	classifierStd  = [3]float32{0.229 * 255, 0.224 * 255, 0.225 * 255}
)

// Classification is the FairFace output decoded to domain values.
type Classification struct {
	Age    face.AgeRange
	Gender face.Gender
	Race   face.Race
}

// Classifier predicts age bucket, gender and race via FairFace.
type Classifier struct {
	session *inference.Session
}

// NewClassifier wraps a loaded FairFace session.
func NewClassifier(session *inference.Session) *Classifier {
	return &Classifier{session: session}
}

// Classify warps to the 224² canonical pose, normalises with ImageNet
// statistics, and decodes the three index outputs (race, gender, age).
func (c *Classifier) Classify(frame *vision.Frame, landmarks5 []face.Point) (Classification, error) {
	if len(landmarks5) != 5 {
		return Classification{}, errs.New(errs.CodeFaceNotAligned, "need 5 landmarks, got %d", len(landmarks5))
	}

	crop, _ := face.WarpByLandmarks5(frame, landmarks5, face.TemplateArcFace112v2, classifierCropSize)
	data := crop.ToCHW(classifierMean, classifierStd)

	input, err := ort.NewTensor(ort.NewShape(1, 3, classifierCropSize, classifierCropSize), data)
	if err != nil {
		return Classification{}, errs.Wrap(errs.CodeProcessorFailed, err, "classifier input tensor")
	}
	defer input.Destroy()

	outputs, err := c.session.Run([]ort.Value{input})
	if err != nil {
		return Classification{}, err
	}
	defer destroyAll(outputs)

	if len(outputs) < 3 {
		return Classification{}, errs.New(errs.CodeModelVersionIncompatible,
			"classifier: expected 3 outputs, got %d", len(outputs))
	}

	raceID, err := scalarIndex(outputs[0])
	if err != nil {
		return Classification{}, err
	}
	genderID, err := scalarIndex(outputs[1])
	if err != nil {
		return Classification{}, err
	}
	ageID, err := scalarIndex(outputs[2])
	if err != nil {
		return Classification{}, err
	}

	return Classification{
		Age:    DecodeAge(ageID),
		Gender: DecodeGender(genderID),
		Race:   DecodeRace(raceID),
	}, nil
}

// scalarIndex reads the first element of an int64 or float32 index tensor.
func scalarIndex(v ort.Value) (int64, error) {
	if ids, err := int64Data(v); err == nil {
		if len(ids) == 0 {
			return 0, errs.New(errs.CodeModelVersionIncompatible, "classifier: empty index tensor")
		}
		return ids[0], nil
	}
	fs, err := floatData(v)
	if err != nil || len(fs) == 0 {
		return 0, errs.New(errs.CodeModelVersionIncompatible, "classifier: unreadable index tensor")
	}
	// Argmax over logits when the graph exports them raw.
	best := 0
	for i, f := range fs {
		if f > fs[best] {
			best = i
		}
	}
	return int64(best), nil
}

// DecodeAge maps a FairFace age index to its bucket.
func DecodeAge(id int64) face.AgeRange {
	switch id {
	case 0:
		return face.AgeRange{Min: 0, Max: 2}
	case 1:
		return face.AgeRange{Min: 3, Max: 9}
	case 2:
		return face.AgeRange{Min: 10, Max: 19}
	case 3:
		return face.AgeRange{Min: 20, Max: 29}
	case 4:
		return face.AgeRange{Min: 30, Max: 39}
	case 5:
		return face.AgeRange{Min: 40, Max: 49}
	case 6:
		return face.AgeRange{Min: 50, Max: 59}
	case 7:
		return face.AgeRange{Min: 60, Max: 69}
	}
	return face.AgeRange{Min: 70, Max: 100}
}

// DecodeGender maps a FairFace gender index.
func DecodeGender(id int64) face.Gender {
	if id == 0 {
		return face.GenderMale
	}
	return face.GenderFemale
}

// DecodeRace maps a FairFace race index; the two Asian classes collapse.
func DecodeRace(id int64) face.Race {
	switch id {
	case 1:
		return face.RaceBlack
	case 2:
		return face.RaceLatino
	case 3, 4:
		return face.RaceAsian
	case 5:
		return face.RaceIndian
	case 6:
		return face.RaceArabic
	}
	return face.RaceWhite
}
