package analyser

import (
	"log/slog"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/vision"
)

// Mode selects which sub-analyses run per detected face.
type Mode int

const (
	ModeLandmark Mode = 1 << iota
	ModeEmbed
	ModeClassify

	ModeAll = ModeLandmark | ModeEmbed | ModeClassify
)

// Config names the models the analyser obtains lazily from the registry.
type Config struct {
	DetectorModels  []string
	LandmarkModels  []string
	ExpanderModel   string
	RecognizerModel string
	ClassifierModel string

	DetectorScore   float64
	LandmarkerScore float64
}

// Analyser is the composite detection → landmark → recognise → classify
// pipeline. It owns no session directly; every sub-component comes from
// the face model registry.
type Analyser struct {
	registry *ModelRegistry
	store    *face.Store
	cfg      Config
}

// New builds an analyser over a registry and a face store.
func New(registry *ModelRegistry, store *face.Store, cfg Config) *Analyser {
	return &Analyser{registry: registry, store: store, cfg: cfg}
}

func (a *Analyser) detectorHub() (*DetectorHub, error) {
	detectors := make([]Detector, 0, len(a.cfg.DetectorModels))
	for _, model := range a.cfg.DetectorModels {
		d, err := a.registry.Detector(model)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, d)
	}
	return NewDetectorHub(detectors...), nil
}

func (a *Analyser) landmarkerHub() (*LandmarkerHub, error) {
	landmarkers := make([]Landmarker, 0, len(a.cfg.LandmarkModels))
	for _, model := range a.cfg.LandmarkModels {
		lm, err := a.registry.Landmarker(model)
		if err != nil {
			return nil, err
		}
		landmarkers = append(landmarkers, lm)
	}
	return NewLandmarkerHub(landmarkers...), nil
}

// GetManyFaces detects and analyses every face in the frame, then filters
// and sorts through the selector. Results are cached in the face store
// keyed by the frame hash.
func (a *Analyser) GetManyFaces(frame *vision.Frame, mode Mode, selOpts face.SelectorOptions) ([]*face.Face, error) {
	if cached := a.store.GetFaces(frame); cached != nil {
		return face.Select(cached, selOpts), nil
	}

	hub, err := a.detectorHub()
	if err != nil {
		return nil, err
	}
	detections, err := hub.Detect(frame, a.cfg.DetectorScore)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, errs.New(errs.CodeNoFaceDetected, "no face detected")
	}

	faces := make([]*face.Face, 0, len(detections))
	for _, det := range detections {
		f, err := a.analyseOne(frame, det, mode)
		if err != nil {
			if errs.Recoverable(err) {
				slog.Debug("face analysis skipped", "error", err)
				continue
			}
			return nil, err
		}
		faces = append(faces, f)
	}
	if len(faces) == 0 {
		return nil, errs.New(errs.CodeNoFaceDetected, "no analysable face")
	}

	a.store.InsertFaces(frame, faces)
	return face.Select(faces, selOpts), nil
}

func (a *Analyser) analyseOne(frame *vision.Frame, det Detection, mode Mode) (*face.Face, error) {
	f := &face.Face{
		Box:           det.Box,
		Landmarks5:    det.Landmarks5,
		DetectorScore: det.Score,
	}

	if mode&ModeLandmark != 0 && len(a.cfg.LandmarkModels) > 0 {
		hub, err := a.landmarkerHub()
		if err != nil {
			return nil, err
		}
		res, err := hub.Detect(frame, det.Box)
		if err != nil {
			return nil, err
		}
		if res.Score < a.cfg.LandmarkerScore {
			return nil, errs.New(errs.CodeFaceNotAligned,
				"landmark score %.2f below %.2f", res.Score, a.cfg.LandmarkerScore)
		}
		f.Landmarks68 = res.Landmarks68
		f.LandmarkerScore = res.Score
		if lm5 := face.Landmarks68To5(res.Landmarks68); lm5 != nil {
			f.Landmarks5 = lm5
		}
	} else if mode&ModeLandmark != 0 && a.cfg.ExpanderModel != "" && len(f.Landmarks5) == 5 {
		exp, err := a.registry.Expander(a.cfg.ExpanderModel)
		if err != nil {
			return nil, err
		}
		lm68, err := exp.Expand(f.Landmarks5)
		if err != nil {
			return nil, err
		}
		f.Landmarks68 = lm68
		f.LandmarkerScore = det.Score
	}

	if len(f.Landmarks5) != 5 {
		return nil, errs.New(errs.CodeFaceNotAligned, "no 5-point landmarks available")
	}

	if mode&ModeEmbed != 0 && a.cfg.RecognizerModel != "" {
		rec, err := a.registry.Recognizer(a.cfg.RecognizerModel)
		if err != nil {
			return nil, err
		}
		embedding, normed, err := rec.Recognize(frame, f.Landmarks5)
		if err != nil {
			return nil, err
		}
		f.Embedding = embedding
		f.NormedEmbedding = normed
	}

	if mode&ModeClassify != 0 && a.cfg.ClassifierModel != "" {
		cls, err := a.registry.Classifier(a.cfg.ClassifierModel)
		if err != nil {
			return nil, err
		}
		result, err := cls.Classify(frame, f.Landmarks5)
		if err != nil {
			return nil, err
		}
		f.Age = result.Age
		f.Gender = result.Gender
		f.Race = result.Race
	}

	return f, nil
}

// GetOneFace returns at most one face at position after sorting.
func (a *Analyser) GetOneFace(frame *vision.Frame, position int, mode Mode, selOpts face.SelectorOptions) (*face.Face, error) {
	selOpts.Mode = face.SelectOne
	selOpts.Position = position
	faces, err := a.GetManyFaces(frame, mode, selOpts)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, errs.New(errs.CodeNoFaceDetected, "no face at position %d", position)
	}
	return faces[0], nil
}

// GetAverageFace arithmetic-means the embeddings over a face set; the
// result's normed embedding is the unit-normed mean.
func GetAverageFace(faces []*face.Face) (*face.Face, error) {
	var dim int
	count := 0
	for _, f := range faces {
		if len(f.Embedding) > 0 {
			dim = len(f.Embedding)
			count++
		}
	}
	if count == 0 {
		return nil, errs.New(errs.CodeNoFaceDetected, "no embeddings to average")
	}

	mean := make([]float32, dim)
	for _, f := range faces {
		if len(f.Embedding) != dim {
			continue
		}
		for i, v := range f.Embedding {
			mean[i] += v / float32(count)
		}
	}

	out := *faces[0]
	out.Embedding = mean
	out.NormedEmbedding = face.Normalize(mean)
	return &out, nil
}

// FindSimilarFaces filters target-frame faces whose cosine distance to any
// reference is below distance.
func (a *Analyser) FindSimilarFaces(references []*face.Face, target *vision.Frame, distance float64) ([]*face.Face, error) {
	faces, err := a.GetManyFaces(target, ModeAll, face.SelectorOptions{})
	if err != nil {
		return nil, err
	}
	var out []*face.Face
	for _, f := range faces {
		for _, ref := range references {
			if face.Distance(f.NormedEmbedding, ref.NormedEmbedding) < distance {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

// CompareFace reports whether two faces fall within distance.
func CompareFace(a, b *face.Face, distance float64) bool {
	return face.Same(a, b, distance)
}

// CalculateFaceDistance returns the cosine distance between two faces.
func CalculateFaceDistance(a, b *face.Face) float64 {
	if a == nil || b == nil {
		return 2
	}
	return face.Distance(a.NormedEmbedding, b.NormedEmbedding)
}
