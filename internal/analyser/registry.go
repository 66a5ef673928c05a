package analyser

import (
	"fmt"
	"sync"

	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/modelrepo"
)

// ModelRegistry is the keyed cache of composite face-model instances.
// Unlike the raw session pool, entries own pre/post-processing logic;
// policy is load once, share forever within the process.
type ModelRegistry struct {
	mu       sync.Mutex
	sessions *inference.Registry
	repo     *modelrepo.Repository
	opts     inference.Options
	cache    map[string]any
}

// NewModelRegistry builds a registry over the shared session registry and
// the model repository.
func NewModelRegistry(sessions *inference.Registry, repo *modelrepo.Repository, opts inference.Options) *ModelRegistry {
	return &ModelRegistry{
		sessions: sessions,
		repo:     repo,
		opts:     opts,
		cache:    make(map[string]any),
	}
}

func (r *ModelRegistry) get(kind, model string, build func(*inference.Session) (any, error)) (any, error) {
	path, err := r.repo.Resolve(model)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s|%s", kind, r.opts.Key(path))

	r.mu.Lock()
	if v, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	session, err := r.sessions.GetSession(path, r.opts)
	if err != nil {
		return nil, err
	}
	v, err := build(session)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[key]; ok {
		return existing, nil
	}
	r.cache[key] = v
	return v, nil
}

// Detector returns the shared detector instance for a catalog model name.
func (r *ModelRegistry) Detector(model string) (Detector, error) {
	kind, err := ParseDetectorKind(model)
	if err != nil {
		return nil, err
	}
	v, err := r.get("detector", model, func(s *inference.Session) (any, error) {
		switch kind {
		case DetectorRetinaFace:
			return NewRetinaFace(s), nil
		case DetectorSCRFD:
			return NewSCRFD(s), nil
		default:
			return NewYOLOFace(s), nil
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(Detector), nil
}

// Landmarker returns the shared dense landmarker for a model name.
func (r *ModelRegistry) Landmarker(model string) (Landmarker, error) {
	kind, err := ParseLandmarkerKind(model)
	if err != nil {
		return nil, err
	}
	v, err := r.get("landmarker", model, func(s *inference.Session) (any, error) {
		return NewDenseLandmarker(s, kind), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Landmarker), nil
}

// Expander returns the shared 68-from-5 regression model.
func (r *ModelRegistry) Expander(model string) (*Expander68From5, error) {
	v, err := r.get("expander", model, func(s *inference.Session) (any, error) {
		return NewExpander68From5(s), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Expander68From5), nil
}

// Recognizer returns the shared ArcFace recognizer.
func (r *ModelRegistry) Recognizer(model string) (*Recognizer, error) {
	v, err := r.get("recognizer", model, func(s *inference.Session) (any, error) {
		return NewRecognizer(s), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Recognizer), nil
}

// Classifier returns the shared FairFace classifier.
func (r *ModelRegistry) Classifier(model string) (*Classifier, error) {
	v, err := r.get("classifier", model, func(s *inference.Session) (any, error) {
		return NewClassifier(s), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Classifier), nil
}

// Clear drops every cached component; the underlying sessions stay owned
// by the session registry.
func (r *ModelRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]any)
}
