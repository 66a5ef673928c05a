package analyser

import (
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/vision"
)

// LandmarkResult is one dense-landmarker outcome.
type LandmarkResult struct {
	Landmarks68 []face.Point
	Score       float64
}

// Landmarker locates the 68-point layout inside a detector box.
type Landmarker interface {
	Name() string
	Detect(frame *vision.Frame, box face.Rect) (LandmarkResult, error)
}

// firstModelBonus breaks ties in favour of the first configured model.
const firstModelBonus = 0.2

// LandmarkerHub races the selected landmark models in parallel and keeps
// the higher-scoring result, granting the first model a 0.2 bonus.
type LandmarkerHub struct {
	landmarkers []Landmarker
}

// NewLandmarkerHub builds a hub; order matters for the tie-break bonus.
func NewLandmarkerHub(landmarkers ...Landmarker) *LandmarkerHub {
	return &LandmarkerHub{landmarkers: landmarkers}
}

// Detect returns the winning result, or an error when every model fails.
func (h *LandmarkerHub) Detect(frame *vision.Frame, box face.Rect) (LandmarkResult, error) {
	if len(h.landmarkers) == 0 {
		return LandmarkResult{}, errs.New(errs.CodeProcessorFailed, "no landmarkers configured")
	}
	if len(h.landmarkers) == 1 {
		return h.landmarkers[0].Detect(frame, box)
	}

	results := make([]LandmarkResult, len(h.landmarkers))
	okay := make([]bool, len(h.landmarkers))
	var mu sync.Mutex
	var g errgroup.Group
	for i, lm := range h.landmarkers {
		i, lm := i, lm
		g.Go(func() error {
			res, err := lm.Detect(frame, box)
			if err != nil {
				return nil // a failing model just loses the race
			}
			mu.Lock()
			results[i] = res
			okay[i] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	bestScore := -1.0
	for i, res := range results {
		if !okay[i] {
			continue
		}
		score := res.Score
		if i == 0 {
			score += firstModelBonus
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return LandmarkResult{}, errs.New(errs.CodeFaceNotAligned, "all landmark models failed")
	}
	return results[best], nil
}

// LandmarkerKind names the supported landmarker variants.
type LandmarkerKind string

const (
	Landmarker2DFAN     LandmarkerKind = "2dfan"
	LandmarkerPeppaWutz LandmarkerKind = "peppa_wutz"
	Landmarker68From5   LandmarkerKind = "68_from_5"
)

// ParseLandmarkerKind maps a model type/name spelling to a kind.
func ParseLandmarkerKind(s string) (LandmarkerKind, error) {
	switch {
	case strings.Contains(s, "2dfan"):
		return Landmarker2DFAN, nil
	case strings.Contains(s, "peppa"):
		return LandmarkerPeppaWutz, nil
	case strings.Contains(s, "68_5") || strings.Contains(s, "68_from_5"):
		return Landmarker68From5, nil
	}
	return "", errs.New(errs.CodeModelVersionIncompatible, "unknown landmarker kind %q", s)
}
