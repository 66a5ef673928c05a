// Package analyser turns raw frames into structured Face records: a
// detection, landmarking, recognition and classification pipeline over
// pooled inference sessions.
package analyser

import (
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/observability"
	"github.com/your-org/faceforge/internal/vision"
)

// Detection is one raw detector candidate.
type Detection struct {
	Box        face.Rect
	Score      float64
	Landmarks5 []face.Point
}

// Detector is the contract shared by the detector variants.
type Detector interface {
	Name() string
	Detect(frame *vision.Frame, scoreThreshold float64) ([]Detection, error)
}

const (
	// nmsSingleIoU applies when one detector runs alone.
	nmsSingleIoU = 0.4
	// nmsFusedIoU applies when several detectors' candidates are fused.
	nmsFusedIoU = 0.1
)

// detectorInputMean and detectorInputStd normalise detector input pixels:
// (x − 127.5) / 128, RGB order.
var (
	detectorInputMean = [3]float32{127.5, 127.5, 127.5}
	detectorInputStd  = [3]float32{128.0, 128.0, 128.0}
)

// DetectorHub fans detection across one or more detectors, retrying
// rotations until any candidate appears, and fuses results through NMS.
type DetectorHub struct {
	detectors []Detector
	angles    []int
}

// NewDetectorHub builds a hub over the given detectors. The rotation
// ladder is fixed: 0, 90, 180, 270 degrees.
func NewDetectorHub(detectors ...Detector) *DetectorHub {
	return &DetectorHub{
		detectors: detectors,
		angles:    []int{0, 90, 180, 270},
	}
}

// Detect runs all detectors in parallel at each rotation angle in turn,
// stopping at the first angle that yields any candidate. Candidates are
// deduplicated by NMS: IoU 0.4 for a single detector, 0.1 when fusing.
func (h *DetectorHub) Detect(frame *vision.Frame, scoreThreshold float64) ([]Detection, error) {
	if len(h.detectors) == 0 {
		return nil, errs.New(errs.CodeProcessorFailed, "no detectors configured")
	}

	for _, angle := range h.angles {
		rotated := frame
		if angle != 0 {
			rotated = frame.Rotate90(angle)
		}

		candidates, err := h.detectAll(rotated, scoreThreshold)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}

		if angle != 0 {
			for i := range candidates {
				candidates[i] = rotateDetectionBack(candidates[i], angle, frame.W, frame.H)
			}
		}

		iou := nmsSingleIoU
		if len(h.detectors) > 1 {
			iou = nmsFusedIoU
		}
		kept := suppress(candidates, iou)
		observability.FacesDetected.WithLabelValues(h.detectors[0].Name()).Add(float64(len(kept)))
		return kept, nil
	}
	return nil, nil
}

func (h *DetectorHub) detectAll(frame *vision.Frame, scoreThreshold float64) ([]Detection, error) {
	if len(h.detectors) == 1 {
		return h.detectors[0].Detect(frame, scoreThreshold)
	}

	var mu sync.Mutex
	var all []Detection
	var g errgroup.Group
	for _, d := range h.detectors {
		d := d
		g.Go(func() error {
			dets, err := d.Detect(frame, scoreThreshold)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, dets...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func suppress(candidates []Detection, iou float64) []Detection {
	scored := make([]face.Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = face.Scored{Box: c.Box, Score: c.Score}
	}
	keep := face.NMS(scored, iou)
	out := make([]Detection, 0, len(keep))
	for _, i := range keep {
		out = append(out, candidates[i])
	}
	return out
}

// rotateDetectionBack maps a detection found in a frame rotated CCW by
// angle back into original coordinates (origW×origH).
func rotateDetectionBack(d Detection, angle, origW, origH int) Detection {
	mapPt := func(p face.Point) face.Point {
		switch angle {
		case 90:
			// rotated (x', y') = (y, W-1-x)  =>  x = W-1-y', y = x'
			return face.Point{X: float64(origW-1) - p.Y, Y: p.X}
		case 180:
			return face.Point{X: float64(origW-1) - p.X, Y: float64(origH-1) - p.Y}
		case 270:
			return face.Point{X: p.Y, Y: float64(origH-1) - p.X}
		}
		return p
	}

	c1 := mapPt(face.Point{X: d.Box.X1, Y: d.Box.Y1})
	c2 := mapPt(face.Point{X: d.Box.X2, Y: d.Box.Y2})
	out := d
	out.Box = face.Rect{
		X1: math.Min(c1.X, c2.X),
		Y1: math.Min(c1.Y, c2.Y),
		X2: math.Max(c1.X, c2.X),
		Y2: math.Max(c1.Y, c2.Y),
	}
	out.Landmarks5 = make([]face.Point, len(d.Landmarks5))
	for i, p := range d.Landmarks5 {
		out.Landmarks5[i] = mapPt(p)
	}
	return out
}

// DetectorKind names the supported detector variants.
type DetectorKind string

const (
	DetectorRetinaFace DetectorKind = "retinaface"
	DetectorSCRFD      DetectorKind = "scrfd"
	DetectorYOLOFace   DetectorKind = "yoloface"
)

// ParseDetectorKind maps a model type/name spelling to a kind.
func ParseDetectorKind(s string) (DetectorKind, error) {
	switch {
	case strings.Contains(s, "retina"):
		return DetectorRetinaFace, nil
	case strings.Contains(s, "scrfd"):
		return DetectorSCRFD, nil
	case strings.Contains(s, "yolo"):
		return DetectorYOLOFace, nil
	}
	return "", errs.New(errs.CodeModelVersionIncompatible, "unknown detector kind %q", s)
}
