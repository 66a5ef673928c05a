// Package face defines the Face record produced by the analyser plus the
// geometry helpers, selector and frame-keyed store built around it.
package face

import (
	"math"

	"github.com/your-org/faceforge/internal/vision"
)

// Point is a 2-D landmark coordinate in original-frame space.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box in original-frame coordinates.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

func (r Rect) Width() float64  { return r.X2 - r.X1 }
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

// Gender enumerates the classifier's gender output.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderMale
	GenderFemale
)

// Race enumerates the classifier's race output.
type Race int

const (
	RaceUnknown Race = iota
	RaceWhite
	RaceBlack
	RaceLatino
	RaceAsian
	RaceIndian
	RaceArabic
)

// AgeRange is an inclusive age bucket.
type AgeRange struct {
	Min, Max int
}

// Face is one detected face in one frame.
type Face struct {
	Box             Rect
	Landmarks5      []Point
	Landmarks68     []Point
	DetectorScore   float64
	LandmarkerScore float64
	Embedding       []float32
	NormedEmbedding []float32
	Age             AgeRange
	Gender          Gender
	Race            Race
	Mask            *vision.FloatMask
}

// Empty reports whether the face carries no detection at all.
func (f *Face) Empty() bool {
	return f == nil || (len(f.Landmarks5) == 0 && f.Box.Area() == 0)
}

// Normalize returns the L2-normalised copy of v. A zero vector stays zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Distance is the cosine distance 1 − dot(a, b) over unit vectors.
// Mismatched or empty vectors yield the maximum distance.
func Distance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// Same reports whether two faces fall within the distance threshold.
func Same(a, b *Face, threshold float64) bool {
	if a == nil || b == nil {
		return false
	}
	return Distance(a.NormedEmbedding, b.NormedEmbedding) < threshold
}
