package face

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceforge/internal/vision"
)

func TestIoUExactThird(t *testing.T) {
	// Two 10x10 boxes sharing a 50-area intersection: IoU = 50/150 = 1/3.
	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Rect{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.InDelta(t, 1.0/3.0, IoU(a, b), 1e-9)
}

func TestIoUDisjoint(t *testing.T) {
	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Rect{X1: 20, Y1: 20, X2: 30, Y2: 30}
	assert.Zero(t, IoU(a, b))
}

func TestNMSKeepsNonOverlapping(t *testing.T) {
	// A(0.9) and B(0.8) overlap heavily; C(0.7) and D(0.6) overlap heavily;
	// at threshold 0.5 exactly A and C survive.
	boxes := []Scored{
		{Box: Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 0.9},       // A
		{Box: Rect{X1: 1, Y1: 1, X2: 11, Y2: 11}, Score: 0.8},       // B
		{Box: Rect{X1: 100, Y1: 100, X2: 110, Y2: 110}, Score: 0.7}, // C
		{Box: Rect{X1: 101, Y1: 101, X2: 111, Y2: 111}, Score: 0.6}, // D
	}
	keep := NMS(boxes, 0.5)
	require.Equal(t, []int{0, 2}, keep)
}

func TestEstimateSimilarityRecoversTransform(t *testing.T) {
	src := []Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 5, Y: 5}}

	// Apply a known similarity: scale 2, rotation 30°, translation (3, -7).
	angle := 30 * math.Pi / 180
	s := 2.0
	want := vision.Affine{
		s * math.Cos(angle), -s * math.Sin(angle), 3,
		s * math.Sin(angle), s * math.Cos(angle), -7,
	}

	dst := make([]Point, len(src))
	for i, p := range src {
		x, y := want.Apply(p.X, p.Y)
		dst[i] = Point{X: x, Y: y}
	}

	got := EstimateSimilarity(src, dst)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "matrix element %d", i)
	}
}

func TestWarpPasteBackIdempotent(t *testing.T) {
	// warp_face followed by paste_back with an all-ones mask returns the
	// input within ±1 per channel over the covered region.
	frame := vision.NewFrame(64, 64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			frame.Set(x, y, uint8(x*3), uint8(y*3), uint8((x+y)%256))
		}
	}

	// Eye span close to the template's own keeps the inverse-mapped crop
	// fully inside the frame.
	landmarks := []Point{
		{X: 27, Y: 28}, {X: 37, Y: 28}, {X: 32, Y: 33}, {X: 28, Y: 38}, {X: 36, Y: 38},
	}
	original := frame.Clone()

	crop, affine := WarpByLandmarks5(frame, landmarks, TemplateArcFace112v2, 32)
	mask := vision.NewFloatMask(32, 32)
	mask.Fill(1)
	result := PasteBack(frame, crop, mask, affine)

	var maxDiff int
	for i := range result.Pix {
		diff := int(result.Pix[i]) - int(original.Pix[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	assert.LessOrEqual(t, maxDiff, 1, "max per-channel deviation")
}

func TestLandmarks68To5(t *testing.T) {
	lm68 := make([]Point, 68)
	for i := range lm68 {
		lm68[i] = Point{X: float64(i), Y: float64(i * 2)}
	}
	lm5 := Landmarks68To5(lm68)
	require.Len(t, lm5, 5)
	assert.Equal(t, lm68[30], lm5[2]) // nose tip
	assert.Equal(t, lm68[48], lm5[3]) // left mouth corner

	assert.Nil(t, Landmarks68To5(lm68[:10]))
}

func TestTemplatePointsScaled(t *testing.T) {
	pts := TemplatePoints(TemplateArcFace112v2, 112)
	for _, p := range pts {
		assert.Greater(t, p.X, 0.0)
		assert.Less(t, p.X, 112.0)
		assert.Greater(t, p.Y, 0.0)
		assert.Less(t, p.Y, 112.0)
	}
}
