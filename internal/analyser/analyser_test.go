package analyser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceforge/internal/face"
)

func TestDecodeAgeBuckets(t *testing.T) {
	cases := []struct {
		id   int64
		want face.AgeRange
	}{
		{0, face.AgeRange{Min: 0, Max: 2}},
		{1, face.AgeRange{Min: 3, Max: 9}},
		{2, face.AgeRange{Min: 10, Max: 19}},
		{3, face.AgeRange{Min: 20, Max: 29}},
		{7, face.AgeRange{Min: 60, Max: 69}},
		{8, face.AgeRange{Min: 70, Max: 100}},
		{12, face.AgeRange{Min: 70, Max: 100}},
	}
	for _, c := range cases {
		got := DecodeAge(c.id)
		assert.Equal(t, c.want, got, "age id %d", c.id)
		assert.LessOrEqual(t, got.Min, got.Max)
	}
}

func TestDecodeGender(t *testing.T) {
	assert.Equal(t, face.GenderMale, DecodeGender(0))
	assert.Equal(t, face.GenderFemale, DecodeGender(1))
}

func TestDecodeRace(t *testing.T) {
	cases := map[int64]face.Race{
		0: face.RaceWhite,
		1: face.RaceBlack,
		2: face.RaceLatino,
		3: face.RaceAsian,
		4: face.RaceAsian, // both Asian classes collapse
		5: face.RaceIndian,
		6: face.RaceArabic,
	}
	for id, want := range cases {
		assert.Equal(t, want, DecodeRace(id), "race id %d", id)
	}
}

func TestRotateDetectionBackRoundTrip(t *testing.T) {
	const w, h = 100, 60
	det := Detection{
		Box:   face.Rect{X1: 10, Y1: 20, X2: 30, Y2: 40},
		Score: 0.9,
		Landmarks5: []face.Point{
			{X: 12, Y: 22}, {X: 28, Y: 22}, {X: 20, Y: 30}, {X: 14, Y: 38}, {X: 26, Y: 38},
		},
	}

	// 180° maps are involutive on the same canvas.
	twice := rotateDetectionBack(rotateDetectionBack(det, 180, w, h), 180, w, h)
	assert.InDelta(t, det.Box.X1, twice.Box.X1, 1e-9)
	assert.InDelta(t, det.Box.Y2, twice.Box.Y2, 1e-9)
	for i := range det.Landmarks5 {
		assert.InDelta(t, det.Landmarks5[i].X, twice.Landmarks5[i].X, 1e-9)
	}

	// 90° keeps boxes well-formed.
	mapped := rotateDetectionBack(det, 90, w, h)
	assert.LessOrEqual(t, mapped.Box.X1, mapped.Box.X2)
	assert.LessOrEqual(t, mapped.Box.Y1, mapped.Box.Y2)
}

func TestDecodeAnchorsThresholdAndScaling(t *testing.T) {
	// One 8-stride grid position with two anchors; only the first clears
	// the threshold. Distances of one stride unit around anchor (0,0).
	const stride = 8
	const inputW, inputH = 16, 16 // 2x2 feature map, 8 slots
	scores := make([]float32, 8)
	bboxes := make([]float32, 8*4)
	landmarks := make([]float32, 8*10)

	scores[0] = 0.9
	scores[1] = 0.3
	bboxes[0], bboxes[1], bboxes[2], bboxes[3] = 1, 1, 1, 1

	ratio := 0.5
	dets := decodeAnchors(scores, bboxes, landmarks, stride, inputW, inputH, ratio, 0.5)
	require.Len(t, dets, 1)

	d := dets[0]
	assert.InDelta(t, 0.9, d.Score, 1e-6)
	// Anchor (0,0), distance 1*stride on each side, divided by ratio 0.5.
	assert.InDelta(t, -16, d.Box.X1, 1e-6)
	assert.InDelta(t, 16, d.Box.X2, 1e-6)
	require.Len(t, d.Landmarks5, 5)
}

func TestSuppressFusedCandidates(t *testing.T) {
	candidates := []Detection{
		{Box: face.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 0.9},
		{Box: face.Rect{X1: 0.5, Y1: 0.5, X2: 10.5, Y2: 10.5}, Score: 0.8}, // near-duplicate
		{Box: face.Rect{X1: 50, Y1: 50, X2: 60, Y2: 60}, Score: 0.7},
	}
	kept := suppress(candidates, nmsFusedIoU)
	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-9)
	assert.InDelta(t, 0.7, kept[1].Score, 1e-9)
}

func TestGetAverageFaceUnitNorm(t *testing.T) {
	a := &face.Face{Embedding: []float32{2, 0, 0}}
	b := &face.Face{Embedding: []float32{0, 4, 0}}

	avg, err := GetAverageFace([]*face.Face{a, b})
	require.NoError(t, err)
	assert.InDelta(t, 1, avg.Embedding[0], 1e-6)
	assert.InDelta(t, 2, avg.Embedding[1], 1e-6)

	var norm float64
	for _, v := range avg.NormedEmbedding {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, norm, 1e-4)

	_, err = GetAverageFace(nil)
	assert.Error(t, err)
}

func TestParseKinds(t *testing.T) {
	kind, err := ParseDetectorKind("retinaface_10g")
	require.NoError(t, err)
	assert.Equal(t, DetectorRetinaFace, kind)

	kind, err = ParseDetectorKind("scrfd_2.5g")
	require.NoError(t, err)
	assert.Equal(t, DetectorSCRFD, kind)

	kind, err = ParseDetectorKind("yoloface_8n")
	require.NoError(t, err)
	assert.Equal(t, DetectorYOLOFace, kind)

	_, err = ParseDetectorKind("mystery")
	assert.Error(t, err)

	lmKind, err := ParseLandmarkerKind("2dfan_4")
	require.NoError(t, err)
	assert.Equal(t, Landmarker2DFAN, lmKind)

	lmKind, err = ParseLandmarkerKind("peppa_wutz")
	require.NoError(t, err)
	assert.Equal(t, LandmarkerPeppaWutz, lmKind)
}

func TestCompareFaceAndDistance(t *testing.T) {
	a := &face.Face{NormedEmbedding: face.Normalize([]float32{1, 0})}
	b := &face.Face{NormedEmbedding: face.Normalize([]float32{1, 0.01})}

	assert.True(t, CompareFace(a, b, 0.6))
	assert.InDelta(t, 0, CalculateFaceDistance(a, b), 0.01)
	assert.Equal(t, 2.0, CalculateFaceDistance(a, nil))
}
