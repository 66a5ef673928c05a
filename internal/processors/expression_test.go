package processors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRotationMatrixIdentity(t *testing.T) {
	r := RotationMatrix(0, 0, 0)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, r[i][j], 1e-12)
		}
	}
}

func TestRotationMatrixRollQuarterTurn(t *testing.T) {
	// Roll 90° maps x̂ to ŷ.
	r := RotationMatrix(0, 0, 90)
	x := [3]float64{1, 0, 0}
	var out [3]float64
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			out[i] += r[i][k] * x[k]
		}
	}
	assert.InDelta(t, 0, out[0], 1e-12)
	assert.InDelta(t, 1, out[1], 1e-12)
	assert.InDelta(t, 0, out[2], 1e-12)
}

func TestRotationMatrixOrthonormal(t *testing.T) {
	r := RotationMatrix(12, -34, 56)
	// R·Rᵀ = I for any angle triple.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += r[i][k] * r[j][k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, dot, 1e-12)
		}
	}
}

func TestLimitExpressionClamps(t *testing.T) {
	expr := make([]float32, expressionDim)
	for i := range expr {
		if i%2 == 0 {
			expr[i] = 10 // far above every max
		} else {
			expr[i] = -10 // far below every min
		}
	}

	limited := LimitExpression(expr)
	for i, v := range limited {
		if i%2 == 0 {
			assert.Equal(t, expressionMax[i], v)
		} else {
			assert.Equal(t, expressionMin[i], v)
		}
	}
}

func TestLimitExpressionPassthrough(t *testing.T) {
	expr := make([]float32, expressionDim)
	limited := LimitExpression(expr)
	for i, v := range limited {
		assert.GreaterOrEqual(t, v, expressionMin[i])
		assert.LessOrEqual(t, v, expressionMax[i])
		// Zero lies inside every range, so it survives unchanged.
		assert.Equal(t, float32(0), v)
	}
}

func TestBlendExpressions(t *testing.T) {
	source := make([]float32, expressionDim)
	target := make([]float32, expressionDim)
	for i := range source {
		source[i] = 1
		target[i] = -1
	}

	full := blendExpressions(source, target, 1)
	assert.Equal(t, float32(1), full[0])

	none := blendExpressions(source, target, 0)
	assert.Equal(t, float32(-1), none[0])

	half := blendExpressions(source, target, 0.5)
	assert.InDelta(t, 0, half[0], 1e-6)
}

func TestTransformKeypointsScaleAndTranslation(t *testing.T) {
	points := make([]float32, expressionDim)
	points[0], points[1], points[2] = 1, 0, 0

	m := Motion{
		Scale:       2,
		Translation: [3]float64{10, 20, 30},
		Points:      points,
	}
	expr := make([]float32, expressionDim)

	out := transformKeypoints(m, expr)
	assert.InDelta(t, 12, out[0], 1e-6) // 1*2 + 10
	assert.InDelta(t, 20, out[1], 1e-6)
	assert.InDelta(t, 30, out[2], 1e-6)
}

func TestDecodeAngleScalar(t *testing.T) {
	assert.InDelta(t, -14.5, decodeAngle([]float32{-14.5}), 1e-9)
}

func TestDecodeAngleBins(t *testing.T) {
	// A sharply peaked 66-bin head decodes near the bin's angle.
	bins := make([]float32, 66)
	bins[33] = 50 // dominant bin
	got := decodeAngle(bins)
	want := 33.0*3 - 97.5
	assert.InDelta(t, want, got, 1.0)
	assert.False(t, math.IsNaN(got))
}
