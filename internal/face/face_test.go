package face

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUnitNorm(t *testing.T) {
	v := make([]float32, 512)
	for i := range v {
		v[i] = float32(i%17) - 8
	}
	normed := Normalize(v)

	var sum float64
	for _, x := range normed {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestNormalizeZeroVector(t *testing.T) {
	normed := Normalize(make([]float32, 8))
	for _, x := range normed {
		assert.Zero(t, x)
	}
}

func TestDistanceIdentical(t *testing.T) {
	v := Normalize([]float32{1, 2, 3, 4})
	assert.InDelta(t, 0, Distance(v, v), 1e-6)
}

func TestDistanceOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 1, Distance(a, b), 1e-6)
}

func TestDistanceMismatched(t *testing.T) {
	assert.Equal(t, 2.0, Distance(nil, []float32{1}))
	assert.Equal(t, 2.0, Distance([]float32{1, 2}, []float32{1}))
}

func TestSameThreshold(t *testing.T) {
	a := &Face{NormedEmbedding: Normalize([]float32{1, 0, 0})}
	b := &Face{NormedEmbedding: Normalize([]float32{0.99, 0.05, 0})}
	c := &Face{NormedEmbedding: Normalize([]float32{0, 1, 0})}

	assert.True(t, Same(a, b, 0.6))
	assert.False(t, Same(a, c, 0.6))
	assert.False(t, Same(a, nil, 0.6))
}
