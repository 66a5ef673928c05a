package processors

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestProjectEmbeddingIdentityMatrix(t *testing.T) {
	// Projection through the identity matrix is source / ‖source‖.
	dim := 4
	matrix := make([]float32, dim*dim)
	for i := 0; i < dim; i++ {
		matrix[i*dim+i] = 1
	}
	source := []float32{3, 0, 4, 0} // norm 5

	out := projectEmbedding(source, matrix)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.0, out[1], 1e-6)
	assert.InDelta(t, 0.8, out[2], 1e-6)
}

func TestProjectEmbeddingMatchesNaive(t *testing.T) {
	dim := 8
	source := make([]float32, dim)
	matrix := make([]float32, dim*dim)
	for i := range source {
		source[i] = float32(i) - 3.5
	}
	for i := range matrix {
		matrix[i] = float32((i*7)%13) / 13
	}

	got := projectEmbedding(source, matrix)

	var norm float64
	for _, v := range source {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := 0; i < dim; i++ {
		var sum float64
		for j := 0; j < dim; j++ {
			sum += float64(source[j]) * float64(matrix[j*dim+i])
		}
		assert.InDelta(t, sum/norm, float64(got[i]), 1e-5, "element %d", i)
	}
}

func TestFloat16Conversion(t *testing.T) {
	cases := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3C00, 1},
		{0xBC00, -1},
		{0x4000, 2},
		{0x3800, 0.5},
		{0x7BFF, 65504}, // max finite half
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, float16ToFloat32(c.bits), math.Abs(float64(c.want))*1e-3+1e-6)
	}
	assert.True(t, math.IsInf(float64(float16ToFloat32(0x7C00)), 1))
}

// buildModelFile assembles a minimal ONNX protobuf: a graph with two
// initializers, the last carrying the given floats.
func buildModelFile(t *testing.T, floats []float32, rawFP16 bool) string {
	t.Helper()

	packFloats := func(vals []float32) []byte {
		out := make([]byte, 0, len(vals)*4)
		for _, v := range vals {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			out = append(out, buf[:]...)
		}
		return out
	}

	// First (decoy) initializer: float_data with one value.
	var decoy []byte
	decoy = protowire.AppendTag(decoy, fieldTensorDataType, protowire.VarintType)
	decoy = protowire.AppendVarint(decoy, tensorTypeFloat)
	decoy = protowire.AppendTag(decoy, fieldTensorFloatData, protowire.BytesType)
	decoy = protowire.AppendBytes(decoy, packFloats([]float32{42}))

	var last []byte
	if rawFP16 {
		raw := make([]byte, 0, len(floats)*2)
		for _, v := range floats {
			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], float32ToFloat16ForTest(v))
			raw = append(raw, buf[:]...)
		}
		last = protowire.AppendTag(last, fieldTensorDataType, protowire.VarintType)
		last = protowire.AppendVarint(last, tensorTypeFloat16)
		last = protowire.AppendTag(last, fieldTensorRawData, protowire.BytesType)
		last = protowire.AppendBytes(last, raw)
	} else {
		last = protowire.AppendTag(last, fieldTensorDataType, protowire.VarintType)
		last = protowire.AppendVarint(last, tensorTypeFloat)
		last = protowire.AppendTag(last, fieldTensorFloatData, protowire.BytesType)
		last = protowire.AppendBytes(last, packFloats(floats))
	}

	var graph []byte
	graph = protowire.AppendTag(graph, fieldGraphInitializer, protowire.BytesType)
	graph = protowire.AppendBytes(graph, decoy)
	graph = protowire.AppendTag(graph, fieldGraphInitializer, protowire.BytesType)
	graph = protowire.AppendBytes(graph, last)

	var model []byte
	model = protowire.AppendTag(model, fieldModelGraph, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)

	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, model, 0o644))
	return path
}

// float32ToFloat16ForTest covers the exact small values used in tests.
func float32ToFloat16ForTest(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exp := int32((bits>>23)&0xff) - 127 + 15
	frac := uint16(bits >> 13 & 0x3ff)
	if v == 0 {
		return sign
	}
	return sign | uint16(exp)<<10 | frac
}

func TestExtractLastInitializerFloat(t *testing.T) {
	want := []float32{1.5, -2.25, 3, 0.125}
	path := buildModelFile(t, want, false)

	got, err := extractLastInitializer(path)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6)
	}
}

func TestExtractLastInitializerFP16(t *testing.T) {
	want := []float32{1, -1, 0.5, 2}
	path := buildModelFile(t, want, true)

	got, err := extractLastInitializer(path)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-3)
	}
}

func TestExtractLastInitializerMissingFile(t *testing.T) {
	_, err := extractLastInitializer("/nonexistent/model.onnx")
	assert.Error(t, err)
}
