package vision

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientFrame(w, h int) *Frame {
	f := NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Set(x, y, uint8(x%256), uint8(y%256), uint8((x+y)%256))
		}
	}
	return f
}

func TestResizeDimensions(t *testing.T) {
	f := gradientFrame(64, 32)
	r := f.Resize(32, 16)
	assert.Equal(t, 32, r.W)
	assert.Equal(t, 16, r.H)

	same := f.Resize(64, 32)
	assert.Equal(t, f.Pix, same.Pix)
}

func TestLetterboxPreservesAspect(t *testing.T) {
	f := gradientFrame(200, 100)
	boxed, ratio := f.Letterbox(640, 640)

	assert.Equal(t, 640, boxed.W)
	assert.Equal(t, 640, boxed.H)
	assert.InDelta(t, 3.2, ratio, 1e-9)

	// The bottom half (beyond 100*3.2=320 rows) is zero padding.
	b, g, r := boxed.At(10, 500)
	assert.Zero(t, b)
	assert.Zero(t, g)
	assert.Zero(t, r)
}

func TestRotate90RoundTrip(t *testing.T) {
	f := gradientFrame(8, 6)
	r := f.Rotate90(90)
	assert.Equal(t, 6, r.W)
	assert.Equal(t, 8, r.H)

	back := r.Rotate90(270)
	assert.Equal(t, f.Pix, back.Pix)

	flip := f.Rotate90(180).Rotate90(180)
	assert.Equal(t, f.Pix, flip.Pix)
}

func TestCHWRoundTrip(t *testing.T) {
	f := gradientFrame(16, 16)
	data := f.ToCHW([3]float32{0, 0, 0}, [3]float32{255, 255, 255})
	back := FrameFromCHW(data, 16, 16, 255, 0)

	for i := range f.Pix {
		diff := int(f.Pix[i]) - int(back.Pix[i])
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, 1)
	}
}

func TestBlendFrames(t *testing.T) {
	a := NewFrame(4, 4)
	b := NewFrame(4, 4)
	for i := range b.Pix {
		b.Pix[i] = 200
	}

	half := BlendFrames(a, b, 0.5)
	assert.Equal(t, uint8(100), half.Pix[0])

	assert.Equal(t, a.Pix, BlendFrames(a, b, 0).Pix)
	assert.Equal(t, b.Pix, BlendFrames(a, b, 1).Pix)
}

func TestAffineInvert(t *testing.T) {
	m := Affine{2, 0, 5, 0, 2, -3}
	inv := m.Invert()

	x, y := m.Apply(7, 11)
	bx, by := inv.Apply(x, y)
	assert.InDelta(t, 7, bx, 1e-9)
	assert.InDelta(t, 11, by, 1e-9)
}

func TestGaussianBlurPreservesMass(t *testing.T) {
	m := NewFloatMask(21, 21)
	m.Pix[10*21+10] = 1

	blurred := m.GaussianBlur(2)
	var sum float64
	for _, v := range blurred.Pix {
		sum += float64(v)
	}
	assert.InDelta(t, 1.0, sum, 0.01, "blur should roughly preserve total mass")
	assert.Less(t, blurred.Pix[10*21+10], float32(1))
}

func TestMaskClamp(t *testing.T) {
	m := NewFloatMask(2, 2)
	m.Pix = []float32{-0.5, 0.5, 1.5, 1}
	m.Clamp()
	assert.Equal(t, []float32{0, 0.5, 1, 1}, m.Pix)
}

func TestWriteReadImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := gradientFrame(32, 32)

	path := filepath.Join(dir, "frame.png")
	require.NoError(t, WriteImage(path, f, "png", 0))

	loaded, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, f.W, loaded.W)
	assert.Equal(t, f.H, loaded.H)
	assert.Equal(t, f.Pix, loaded.Pix, "png is lossless")
}

func TestWriteImageBadFormat(t *testing.T) {
	dir := t.TempDir()
	err := WriteImage(filepath.Join(dir, "frame.xyz"), gradientFrame(4, 4), "webp", 0)
	assert.Error(t, err)
}

func TestReadImageMissing(t *testing.T) {
	_, err := ReadImage("/nonexistent/image.png")
	assert.Error(t, err)
}

func TestMeanLuminance(t *testing.T) {
	dark := NewFrame(4, 4)
	assert.Zero(t, dark.MeanLuminance())

	bright := NewFrame(4, 4)
	for i := range bright.Pix {
		bright.Pix[i] = 255
	}
	assert.InDelta(t, 255, bright.MeanLuminance(), 1e-9)
}
