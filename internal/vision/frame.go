// Package vision holds the pixel-level primitives: the BGR frame buffer,
// image codecs, geometry transforms and the tiling helpers used by the
// frame enhancer.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/your-org/faceforge/internal/errs"
)

// Frame is an 8-bit BGR pixel buffer, row-major, 3 bytes per pixel.
type Frame struct {
	W, H int
	Pix  []uint8
}

// NewFrame allocates a zeroed W×H BGR frame.
func NewFrame(w, h int) *Frame {
	return &Frame{W: w, H: h, Pix: make([]uint8, w*h*3)}
}

// FrameFromPix wraps an existing BGR buffer without copying.
func FrameFromPix(w, h int, pix []uint8) (*Frame, error) {
	if len(pix) != w*h*3 {
		return nil, fmt.Errorf("pixel buffer size %d does not match %dx%dx3", len(pix), w, h)
	}
	return &Frame{W: w, H: h, Pix: pix}, nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := NewFrame(f.W, f.H)
	copy(out.Pix, f.Pix)
	return out
}

// At returns the BGR triple at (x, y) without bounds checking.
func (f *Frame) At(x, y int) (b, g, r uint8) {
	off := (y*f.W + x) * 3
	return f.Pix[off], f.Pix[off+1], f.Pix[off+2]
}

// Set writes the BGR triple at (x, y).
func (f *Frame) Set(x, y int, b, g, r uint8) {
	off := (y*f.W + x) * 3
	f.Pix[off], f.Pix[off+1], f.Pix[off+2] = b, g, r
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool { return f == nil || f.W == 0 || f.H == 0 }

// FloatMask is a single-channel float32 map with values in [0, 1].
type FloatMask struct {
	W, H int
	Pix  []float32
}

// NewFloatMask allocates a zeroed mask.
func NewFloatMask(w, h int) *FloatMask {
	return &FloatMask{W: w, H: h, Pix: make([]float32, w*h)}
}

// Fill sets every element to v.
func (m *FloatMask) Fill(v float32) {
	for i := range m.Pix {
		m.Pix[i] = v
	}
}

// Clamp bounds every element to [0, 1] in place.
func (m *FloatMask) Clamp() {
	for i, v := range m.Pix {
		if v < 0 {
			m.Pix[i] = 0
		} else if v > 1 {
			m.Pix[i] = 1
		}
	}
}

// FromImage converts any image.Image to a BGR frame. The fast paths mirror
// the common decode results (*image.RGBA, *image.YCbCr).
func FromImage(img image.Image) *Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewFrame(w, h)

	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				pix := src.Pix[off : off+3 : off+3]
				out.Set(x, y, pix[2], pix[1], pix[0])
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				pix := src.Pix[off : off+3 : off+3]
				out.Set(x, y, pix[2], pix[1], pix[0])
			}
		}
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				yi := src.YOffset(bounds.Min.X+x, bounds.Min.Y+y)
				ci := src.COffset(bounds.Min.X+x, bounds.Min.Y+y)
				r8, g8, b8 := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				out.Set(x, y, b8, g8, r8)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				out.Set(x, y, uint8(b>>8), uint8(g>>8), uint8(r>>8))
			}
		}
	}
	return out
}

// ToImage converts the frame to an *image.RGBA for the stdlib encoders.
func (f *Frame) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.W, f.H))
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			b, g, r := f.At(x, y)
			off := img.PixOffset(x, y)
			img.Pix[off] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 255
		}
	}
	return img
}

// ReadImage decodes an image file (jpg/png/bmp/webp) into a BGR frame.
func ReadImage(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileNotFound, err, "read image %s", path)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.CodeImageDecodeFailed, err, "decode image %s", path)
	}
	return FromImage(img), nil
}

// WriteImage encodes the frame to path; the format follows the extension
// (jpg/jpeg, png, bmp), falling back to format when the extension is alien.
func WriteImage(path string, f *Frame, format string, quality int) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "jpg", "jpeg", "png", "bmp":
		format = ext
	}
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	var buf bytes.Buffer
	img := f.ToImage()
	var err error
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case "png":
		err = png.Encode(&buf, img)
	case "bmp":
		err = bmp.Encode(&buf, img)
	default:
		return errs.New(errs.CodeParameterOutOfRange, "unsupported output image format %q", format)
	}
	if err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "encode %s", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errs.Wrap(errs.CodeOutputWriteFailed, err, "write %s", path)
	}
	return nil
}
