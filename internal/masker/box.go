// Package masker produces the [0,1] float alpha masks that control
// paste-back: a padded box mask, an occlusion segmentation mask and a
// face-region parsing mask, intersected by the compositor.
package masker

import (
	"github.com/your-org/faceforge/internal/vision"
)

// BoxOptions pad the crop rectangle by per-edge percentages and feather
// the boundary with a Gaussian blur.
type BoxOptions struct {
	// Padding percentages, clockwise from the top edge.
	Top, Right, Bottom, Left float64
	// BlurAmount feathers the boundary with sigma = BlurAmount / 4.
	BlurAmount float64
}

// BoxMask renders a size×size mask that is 1 inside the padded rectangle
// and 0 outside, then blurs. Each padding percentage is clamped so the
// inner region keeps at least BlurAmount/2 pixels on that axis.
func BoxMask(size int, opts BoxOptions) *vision.FloatMask {
	mask := vision.NewFloatMask(size, size)

	clampPad := func(pct float64) int {
		px := int(float64(size) * pct / 100)
		max := size/2 - int(opts.BlurAmount/2)
		if max < 0 {
			max = 0
		}
		if px > max {
			px = max
		}
		if px < 0 {
			px = 0
		}
		return px
	}

	top := clampPad(opts.Top)
	right := clampPad(opts.Right)
	bottom := clampPad(opts.Bottom)
	left := clampPad(opts.Left)

	for y := top; y < size-bottom; y++ {
		for x := left; x < size-right; x++ {
			mask.Pix[y*size+x] = 1
		}
	}

	if opts.BlurAmount > 0 {
		mask = mask.GaussianBlur(opts.BlurAmount / 4)
	}
	mask.Clamp()
	return mask
}
