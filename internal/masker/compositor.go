package masker

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/faceforge/internal/vision"
)

// Request selects which masks the compositor intersects for one crop.
type Request struct {
	Box       bool
	BoxOpts   BoxOptions
	Occlusion bool
	// OcclusionFrame is the crop the occlusion model inspects (the target
	// crop before swapping).
	OcclusionFrame *vision.Frame
	Region         bool
	// RegionFrame is the crop the face parser inspects (the processed
	// result crop).
	RegionFrame   *vision.Frame
	RegionClasses []int
	RegionSigma   float64
}

// Compositor intersects box, occlusion and region masks into the alpha
// used by paste-back.
type Compositor struct {
	occlusion *OcclusionMasker
	region    *RegionMasker
}

// NewCompositor builds a compositor; either masker may be nil when its
// mask type is never requested.
func NewCompositor(occlusion *OcclusionMasker, region *RegionMasker) *Compositor {
	return &Compositor{occlusion: occlusion, region: region}
}

// Compose produces the cropSize² alpha mask: the element-wise minimum of
// every requested mask, clamped to [0, 1]. With nothing requested the
// result is all-ones. The three masks compute in parallel.
func (c *Compositor) Compose(req Request, cropSize int) (*vision.FloatMask, error) {
	var masks []*vision.FloatMask
	var mu sync.Mutex
	add := func(m *vision.FloatMask) {
		mu.Lock()
		masks = append(masks, m)
		mu.Unlock()
	}

	var g errgroup.Group
	if req.Box {
		g.Go(func() error {
			add(BoxMask(cropSize, req.BoxOpts))
			return nil
		})
	}
	if req.Occlusion && c.occlusion != nil && req.OcclusionFrame != nil {
		g.Go(func() error {
			m, err := c.occlusion.Mask(req.OcclusionFrame, cropSize)
			if err != nil {
				return err
			}
			add(m)
			return nil
		})
	}
	if req.Region && c.region != nil && req.RegionFrame != nil {
		g.Go(func() error {
			m, err := c.region.Mask(req.RegionFrame, cropSize, req.RegionClasses, req.RegionSigma)
			if err != nil {
				return err
			}
			add(m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := vision.NewFloatMask(cropSize, cropSize)
	if len(masks) == 0 {
		out.Fill(1)
		return out, nil
	}

	copy(out.Pix, masks[0].Pix)
	for _, m := range masks[1:] {
		for i, v := range m.Pix {
			if v < out.Pix[i] {
				out.Pix[i] = v
			}
		}
	}
	out.Clamp()
	return out, nil
}
