// Package processors implements the pipeline stages that transform
// frames: face swap, face enhancement, expression restoration and
// whole-frame super-resolution. Each concrete processor is presented to
// the pipeline as a FrameProcessor; the shared adapter owns the outer
// loop of warp → model → mask → paste-back → blend.
package processors

import (
	"github.com/your-org/faceforge/internal/analyser"
	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/masker"
	"github.com/your-org/faceforge/internal/pipeline"
	"github.com/your-org/faceforge/internal/vision"
)

// Metadata keys carried on FrameData.
const (
	// MetaSourceEmbedding holds the averaged source identity ([]float32).
	MetaSourceEmbedding = "source_embedding"
	// MetaSourceFrame holds the primary source crop for expression transfer.
	MetaSourceFrame = "source_frame"
)

// FaceAdapter runs a per-face crop model over every selected face in the
// frame and composites the results back.
type FaceAdapter struct {
	ProcessorName string
	Analyser      *analyser.Analyser
	Compositor    *masker.Compositor
	Selector      face.SelectorOptions
	Template      face.WarpTemplate
	CropSize      int
	MaskTypes     MaskSelection
	// Apply transforms one canonical crop. fd provides per-frame metadata
	// (source embedding, source crop).
	Apply func(crop *vision.Frame, fd *pipeline.FrameData) (*vision.Frame, error)
	// FaceBlend linearly blends the processed frame over the original:
	// alpha = FaceBlend / 100, capped at 1. 100 keeps the processed frame.
	FaceBlend int
}

// MaskSelection picks the masks the compositor intersects.
type MaskSelection struct {
	Box         bool
	BoxOpts     masker.BoxOptions
	Occlusion   bool
	Region      bool
	Regions     []int
	RegionSigma float64
}

// Name implements pipeline.FrameProcessor.
func (a *FaceAdapter) Name() string { return a.ProcessorName }

// Process analyses the frame, then for each selected face warps the crop,
// applies the model, composes the mask and pastes the result back.
func (a *FaceAdapter) Process(fd *pipeline.FrameData) error {
	if fd.Frame.Empty() {
		return errs.New(errs.CodeProcessorFailed, "%s: empty frame", a.ProcessorName)
	}

	faces, err := a.Analyser.GetManyFaces(fd.Frame, analyser.ModeAll, a.Selector)
	if err != nil {
		return err
	}
	if len(faces) == 0 {
		return errs.New(errs.CodeNoFaceDetected, "%s: no face selected", a.ProcessorName)
	}

	original := fd.Frame.Clone()
	out := fd.Frame

	for _, f := range faces {
		crop, affine := face.WarpByLandmarks5(out, f.Landmarks5, a.Template, a.CropSize)

		result, err := a.Apply(crop, fd)
		if err != nil {
			return err
		}

		mask, err := a.Compositor.Compose(masker.Request{
			Box:            a.MaskTypes.Box,
			BoxOpts:        a.MaskTypes.BoxOpts,
			Occlusion:      a.MaskTypes.Occlusion,
			OcclusionFrame: crop,
			Region:         a.MaskTypes.Region,
			RegionFrame:    result,
			RegionClasses:  a.MaskTypes.Regions,
			RegionSigma:    a.MaskTypes.RegionSigma,
		}, a.CropSize)
		if err != nil {
			return err
		}
		f.Mask = mask

		out = face.PasteBack(out, result, mask, affine)
	}

	alpha := float64(a.FaceBlend) / 100
	if alpha > 1 {
		alpha = 1
	}
	fd.Frame = vision.BlendFrames(original, out, alpha)
	return nil
}

// sourceEmbedding pulls the averaged identity vector off the frame.
func sourceEmbedding(fd *pipeline.FrameData) ([]float32, error) {
	v, ok := fd.Meta[MetaSourceEmbedding]
	if !ok {
		return nil, errs.New(errs.CodeProcessorFailed, "frame carries no source embedding")
	}
	emb, ok := v.([]float32)
	if !ok || len(emb) == 0 {
		return nil, errs.New(errs.CodeProcessorFailed, "source embedding has wrong type")
	}
	return emb, nil
}
