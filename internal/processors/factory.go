package processors

import (
	"strings"

	"github.com/your-org/faceforge/internal/analyser"
	"github.com/your-org/faceforge/internal/config"
	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/face"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/masker"
	"github.com/your-org/faceforge/internal/modelrepo"
	"github.com/your-org/faceforge/internal/pipeline"
	"github.com/your-org/faceforge/internal/vision"
)

// Builder materialises pipeline stages from task-config steps, resolving
// model files through the repository and sessions through the bounded
// session pool.
type Builder struct {
	Repo     *modelrepo.Repository
	Pool     *inference.Pool
	Opts     inference.Options
	Analyser *analyser.Analyser
	// DistanceLimit is the default reference-similarity threshold.
	DistanceLimit float64
}

// Build returns the stage for one enabled pipeline step.
func (b *Builder) Build(step config.StepConfig) (pipeline.FrameProcessor, error) {
	params, err := step.DecodeParams()
	if err != nil {
		return nil, err
	}

	switch p := params.(type) {
	case *config.FaceSwapperParams:
		return b.buildSwapper(step, p)
	case *config.FaceEnhancerParams:
		return b.buildEnhancer(step, p)
	case *config.FrameEnhancerParams:
		return b.buildFrameEnhancer(step, p)
	case *config.ExpressionRestorerParams:
		return b.buildExpressionRestorer(step, p)
	}
	return nil, errs.New(errs.CodeMissingField, "unknown pipeline step %q", step.Step)
}

func (b *Builder) session(model string) (*inference.Session, error) {
	path, err := b.Repo.Resolve(model)
	if err != nil {
		return nil, err
	}
	return b.Pool.GetOrCreate(b.Opts.Key(path), func() (*inference.Session, error) {
		return inference.LoadModel(path, b.Opts)
	})
}

func (b *Builder) buildSwapper(step config.StepConfig, p *config.FaceSwapperParams) (pipeline.FrameProcessor, error) {
	session, err := b.session(p.Model)
	if err != nil {
		return nil, err
	}
	swapper := NewInSwapper(session)

	selector, err := b.selector(p.Selector)
	if err != nil {
		return nil, err
	}
	maskSel, compositor, err := b.masking(p.Mask)
	if err != nil {
		return nil, err
	}

	return &FaceAdapter{
		ProcessorName: step.Step + "." + p.Model,
		Analyser:      b.Analyser,
		Compositor:    compositor,
		Selector:      selector,
		Template:      face.TemplateArcFace128v2,
		CropSize:      swapper.CropSize(),
		MaskTypes:     maskSel,
		FaceBlend:     100,
		Apply: func(crop *vision.Frame, fd *pipeline.FrameData) (*vision.Frame, error) {
			source, err := sourceEmbedding(fd)
			if err != nil {
				return nil, err
			}
			return swapper.SwapFace(crop, source)
		},
	}, nil
}

func (b *Builder) buildEnhancer(step config.StepConfig, p *config.FaceEnhancerParams) (pipeline.FrameProcessor, error) {
	session, err := b.session(p.Model)
	if err != nil {
		return nil, err
	}
	enhancer := NewFaceEnhancer(session, ParseEnhancerKind(p.Model))
	enhancer.Weight = p.Weight

	selector, err := b.selector(p.Selector)
	if err != nil {
		return nil, err
	}
	maskSel, compositor, err := b.masking(p.Mask)
	if err != nil {
		return nil, err
	}

	return &FaceAdapter{
		ProcessorName: step.Step + "." + p.Model,
		Analyser:      b.Analyser,
		Compositor:    compositor,
		Selector:      selector,
		Template:      face.TemplateFFHQ512,
		CropSize:      enhancer.CropSize(),
		MaskTypes:     maskSel,
		FaceBlend:     p.Blend,
		Apply: func(crop *vision.Frame, _ *pipeline.FrameData) (*vision.Frame, error) {
			return enhancer.EnhanceFace(crop)
		},
	}, nil
}

func (b *Builder) buildFrameEnhancer(step config.StepConfig, p *config.FrameEnhancerParams) (pipeline.FrameProcessor, error) {
	session, err := b.session(p.Model)
	if err != nil {
		return nil, err
	}
	scale := modelScaleFor(b.Repo.TypeOf(p.Model), p.Model)
	fe := NewFrameEnhancer(step.Step+"."+p.Model, session, vision.TileParams{}, scale)
	fe.Blend = p.Blend
	return fe, nil
}

func (b *Builder) buildExpressionRestorer(step config.StepConfig, p *config.ExpressionRestorerParams) (pipeline.FrameProcessor, error) {
	feature, err := b.session(p.Model + "_feature_extractor")
	if err != nil {
		return nil, err
	}
	motion, err := b.session(p.Model + "_motion_extractor")
	if err != nil {
		return nil, err
	}
	generator, err := b.session(p.Model + "_generator")
	if err != nil {
		return nil, err
	}

	restorer := NewExpressionRestorer(feature, motion, generator)
	restorer.RestoreFactor = p.RestoreFactor

	selector, err := b.selector(p.Selector)
	if err != nil {
		return nil, err
	}
	maskSel, compositor, err := b.masking(p.Mask)
	if err != nil {
		return nil, err
	}

	return &FaceAdapter{
		ProcessorName: step.Step + "." + p.Model,
		Analyser:      b.Analyser,
		Compositor:    compositor,
		Selector:      selector,
		Template:      face.TemplateFFHQ512,
		CropSize:      restorer.CropSize(),
		MaskTypes:     maskSel,
		FaceBlend:     100,
		Apply: func(crop *vision.Frame, fd *pipeline.FrameData) (*vision.Frame, error) {
			source, _ := fd.Meta[MetaSourceFrame].(*vision.Frame)
			if source == nil {
				// Without a source crop the target's own expression stands.
				return crop, nil
			}
			return restorer.Restore(source, crop)
		},
	}, nil
}

// selector converts the config block, loading the reference face when a
// path is given.
func (b *Builder) selector(p config.SelectorParams) (face.SelectorOptions, error) {
	opts := face.SelectorOptions{
		Order:               face.ParseSortOrder(p.Order),
		Position:            p.Position,
		AgeStart:            p.AgeStart,
		AgeEnd:              p.AgeEnd,
		SimilarityThreshold: p.SimilarityThreshold,
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = b.DistanceLimit
	}
	for _, g := range p.Genders {
		opts.Genders = append(opts.Genders, face.ParseGender(g))
	}
	for _, r := range p.Races {
		opts.Races = append(opts.Races, face.ParseRace(r))
	}

	switch p.Mode {
	case "", "all":
		opts.Mode = face.SelectAll
	case "one":
		opts.Mode = face.SelectOne
	case "reference":
		opts.Mode = face.SelectReference
	default:
		return opts, errs.New(errs.CodeParameterOutOfRange, "face_selector_mode %q", p.Mode)
	}

	if opts.Mode == face.SelectReference {
		if p.ReferenceFacePath == "" {
			return opts, errs.New(errs.CodeMissingField, "reference mode requires reference_face_path")
		}
		frame, err := vision.ReadImage(p.ReferenceFacePath)
		if err != nil {
			return opts, err
		}
		ref, err := b.Analyser.GetOneFace(frame, 0, analyser.ModeAll, face.SelectorOptions{
			Order: face.OrderBestWorst,
		})
		if err != nil {
			return opts, err
		}
		opts.ReferenceFace = ref
	}
	return opts, nil
}

// masking converts the mask block and wires the segmentation sessions it
// needs. With no types listed, the padded box mask is the default.
func (b *Builder) masking(p config.MaskParams) (MaskSelection, *masker.Compositor, error) {
	types := p.Types
	if len(types) == 0 {
		types = []string{"box"}
	}

	sel := MaskSelection{
		BoxOpts: masker.BoxOptions{
			Top:        float64(p.BoxPadding[0]),
			Right:      float64(p.BoxPadding[1]),
			Bottom:     float64(p.BoxPadding[2]),
			Left:       float64(p.BoxPadding[3]),
			BlurAmount: p.BoxBlur,
		},
		RegionSigma: 3,
	}
	if sel.BoxOpts.BlurAmount == 0 {
		sel.BoxOpts.BlurAmount = 12
	}

	var occlusion *masker.OcclusionMasker
	var region *masker.RegionMasker

	for _, t := range types {
		switch t {
		case "box":
			sel.Box = true
		case "occlusion":
			model := p.OcclusionModel
			if model == "" {
				model = "xseg_1"
			}
			session, err := b.session(model)
			if err != nil {
				return sel, nil, err
			}
			occlusion = masker.NewOcclusionMasker(session)
			sel.Occlusion = true
		case "region":
			model := p.RegionModel
			if model == "" {
				model = "bisenet_resnet_34"
			}
			session, err := b.session(model)
			if err != nil {
				return sel, nil, err
			}
			region = masker.NewRegionMasker(session)
			sel.Region = true
			for _, name := range p.Regions {
				if id := masker.ParseRegion(name); id >= 0 {
					sel.Regions = append(sel.Regions, id)
				}
			}
			if len(sel.Regions) == 0 {
				sel.Regions = []int{masker.RegionSkin}
			}
		default:
			return sel, nil, errs.New(errs.CodeParameterOutOfRange, "mask type %q", t)
		}
	}

	return sel, masker.NewCompositor(occlusion, region), nil
}

// modelScaleFor infers the upscale factor from the catalog type or the
// model name suffix (x2/x4/x8).
func modelScaleFor(catalogType, model string) int {
	for _, probe := range []struct {
		token string
		scale int
	}{{"x8", 8}, {"x4", 4}, {"x2", 2}} {
		if strings.Contains(catalogType, probe.token) || strings.Contains(model, probe.token) {
			return probe.scale
		}
	}
	return 4
}
