package processors

import (
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceforge/internal/errs"
	"github.com/your-org/faceforge/internal/inference"
	"github.com/your-org/faceforge/internal/pipeline"
	"github.com/your-org/faceforge/internal/vision"
)

// FrameEnhancer upscales whole frames through Real-ESRGAN / Real-HAT-GAN,
// tiling the input to bound GPU memory. It implements the pipeline stage
// directly: no face analysis is involved.
type FrameEnhancer struct {
	ProcessorName string
	session       *inference.Session
	Tile          vision.TileParams
	ModelScale    int
	// Blend mixes the upscaled result with a bicubic upscale of the
	// original: alpha = Blend / 100, capped at 1.
	Blend int
}

// NewFrameEnhancer wraps a loaded super-resolution session.
func NewFrameEnhancer(name string, session *inference.Session, tile vision.TileParams, modelScale int) *FrameEnhancer {
	if tile.Size == 0 {
		tile = vision.TileParams{Size: 256, PadOuter: 16, PadInner: 8}
	}
	if modelScale == 0 {
		modelScale = 4
	}
	return &FrameEnhancer{
		ProcessorName: name,
		session:       session,
		Tile:          tile,
		ModelScale:    modelScale,
		Blend:         80,
	}
}

func (e *FrameEnhancer) Name() string { return e.ProcessorName }

// Process replaces the frame with its upscaled version.
func (e *FrameEnhancer) Process(fd *pipeline.FrameData) error {
	if fd.Frame.Empty() {
		return errs.New(errs.CodeProcessorFailed, "%s: empty frame", e.ProcessorName)
	}
	out, err := e.EnhanceFrame(fd.Frame)
	if err != nil {
		return err
	}
	fd.Frame = out
	return nil
}

// EnhanceFrame tiles, infers, merges and blends. The output frame is
// (W·scale)×(H·scale).
func (e *FrameEnhancer) EnhanceFrame(frame *vision.Frame) (*vision.Frame, error) {
	tiles, padW, padH := vision.CreateTiles(frame, e.Tile)

	outTiles := make([]*vision.Frame, len(tiles))
	for i, tile := range tiles {
		out, err := e.enhanceTile(tile)
		if err != nil {
			return nil, err
		}
		outTiles[i] = out
	}

	scaled := vision.TileParams{
		Size:     e.Tile.Size * e.ModelScale,
		PadOuter: e.Tile.PadOuter * e.ModelScale,
		PadInner: e.Tile.PadInner * e.ModelScale,
	}
	merged := vision.MergeTiles(outTiles,
		frame.W*e.ModelScale, frame.H*e.ModelScale,
		padW*e.ModelScale, padH*e.ModelScale, scaled)

	alpha := float64(e.Blend) / 100
	if alpha > 1 {
		alpha = 1
	}
	if alpha >= 1 {
		return merged, nil
	}
	upscaled := frame.ResizeBicubic(merged.W, merged.H)
	return vision.BlendFrames(upscaled, merged, alpha), nil
}

func (e *FrameEnhancer) enhanceTile(tile *vision.Frame) (*vision.Frame, error) {
	data := tile.ToCHW([3]float32{0, 0, 0}, [3]float32{255, 255, 255})
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(tile.H), int64(tile.W)), data)
	if err != nil {
		return nil, errs.Wrap(errs.CodeProcessorFailed, err, "tile input tensor")
	}
	defer input.Destroy()

	outputs, err := e.session.Run([]ort.Value{input})
	if err != nil {
		return nil, err
	}
	defer destroyValues(outputs)

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "tile output is not float32")
	}
	shape := t.GetShape()
	if len(shape) != 4 {
		return nil, errs.New(errs.CodeModelVersionIncompatible, "tile output shape %v", shape)
	}
	return vision.FrameFromCHW(t.GetData(), int(shape[3]), int(shape[2]), 255, 0), nil
}
