package vision

// TileParams bounds GPU memory for whole-frame models: the input is split
// into overlapping size×size windows, inference runs per tile, and the
// central regions are stitched back.
type TileParams struct {
	Size     int
	PadOuter int
	PadInner int
}

// Stride is the distance between tile origins.
func (p TileParams) Stride() int { return p.Size - 2*p.PadInner }

// CreateTiles letter-pads the frame and slices it into overlapping tiles.
// Returns the tiles, and the padded canvas dimensions (needed to undo the
// padding after merge).
func CreateTiles(f *Frame, p TileParams) (tiles []*Frame, padW, padH int) {
	stride := p.Stride()

	// Outer padding on all sides.
	baseW := f.W + 2*p.PadOuter
	baseH := f.H + 2*p.PadOuter

	// Extend bottom-right so both dimensions are a stride multiple.
	padW = baseW
	if rem := (padW - 2*p.PadInner) % stride; rem != 0 {
		padW += stride - rem
	}
	padH = baseH
	if rem := (padH - 2*p.PadInner) % stride; rem != 0 {
		padH += stride - rem
	}

	canvas := NewFrame(padW, padH)
	for y := 0; y < f.H; y++ {
		srcOff := y * f.W * 3
		dstOff := ((y+p.PadOuter)*padW + p.PadOuter) * 3
		copy(canvas.Pix[dstOff:dstOff+f.W*3], f.Pix[srcOff:srcOff+f.W*3])
	}

	for ty := 0; ty+p.Size <= padH; ty += stride {
		for tx := 0; tx+p.Size <= padW; tx += stride {
			tile := NewFrame(p.Size, p.Size)
			for y := 0; y < p.Size; y++ {
				srcOff := ((ty+y)*padW + tx) * 3
				copy(tile.Pix[y*p.Size*3:(y+1)*p.Size*3], canvas.Pix[srcOff:srcOff+p.Size*3])
			}
			tiles = append(tiles, tile)
		}
	}
	return tiles, padW, padH
}

// MergeTiles reassembles processed tiles into a frame of outW×outH. All
// tile geometry is expressed in output scale: callers multiply the params
// and padded dims by the model's scale factor before merging. The
// padInner-wide border of each tile is discarded.
func MergeTiles(tiles []*Frame, outW, outH, padW, padH int, p TileParams) *Frame {
	stride := p.Stride()
	canvas := NewFrame(padW, padH)

	i := 0
	for ty := 0; ty+p.Size <= padH; ty += stride {
		for tx := 0; tx+p.Size <= padW; tx += stride {
			if i >= len(tiles) {
				break
			}
			tile := tiles[i]
			i++
			for y := p.PadInner; y < p.Size-p.PadInner; y++ {
				srcOff := (y*tile.W + p.PadInner) * 3
				dstOff := ((ty+y)*padW + tx + p.PadInner) * 3
				n := (p.Size - 2*p.PadInner) * 3
				copy(canvas.Pix[dstOff:dstOff+n], tile.Pix[srcOff:srcOff+n])
			}
		}
	}

	// Crop away the outer padding back to the requested output size.
	out := NewFrame(outW, outH)
	for y := 0; y < outH; y++ {
		srcOff := ((y+p.PadOuter)*padW + p.PadOuter) * 3
		copy(out.Pix[y*outW*3:(y+1)*outW*3], canvas.Pix[srcOff:srcOff+outW*3])
	}
	return out
}
