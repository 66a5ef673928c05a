package face

import (
	"math"
	"sort"

	"github.com/your-org/faceforge/internal/vision"
)

// WarpTemplate names a canonical 5-point face layout.
type WarpTemplate int

const (
	TemplateArcFace112v2 WarpTemplate = iota
	TemplateArcFace128v2
	TemplateFFHQ512
)

// Templates are normalised to [0,1] and scaled by the crop size at warp
// time. Values follow the standard ArcFace / FFHQ alignment layouts.
var warpTemplates = map[WarpTemplate][5]Point{
	TemplateArcFace112v2: {
		{X: 0.34191607, Y: 0.46157411},
		{X: 0.65653393, Y: 0.45983393},
		{X: 0.50022500, Y: 0.64050536},
		{X: 0.37097589, Y: 0.82469196},
		{X: 0.63151696, Y: 0.82325089},
	},
	TemplateArcFace128v2: {
		{X: 0.36167656, Y: 0.40387734},
		{X: 0.63696719, Y: 0.40235469},
		{X: 0.50019687, Y: 0.56044219},
		{X: 0.38710391, Y: 0.72160547},
		{X: 0.61507734, Y: 0.72034453},
	},
	TemplateFFHQ512: {
		{X: 0.37691676, Y: 0.46864664},
		{X: 0.62285697, Y: 0.46912813},
		{X: 0.50123859, Y: 0.61331904},
		{X: 0.39308822, Y: 0.72541100},
		{X: 0.61150205, Y: 0.72490465},
	},
}

// TemplatePoints returns the template scaled to a size×size crop.
func TemplatePoints(t WarpTemplate, size int) [5]Point {
	tpl := warpTemplates[t]
	var out [5]Point
	for i, p := range tpl {
		out[i] = Point{X: p.X * float64(size), Y: p.Y * float64(size)}
	}
	return out
}

// EstimateSimilarity fits the least-squares similarity transform (uniform
// scale + rotation + translation) mapping src points onto dst points.
func EstimateSimilarity(src, dst []Point) vision.Affine {
	n := float64(len(src))
	if n == 0 || len(src) != len(dst) {
		return vision.Affine{1, 0, 0, 0, 1, 0}
	}

	var sx, sy, dx, dy float64
	for i := range src {
		sx += src[i].X
		sy += src[i].Y
		dx += dst[i].X
		dy += dst[i].Y
	}
	sx /= n
	sy /= n
	dx /= n
	dy /= n

	// Accumulate cross terms about the centroids.
	var a, b, srcVar float64
	for i := range src {
		usx := src[i].X - sx
		usy := src[i].Y - sy
		udx := dst[i].X - dx
		udy := dst[i].Y - dy
		a += usx*udx + usy*udy
		b += usx*udy - usy*udx
		srcVar += usx*usx + usy*usy
	}
	if srcVar == 0 {
		return vision.Affine{1, 0, 0, 0, 1, 0}
	}

	cosS := a / srcVar
	sinS := b / srcVar

	return vision.Affine{
		cosS, -sinS, dx - cosS*sx + sinS*sy,
		sinS, cosS, dy - sinS*sx - cosS*sy,
	}
}

// WarpByLandmarks5 crops the face into a size×size canonical pose. Returns
// the crop and the affine that maps frame coordinates to crop coordinates.
func WarpByLandmarks5(frame *vision.Frame, landmarks5 []Point, t WarpTemplate, size int) (*vision.Frame, vision.Affine) {
	tpl := TemplatePoints(t, size)
	m := EstimateSimilarity(landmarks5, tpl[:])
	crop := frame.WarpAffine(m, size, size)
	return crop, m
}

// PasteBack composites the crop over the frame through the inverse of the
// crop affine, using the mask as per-pixel alpha. The frame is modified in
// place and returned.
func PasteBack(frame *vision.Frame, crop *vision.Frame, mask *vision.FloatMask, m vision.Affine) *vision.Frame {
	inv := m.Invert()

	// Bound the write region by the crop's corners mapped into frame space.
	corners := [4][2]float64{{0, 0}, {float64(crop.W), 0}, {0, float64(crop.H)}, {float64(crop.W), float64(crop.H)}}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x, y := inv.Apply(c[0], c[1])
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}

	x0 := int(math.Max(0, math.Floor(minX)))
	y0 := int(math.Max(0, math.Floor(minY)))
	x1 := int(math.Min(float64(frame.W), math.Ceil(maxX)))
	y1 := int(math.Min(float64(frame.H), math.Ceil(maxY)))

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			cx, cy := m.Apply(float64(x), float64(y))
			if cx < 0 || cy < 0 || cx > float64(crop.W-1) || cy > float64(crop.H-1) {
				continue
			}
			alpha := sampleMask(mask, cx, cy)
			if alpha <= 0 {
				continue
			}
			if alpha > 1 {
				alpha = 1
			}
			cb, cg, cr := sampleFrame(crop, cx, cy)
			ob, og, or := frame.At(x, y)
			frame.Set(x, y,
				blendU8(ob, cb, alpha),
				blendU8(og, cg, alpha),
				blendU8(or, cr, alpha))
		}
	}
	return frame
}

func sampleFrame(f *vision.Frame, x, y float64) (b, g, r float64) {
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= f.W {
		x1 = f.W - 1
	}
	if y1 >= f.H {
		y1 = f.H - 1
	}
	fx := x - float64(x0)
	fy := y - float64(y0)
	b00, g00, r00 := f.At(x0, y0)
	b01, g01, r01 := f.At(x1, y0)
	b10, g10, r10 := f.At(x0, y1)
	b11, g11, r11 := f.At(x1, y1)
	lerp := func(v00, v01, v10, v11 uint8) float64 {
		top := float64(v00)*(1-fx) + float64(v01)*fx
		bot := float64(v10)*(1-fx) + float64(v11)*fx
		return top*(1-fy) + bot*fy
	}
	return lerp(b00, b01, b10, b11), lerp(g00, g01, g10, g11), lerp(r00, r01, r10, r11)
}

func sampleMask(m *vision.FloatMask, x, y float64) float64 {
	x0 := int(x)
	y0 := int(y)
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= m.W {
		x1 = m.W - 1
	}
	if y1 >= m.H {
		y1 = m.H - 1
	}
	fx := x - float64(x0)
	fy := y - float64(y0)
	top := float64(m.Pix[y0*m.W+x0])*(1-fx) + float64(m.Pix[y0*m.W+x1])*fx
	bot := float64(m.Pix[y1*m.W+x0])*(1-fx) + float64(m.Pix[y1*m.W+x1])*fx
	return top*(1-fy) + bot*fy
}

func blendU8(orig uint8, v, alpha float64) uint8 {
	out := float64(orig)*(1-alpha) + v*alpha
	if out < 0 {
		return 0
	}
	if out > 255 {
		return 255
	}
	return uint8(out + 0.5)
}

// IoU is the intersection-over-union of two boxes.
func IoU(a, b Rect) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Scored pairs a box with its confidence for NMS.
type Scored struct {
	Box   Rect
	Score float64
}

// NMS greedily keeps the highest-scoring boxes, suppressing any box whose
// IoU with a kept box exceeds the threshold. Returns indices into boxes in
// descending-score order.
func NMS(boxes []Scored, iouThreshold float64) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return boxes[order[i]].Score > boxes[order[j]].Score
	})

	suppressed := make([]bool, len(boxes))
	var keep []int
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order {
			if j == i || suppressed[j] {
				continue
			}
			if IoU(boxes[i].Box, boxes[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// Landmarks68To5 condenses a 68-point layout to the 5-point layout
// (eye centres, nose tip, mouth corners).
func Landmarks68To5(lm68 []Point) []Point {
	if len(lm68) != 68 {
		return nil
	}
	mean := func(idx ...int) Point {
		var x, y float64
		for _, i := range idx {
			x += lm68[i].X
			y += lm68[i].Y
		}
		n := float64(len(idx))
		return Point{X: x / n, Y: y / n}
	}
	return []Point{
		mean(36, 37, 38, 39, 40, 41), // left eye
		mean(42, 43, 44, 45, 46, 47), // right eye
		lm68[30],                     // nose tip
		lm68[48],                     // left mouth corner
		lm68[54],                     // right mouth corner
	}
}
