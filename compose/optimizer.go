package compose

import (
	"image"
)

// NewOptimizer returns an Optimizer replaying output frames over a fully
// transparent canvas of the given size.
func NewOptimizer(width, height int) *Optimizer {
	return &Optimizer{s: NewCanvasState(width, height)}
}

// Optimizer cuts edited composites back into frame patches. It keeps the
// canvas a decoder will see after each emitted patch, so pixels the source
// frame left transparent can stay transparent wherever the edit did not
// change what shows through.
type Optimizer struct {
	s CanvasState
}

// Optimize returns the patch for rec, cut from edited at rec.Rect. Partially
// transparent pixels are flattened to either fully transparent or opaque.
// Where rec's source patch held the transparent index and the flattened edit
// equals the replayed canvas, the pixel is left fully transparent.
// Frames must be passed in order.
func (o *Optimizer) Optimize(edited *image.NRGBA, rec *Record) *image.NRGBA {
	o.s = o.s.Dispose()

	pm := image.NewNRGBA(rec.Rect)
	for y := rec.Rect.Min.Y; y < rec.Rect.Max.Y; y++ {
		i, j := edited.PixOffset(rec.Rect.Min.X, y), pm.PixOffset(rec.Rect.Min.X, y)
		flatten(pm.Pix[j:j+4*rec.Rect.Dx()], edited.Pix[i:i+4*rec.Rect.Dx()])
	}
	if rec.Transparent {
		o.passThroughByLine(pm, rec)
	}

	o.s = o.s.Draw(pm, rec.Disposal)
	return pm
}

// passThroughByLine scans each row for runs of pass-through pixels and clears
// them.
func (o *Optimizer) passThroughByLine(pm *image.NRGBA, rec *Record) {
	canvas := o.s.Canvas
	src := rec.Patch
	pass := func(x, y, i, j int) bool {
		if src.Pix[src.PixOffset(x, y)] != rec.TransparentIndex {
			return false
		}
		return pm.Pix[j] == canvas.Pix[i] &&
			pm.Pix[j+1] == canvas.Pix[i+1] &&
			pm.Pix[j+2] == canvas.Pix[i+2] &&
			pm.Pix[j+3] == canvas.Pix[i+3]
	}

	for y := pm.Rect.Min.Y; y < pm.Rect.Max.Y; y++ {
		x0 := pm.Rect.Min.X
		i, j := canvas.PixOffset(x0, y), pm.PixOffset(x0, y)
		var same bool
		var j0 int
		for x := x0; x <= pm.Rect.Max.X; x++ {
			if x == x0 {
				same = pass(x, y, i, j)
				j0 = j
			} else if x == pm.Rect.Max.X || pass(x, y, i, j) != same {
				if same {
					clear(pm.Pix[j0:j])
				}
				same = !same
				j0 = j
			}
			i += 4
			j += 4
		}
	}
}

// flatten copies src into dst, snapping alpha to 0 or 0xff. Fully
// transparent pixels are zeroed so they compare equal.
func flatten(dst, src []uint8) {
	for i := 0; i+3 < len(src); i += 4 {
		if src[i+3] < 0x80 {
			dst[i], dst[i+1], dst[i+2], dst[i+3] = 0, 0, 0, 0
			continue
		}
		dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i], src[i+1], src[i+2], 0xff
	}
}
