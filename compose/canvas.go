package compose

import (
	"image"
	"image/color"
	"slices"

	"github.com/tastycreative/gifretouch"
)

// CanvasState is the running canvas of a disposal-aware replay.
//
// States are values: Dispose and Draw return a new state and never write to a
// buffer that an earlier state, or a composite handed out from one, can observe.
// The restore-to-previous snapshot is a single slot holding the pre-draw canvas
// of the most recent DisposalPrevious frame.
type CanvasState struct {
	Canvas *image.NRGBA

	saved    *image.NRGBA
	lastRect image.Rectangle
	lastDisp byte
}

// NewCanvasState returns a fully transparent canvas of the given size.
func NewCanvasState(width, height int) CanvasState {
	return CanvasState{Canvas: image.NewNRGBA(image.Rect(0, 0, width, height))}
}

// Dispose applies the disposal method of the most recently drawn frame.
// Calling it again before the next Draw is a no-op.
func (s CanvasState) Dispose() CanvasState {
	switch s.lastDisp {
	case gif.DisposalBackground:
		c := cloneNRGBA(s.Canvas)
		clearRect(c, s.lastRect)
		s.Canvas = c
	case gif.DisposalPrevious:
		if s.saved != nil {
			s.Canvas = s.saved
		}
	}
	s.lastDisp = gif.DisposalUnspecified
	s.lastRect = image.Rectangle{}
	return s
}

// Draw copies patch onto the canvas at patch.Bounds(). Pixels with zero alpha
// leave the canvas untouched; every other pixel replaces it. disposal is the
// patch's own method, applied by the next Dispose.
func (s CanvasState) Draw(patch image.Image, disposal byte) CanvasState {
	if disposal == gif.DisposalPrevious {
		s.saved = s.Canvas
	}
	c := cloneNRGBA(s.Canvas)
	r := patch.Bounds().Intersect(c.Rect)
	switch p := patch.(type) {
	case *image.Paletted:
		drawPaletted(c, r, p)
	case *image.NRGBA:
		drawNRGBA(c, r, p)
	default:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if nc := color.NRGBAModel.Convert(patch.At(x, y)).(color.NRGBA); nc.A != 0 {
					c.SetNRGBA(x, y, nc)
				}
			}
		}
	}
	s.Canvas = c
	s.lastRect = r
	s.lastDisp = disposal
	return s
}

// Step disposes of the previous frame and draws the next one.
func (s CanvasState) Step(patch image.Image, disposal byte) CanvasState {
	return s.Dispose().Draw(patch, disposal)
}

func drawPaletted(dst *image.NRGBA, r image.Rectangle, p *image.Paletted) {
	var table [256][4]uint8
	for i, c := range p.Palette {
		if i == len(table) {
			break
		}
		nc := color.NRGBAModel.Convert(c).(color.NRGBA)
		table[i] = [4]uint8{nc.R, nc.G, nc.B, nc.A}
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		si := p.PixOffset(r.Min.X, y)
		di := dst.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, si, di = x+1, si+1, di+4 {
			if px := table[p.Pix[si]]; px[3] != 0 {
				copy(dst.Pix[di:di+4], px[:])
			}
		}
	}
}

func drawNRGBA(dst *image.NRGBA, r image.Rectangle, p *image.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		si := p.PixOffset(r.Min.X, y)
		di := dst.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, si, di = x+1, si+4, di+4 {
			if p.Pix[si+3] != 0 {
				copy(dst.Pix[di:di+4], p.Pix[si:si+4])
			}
		}
	}
}

func clearRect(m *image.NRGBA, r image.Rectangle) {
	r = r.Intersect(m.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := m.PixOffset(r.Min.X, y)
		clear(m.Pix[i : i+4*r.Dx()])
	}
}

func cloneNRGBA(m *image.NRGBA) *image.NRGBA {
	dup := *m
	dup.Pix = slices.Clone(m.Pix)
	return &dup
}

// Clone returns a deep copy of every frame.
func Clone(frames []*image.NRGBA) []*image.NRGBA {
	dup := make([]*image.NRGBA, len(frames))
	for i, f := range frames {
		dup[i] = cloneNRGBA(f)
	}
	return dup
}
