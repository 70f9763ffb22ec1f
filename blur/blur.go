// Package blur retouches the masked region of composited frames.
//
// One transform, Apply, serves both the live preview of a single frame and
// the commit that rewrites every frame. Values are always computed from the
// frame as it was before the call, so the two paths give identical pixels.
package blur

import (
	"fmt"
	"image"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/tastycreative/gifretouch/compose"
)

// Apply transforms the pixels of m selected by sel. When inPlace is false m is
// left untouched and a new image is returned; otherwise m is rewritten and
// returned. Unselected pixels pass through unchanged.
func Apply(m *image.NRGBA, sel *Selection, p Params, inPlace bool) (*image.NRGBA, error) {
	if err := check(m, sel, p); err != nil {
		return nil, err
	}
	if sel.Empty() {
		if inPlace {
			return m, nil
		}
		return clone(m), nil
	}

	src, dst := m, clone(m)
	if inPlace {
		src, dst = dst, m
	}
	p = p.Clamped()
	switch p.Kind {
	case Gaussian:
		boxAverage(dst, src, sel, p.Radius())
	case Pixelated:
		blockSnap(dst, src, sel, p.BlockSize())
	case Mosaic:
		blockAverage(dst, src, sel, p.BlockSize())
	}
	return dst, nil
}

// Preview returns a transformed copy of frame.
func Preview(frame *image.NRGBA, sel *Selection, p Params) (*image.NRGBA, error) {
	return Apply(frame, sel, p, false)
}

// Commit transforms every frame in place with the same selection. All frames
// are checked first, so an error leaves every frame untouched.
func Commit(frames []*image.NRGBA, sel *Selection, p Params) error {
	for _, f := range frames {
		if err := check(f, sel, p); err != nil {
			return err
		}
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, f := range frames {
		f := f
		g.Go(func() error {
			_, err := Apply(f, sel, p, true)
			return err
		})
	}
	return g.Wait()
}

func check(m *image.NRGBA, sel *Selection, p Params) error {
	if m == nil || sel == nil {
		return &compose.PreconditionError{Reason: "missing frame or selection"}
	}
	if m.Rect != sel.Bounds() {
		return &compose.PreconditionError{Reason: fmt.Sprintf("mask %v does not match frame %v", sel.Bounds(), m.Rect)}
	}
	if p.Kind < Gaussian || p.Kind > Mosaic {
		return fmt.Errorf("blur: unknown kind %d", int(p.Kind))
	}
	return nil
}

func clone(m *image.NRGBA) *image.NRGBA {
	dup := *m
	dup.Pix = slices.Clone(m.Pix)
	return &dup
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// boxAverage averages the (2r+1)² neighborhood of every selected pixel,
// clamping samples to the image edge. Row sums are computed once per row and
// reused for every selected pixel.
func boxAverage(dst, src *image.NRGBA, sel *Selection, r int) {
	if r == 0 {
		return
	}
	b := sel.box
	minX, maxX := src.Rect.Min.X, src.Rect.Max.X-1
	minY, maxY := src.Rect.Min.Y, src.Rect.Max.Y-1
	rows := image.Rect(b.Min.X, b.Min.Y-r, b.Max.X, b.Max.Y+r).Intersect(src.Rect)

	w := 4 * b.Dx()
	h := make([]uint32, w*rows.Dy())
	for y := rows.Min.Y; y < rows.Max.Y; y++ {
		row := h[w*(y-rows.Min.Y):][:w]
		var sum [4]uint32
		for dx := -r; dx <= r; dx++ {
			i := src.PixOffset(clamp(b.Min.X+dx, minX, maxX), y)
			for c := range sum {
				sum[c] += uint32(src.Pix[i+c])
			}
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			copy(row[4*(x-b.Min.X):], sum[:])
			out := src.PixOffset(clamp(x-r, minX, maxX), y)
			in := src.PixOffset(clamp(x+r+1, minX, maxX), y)
			for c := range sum {
				sum[c] = sum[c] + uint32(src.Pix[in+c]) - uint32(src.Pix[out+c])
			}
		}
	}

	n := uint32((2*r + 1) * (2*r + 1))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !sel.Contains(x, y) {
				continue
			}
			var sum [4]uint32
			i := 4 * (x - b.Min.X)
			for dy := -r; dy <= r; dy++ {
				row := h[w*(clamp(y+dy, minY, maxY)-rows.Min.Y)+i:]
				for c := range sum {
					sum[c] += row[c]
				}
			}
			d := dst.PixOffset(x, y)
			for c := range sum {
				dst.Pix[d+c] = uint8((sum[c] + n/2) / n)
			}
		}
	}
}

// blockSnap gives every selected pixel the value of the top-left pixel of its
// s×s block. Blocks are aligned to the image origin.
func blockSnap(dst, src *image.NRGBA, sel *Selection, s int) {
	b, o := sel.box, src.Rect.Min
	for y := b.Min.Y; y < b.Max.Y; y++ {
		ty := o.Y + (y-o.Y)/s*s
		for x := b.Min.X; x < b.Max.X; x++ {
			if !sel.Contains(x, y) {
				continue
			}
			tx := o.X + (x-o.X)/s*s
			copy(dst.Pix[dst.PixOffset(x, y):][:4], src.Pix[src.PixOffset(tx, ty):][:4])
		}
	}
}

// blockAverage gives every selected pixel the mean of its s×s block, clipped
// to the image.
func blockAverage(dst, src *image.NRGBA, sel *Selection, s int) {
	b, o := sel.box, src.Rect.Min
	for by := o.Y + (b.Min.Y-o.Y)/s*s; by < b.Max.Y; by += s {
		for bx := o.X + (b.Min.X-o.X)/s*s; bx < b.Max.X; bx += s {
			blk := image.Rect(bx, by, bx+s, by+s).Intersect(src.Rect)
			if !selected(sel, blk) {
				continue
			}

			var sum [4]uint32
			for y := blk.Min.Y; y < blk.Max.Y; y++ {
				i := src.PixOffset(blk.Min.X, y)
				for x := blk.Min.X; x < blk.Max.X; x, i = x+1, i+4 {
					for c := range sum {
						sum[c] += uint32(src.Pix[i+c])
					}
				}
			}
			n := uint32(blk.Dx() * blk.Dy())
			var mean [4]uint8
			for c := range mean {
				mean[c] = uint8((sum[c] + n/2) / n)
			}

			for y := blk.Min.Y; y < blk.Max.Y; y++ {
				for x := blk.Min.X; x < blk.Max.X; x++ {
					if sel.Contains(x, y) {
						copy(dst.Pix[dst.PixOffset(x, y):][:4], mean[:])
					}
				}
			}
		}
	}
}

func selected(sel *Selection, r image.Rectangle) bool {
	r = r.Intersect(sel.box)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if sel.Contains(x, y) {
				return true
			}
		}
	}
	return false
}
