// Package mask holds the painted region a retouch applies to.
//
// A Mask is an alpha buffer at canvas size. Painting only ever adds coverage;
// the only way to remove it is Clear.
package mask

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

type Mask struct {
	a *image.Alpha
}

// New returns an empty mask covering a width by height canvas.
func New(width, height int) *Mask {
	return &Mask{a: image.NewAlpha(image.Rect(0, 0, width, height))}
}

func (m *Mask) Bounds() image.Rectangle {
	return m.a.Rect
}

// Alpha exposes the underlying buffer. Callers must not modify it.
func (m *Mask) Alpha() *image.Alpha {
	return m.a
}

// Paint adds a filled circle of radius r centered on p, in canvas pixels.
// Parts of the circle outside the canvas are ignored; r <= 0 paints nothing.
func (m *Mask) Paint(p image.Point, r int) {
	if r <= 0 {
		return
	}
	c := circle{p: p, r: r}
	b := c.Bounds().Intersect(m.a.Rect)
	if b.Empty() {
		return
	}
	draw.Draw(m.a, b, c, b.Min, draw.Over)
}

// Stroke paints circles of radius r along the segment from p to q, spaced
// closely enough that consecutive stamps overlap.
func (m *Mask) Stroke(p, q image.Point, r int) {
	if r <= 0 {
		return
	}
	d := q.Sub(p)
	dist := math.Hypot(float64(d.X), float64(d.Y))
	step := math.Max(1, float64(r)/2)
	n := int(math.Ceil(dist / step))
	for i := 0; i <= n; i++ {
		t := 0.0
		if n > 0 {
			t = float64(i) / float64(n)
		}
		m.Paint(image.Pt(
			p.X+int(math.Round(t*float64(d.X))),
			p.Y+int(math.Round(t*float64(d.Y))),
		), r)
	}
}

// Clear resets every pixel to unmasked.
func (m *Mask) Clear() {
	clear(m.a.Pix)
}

// Empty reports whether no pixel is masked.
func (m *Mask) Empty() bool {
	for _, v := range m.a.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of masked pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.a.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// FromViewport converts a point in display coordinates to canvas pixels,
// given the size the canvas is rendered at and its intrinsic size.
func FromViewport(x, y float64, rendered, intrinsic image.Point) image.Point {
	sx, sy := 1.0, 1.0
	if rendered.X > 0 {
		sx = float64(intrinsic.X) / float64(rendered.X)
	}
	if rendered.Y > 0 {
		sy = float64(intrinsic.Y) / float64(rendered.Y)
	}
	return image.Pt(int(math.Floor(x*sx)), int(math.Floor(y*sy)))
}

// circle is an alpha image that is opaque within r of p.
type circle struct {
	p image.Point
	r int
}

func (c circle) ColorModel() color.Model {
	return color.AlphaModel
}

func (c circle) Bounds() image.Rectangle {
	return image.Rect(c.p.X-c.r, c.p.Y-c.r, c.p.X+c.r+1, c.p.Y+c.r+1)
}

func (c circle) At(x, y int) color.Color {
	dx, dy := x-c.p.X, y-c.p.Y
	if dx*dx+dy*dy <= c.r*c.r {
		return color.Opaque
	}
	return color.Transparent
}
