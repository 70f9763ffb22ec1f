package blur

import (
	"image"
	"slices"
)

// Selection is a snapshot of a mask, taken once and shared read-only by every
// frame a transform is applied to.
type Selection struct {
	rect image.Rectangle
	box  image.Rectangle // Bounds of the masked pixels.
	pix  []uint8         // Nonzero where masked, one byte per pixel, stride rect.Dx().
}

// NewSelection copies m. Later changes to m do not affect the selection.
func NewSelection(m *image.Alpha) *Selection {
	s := &Selection{rect: m.Rect, pix: make([]uint8, m.Rect.Dx()*m.Rect.Dy())}
	w := m.Rect.Dx()
	for y := m.Rect.Min.Y; y < m.Rect.Max.Y; y++ {
		row := m.Pix[m.PixOffset(m.Rect.Min.X, y):][:w]
		copy(s.pix[(y-m.Rect.Min.Y)*w:], row)
		if i := slices.IndexFunc(row, nonzero); i >= 0 {
			j := len(row) - 1
			for row[j] == 0 {
				j--
			}
			r := image.Rect(m.Rect.Min.X+i, y, m.Rect.Min.X+j+1, y+1)
			if s.box.Empty() {
				s.box = r
			} else {
				s.box = s.box.Union(r)
			}
		}
	}
	return s
}

func nonzero(v uint8) bool {
	return v != 0
}

func (s *Selection) Bounds() image.Rectangle {
	return s.rect
}

// Empty reports whether nothing is selected.
func (s *Selection) Empty() bool {
	return s.box.Empty()
}

// Contains reports whether (x, y) is selected.
func (s *Selection) Contains(x, y int) bool {
	if !image.Pt(x, y).In(s.box) {
		return false
	}
	return s.pix[(y-s.rect.Min.Y)*s.rect.Dx()+x-s.rect.Min.X] != 0
}
