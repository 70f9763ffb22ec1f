package compose

import (
	"image"
)

// Output is one frame ready for encoding: the patch at Record.Rect plus the
// source frame's timing, disposal and transparency.
type Output struct {
	Image  *image.NRGBA
	Record *Record
}

// Reassemble maps edited composites back into the sub-rectangles their source
// frames occupied. edited and records must come from the same Extract call,
// without resampling. Output frames keep their record's rect, delay, disposal
// and transparency, so an unedited sequence re-encodes to the source patches.
func Reassemble(edited []*image.NRGBA, records []Record) ([]Output, error) {
	if len(records) == 0 {
		return nil, precondition("no frame records, extract first")
	}
	if len(edited) != len(records) {
		return nil, precondition("%d composited frames for %d records", len(edited), len(records))
	}

	screen := edited[0].Rect
	if screen.Min != (image.Point{}) || screen.Empty() {
		return nil, precondition("composited frame 0 has bounds %v", screen)
	}
	for i, m := range edited {
		if m.Rect != screen {
			return nil, precondition("composited frame %d has bounds %v, want %v", i, m.Rect, screen)
		}
		rec := &records[i]
		if rec.Patch == nil || !rec.Rect.In(screen) || rec.Patch.Rect != rec.Rect {
			return nil, precondition("record %d does not fit the %dx%d canvas", i, screen.Dx(), screen.Dy())
		}
	}

	o := NewOptimizer(screen.Dx(), screen.Dy())
	out := make([]Output, len(records))
	for i := range records {
		out[i] = Output{Image: o.Optimize(edited[i], &records[i]), Record: &records[i]}
	}
	return out, nil
}
