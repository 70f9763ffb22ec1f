// Package compose replays animated GIF frames through their disposal methods.
//
// Extract turns decoded frames into full-canvas composites, one per frame, and
// keeps a Record of each source frame. Reassemble is its inverse: it maps
// edited composites back into each frame's original sub-rectangle so the
// re-encoded stream keeps the source's timing, disposal and frame layout.
package compose

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/image/draw"

	"github.com/tastycreative/gifretouch"
)

// Record preserves what reassembly needs from one decoded frame.
type Record struct {
	Index            int             // Position in the decoded stream.
	Rect             image.Rectangle // Sub-rectangle on the logical screen, clipped to it.
	Patch            *image.Paletted // Source pixels, bounds equal to Rect.
	Delay            time.Duration
	Disposal         byte
	Transparent      bool
	TransparentIndex byte
}

// Options control extraction.
type Options struct {
	// Width and Height resample each composite when both are set and differ
	// from the logical screen. Resampled composites are for display only and
	// cannot be reassembled.
	Width, Height int
	Resample      draw.Interpolator // draw.NearestNeighbor when nil.
	Logger        *slog.Logger      // slog.Default() when nil.
}

// Result holds composites and records of equal length; index i in both refers
// to the same frame.
type Result struct {
	Width, Height int // Logical screen size.
	Frames        []*image.NRGBA
	Records       []Record
}

// Extract composites every frame of g over a canvas seeded fully transparent.
// Frames with an empty or malformed patch are skipped with a warning; when no
// frame survives an *ExtractionError is returned.
func Extract(g *gif.GIF, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	interp := opts.Resample
	if interp == nil {
		interp = draw.NearestNeighbor
	}

	w, h := g.Config.Width, g.Config.Height
	screen := image.Rect(0, 0, w, h)
	resize := opts.Width > 0 && opts.Height > 0 && (opts.Width != w || opts.Height != h)

	res := &Result{Width: w, Height: h}
	s := NewCanvasState(w, h)
	for i, f := range g.Frames {
		rec, err := newRecord(i, f, screen)
		if err != nil {
			log.Warn("compose: frame skipped", "index", i, "reason", err)
			continue
		}

		s = s.Step(rec.Patch, rec.Disposal)
		frame := s.Canvas
		if resize {
			frame = Resample(s.Canvas, opts.Width, opts.Height, interp)
		}
		res.Frames = append(res.Frames, frame)
		res.Records = append(res.Records, rec)
	}

	if len(res.Frames) == 0 {
		return nil, &ExtractionError{Decoded: len(g.Frames)}
	}
	log.Debug("compose: frames extracted",
		"decoded", len(g.Frames),
		"extracted", len(res.Frames),
		"width", w,
		"height", h)
	return res, nil
}

// Resample scales m to width by height.
func Resample(m *image.NRGBA, width, height int, interp draw.Interpolator) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	interp.Scale(dst, dst.Rect, m, m.Rect, draw.Src, nil)
	return dst
}

func newRecord(i int, f *gif.Frame, screen image.Rectangle) (Record, error) {
	if f == nil || f.Image == nil {
		return Record{}, errors.New("missing image")
	}
	r := f.Image.Rect.Intersect(screen)
	if r.Empty() {
		return Record{}, fmt.Errorf("empty patch %v", f.Image.Rect)
	}
	if len(f.Image.Palette) == 0 {
		return Record{}, errors.New("no color table")
	}
	if len(f.Image.Pix) < f.Image.PixOffset(f.Image.Rect.Max.X-1, f.Image.Rect.Max.Y-1)+1 {
		return Record{}, errors.New("short pixel data")
	}

	patch := f.Image
	if r != patch.Rect {
		patch = patch.SubImage(r).(*image.Paletted)
	}
	n := len(patch.Palette)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := patch.Pix[patch.PixOffset(r.Min.X, y):][:r.Dx()]
		for _, c := range row {
			if int(c) >= n && !(f.Transparent && c == f.TransparentIndex) {
				return Record{}, fmt.Errorf("pixel index %d outside %d color table", c, n)
			}
		}
	}

	return Record{
		Index:            i,
		Rect:             r,
		Patch:            patch,
		Delay:            f.DelayTime,
		Disposal:         f.DisposalMethod,
		Transparent:      f.Transparent,
		TransparentIndex: f.TransparentIndex,
	}, nil
}
