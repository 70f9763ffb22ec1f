package editor

import (
	"context"
	"image"
	"image/color"
	"io"
	"slices"

	"github.com/ericpauley/go-quantize/quantize"

	"github.com/tastycreative/gifretouch"
	"github.com/tastycreative/gifretouch/compose"
)

// Screen describes the logical screen an encoding is written for.
type Screen struct {
	Width, Height   int
	Palette         color.Palette // Global color table, may be nil.
	BackgroundIndex byte
}

// Encode writes outs as an animated GIF. Each frame keeps its record's rect,
// delay, disposal and transparency. A frame whose pixels all exist in its
// source palette is written with that palette, preferring the source indices;
// any other frame gets a median cut palette built from its pixels.
// Cancelling ctx between frames aborts with an *EncodeAbort and nothing is
// written to w.
func Encode(ctx context.Context, w io.Writer, outs []compose.Output, scr Screen, cfg EncodeConfig) error {
	frames := make([]*gif.Frame, len(outs))
	for i, o := range outs {
		if err := ctx.Err(); err != nil {
			return &EncodeAbort{Err: err}
		}
		pm, transparent, ti := palettize(o, cfg)
		frames[i] = &gif.Frame{
			Image:            pm,
			DelayTime:        o.Record.Delay,
			DisposalMethod:   o.Record.Disposal,
			Transparent:      transparent,
			TransparentIndex: ti,
		}
	}
	if err := ctx.Err(); err != nil {
		return &EncodeAbort{Err: err}
	}

	var cfgModel color.Model
	if len(scr.Palette) > 0 {
		cfgModel = scr.Palette
	}
	err := gif.NewEncoder(w).Encode(&gif.GIF{
		Config: image.Config{
			ColorModel: cfgModel,
			Width:      scr.Width,
			Height:     scr.Height,
		},
		BackgroundIndex: scr.BackgroundIndex,
		LoopCount:       cfg.LoopCount,
		Frames:          frames,
	})
	if err != nil {
		return &EncodeAbort{Err: err}
	}
	return nil
}

func palettize(o compose.Output, cfg EncodeConfig) (*image.Paletted, bool, byte) {
	if pm, ok := reuse(o); ok {
		return pm, o.Record.Transparent, o.Record.TransparentIndex
	}

	m := o.Image
	clearPix := o.Record.Transparent
	for i := 3; i < len(m.Pix) && !clearPix; i += 4 {
		clearPix = m.Pix[i] == 0
	}
	q := quantize.MedianCutQuantizer{
		Aggregation:    cfg.aggregation(),
		AddTransparent: clearPix,
	}
	pm := gif.Palettize(m,
		gif.WithNumColors(cfg.NumColors),
		gif.WithQuantizer(q),
		gif.WithDrawer(cfg.Drawer()),
	)
	for i, c := range pm.Palette {
		if _, _, _, a := c.RGBA(); a == 0 {
			return pm, true, byte(i)
		}
	}
	return pm, false, 0
}

// reuse maps o onto its source palette. It fails when a pixel's color is not
// in the palette, or a pixel is transparent and the source frame has no
// transparent index.
func reuse(o compose.Output) (*image.Paletted, bool) {
	rec, m := o.Record, o.Image
	src := rec.Patch
	pal := src.Palette
	n := len(pal)
	if rec.Transparent && int(rec.TransparentIndex) >= n {
		pal = slices.Clone(pal)
		for len(pal) <= int(rec.TransparentIndex) {
			pal = append(pal, color.RGBA{})
		}
	}

	var lookup map[color.NRGBA]uint8
	pm := image.NewPaletted(m.Rect, pal)
	for y := m.Rect.Min.Y; y < m.Rect.Max.Y; y++ {
		for x := m.Rect.Min.X; x < m.Rect.Max.X; x++ {
			c := m.NRGBAAt(x, y)
			dst := &pm.Pix[pm.PixOffset(x, y)]
			if c.A == 0 {
				if !rec.Transparent {
					return nil, false
				}
				*dst = rec.TransparentIndex
				continue
			}
			if idx := src.Pix[src.PixOffset(x, y)]; int(idx) < n && !(rec.Transparent && idx == rec.TransparentIndex) &&
				color.NRGBAModel.Convert(pal[idx]).(color.NRGBA) == c {
				*dst = idx
				continue
			}
			if lookup == nil {
				lookup = make(map[color.NRGBA]uint8, n)
				for i := n - 1; i >= 0; i-- {
					if rec.Transparent && i == int(rec.TransparentIndex) {
						continue
					}
					lookup[color.NRGBAModel.Convert(pal[i]).(color.NRGBA)] = uint8(i)
				}
			}
			idx, ok := lookup[c]
			if !ok {
				return nil, false
			}
			*dst = idx
		}
	}
	return pm, true
}
