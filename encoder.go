package gif

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"io"
	"math"
	"time"
	"unicode"

	"golang.org/x/image/draw"
)

func NewEncoder(w io.Writer) *Encoder {
	w1, _ := w.(writer)
	if w1 == nil {
		w1 = bufio.NewWriter(w)
	}
	return &encoder{w: w1}
}

type Encoder = encoder

// Encode writes every frame of g. A zero Config size is derived from the union of the frame bounds.
func (e *Encoder) Encode(g *GIF) error {
	if len(g.Frames) == 0 {
		return errors.New("gif: must provide at least one frame")
	}

	cfg := g.Config
	if cfg.Width == 0 && cfg.Height == 0 {
		var r image.Rectangle
		for _, f := range g.Frames {
			r = r.Union(f.Image.Rect)
		}
		cfg.Width = r.Max.X
		cfg.Height = r.Max.Y
	}

	if err := e.WriteHeader(cfg, g.BackgroundIndex); err != nil {
		return err
	}
	if len(g.Frames) > 1 && g.LoopCount >= 0 {
		if err := e.WriteApplicationNetscape(&ApplicationNetscape{LoopCount: g.LoopCount}); err != nil {
			return err
		}
	}

	for _, f := range g.Frames {
		if err := e.WriteFrame(f); err != nil {
			return err
		}
	}
	if err := e.WriteTrailer(); err != nil {
		return err
	}
	return e.Flush()
}

// Options control how Palettize maps an arbitrary image onto a palette.
type Options struct {
	NumColors int            // Maximum palette size, 1 to 256.
	Quantizer draw.Quantizer // Builds the palette; palette.Plan9 is used when nil.
	Drawer    draw.Drawer    // Maps pixels onto the palette; draw.FloydSteinberg when nil.
}

type Option func(*Options)

func WithNumColors(n int) Option {
	return func(o *Options) {
		o.NumColors = n
	}
}

func WithQuantizer(q draw.Quantizer) Option {
	return func(o *Options) {
		o.Quantizer = q
	}
}

func WithDrawer(d draw.Drawer) Option {
	return func(o *Options) {
		o.Drawer = d
	}
}

// Palettize converts m to a paletted image with the same bounds. Paletted images
// that already fit within NumColors are returned as is.
func Palettize(m image.Image, o ...Option) *image.Paletted {
	opts := &Options{}
	for _, o := range o {
		o(opts)
	}
	if opts.NumColors < 1 || 256 < opts.NumColors {
		opts.NumColors = 256
	}
	if opts.Drawer == nil {
		opts.Drawer = draw.FloydSteinberg
	}

	b := m.Bounds()
	pm, _ := m.(*image.Paletted)
	if pm == nil {
		if cp, ok := m.ColorModel().(color.Palette); ok {
			pm = image.NewPaletted(b, cp)
			for y := b.Min.Y; y < b.Max.Y; y++ {
				for x := b.Min.X; x < b.Max.X; x++ {
					pm.Set(x, y, cp.Convert(m.At(x, y)))
				}
			}
		}
	}
	if pm == nil || len(pm.Palette) > opts.NumColors {
		pm = image.NewPaletted(b, palette.Plan9[:opts.NumColors])
		if opts.Quantizer != nil {
			pm.Palette = opts.Quantizer.Quantize(make(color.Palette, 0, opts.NumColors), m)
		}
		opts.Drawer.Draw(pm, b, m, b.Min)
	}
	return pm
}

func (e *Encoder) WriteHeader(cfg image.Config, backgroundIndex byte) error {
	if cfg.ColorModel != nil {
		if _, ok := cfg.ColorModel.(color.Palette); !ok {
			return errors.New("gif: color model must be a color.Palette")
		}
	}
	if cfg.Width > math.MaxUint16 || cfg.Height > math.MaxUint16 {
		return errors.New("gif: logical screen is too large to encode")
	}

	e.g.Config = cfg
	e.g.BackgroundIndex = backgroundIndex
	e.writeHeader()
	return e.err
}

// WritePlainText writes a plain text extension, preceded by a graphic control
// extension when it carries a delay or disposal.
func (e *Encoder) WritePlainText(pt *PlainText) error {
	if err := checkText(pt.Strings); err != nil {
		return fmt.Errorf("gif: plain text %v", err)
	}
	if pt.DelayTime > 0 || pt.DisposalMethod != 0 {
		e.writeGraphicControl(delay(pt.DelayTime), pt.DisposalMethod, false, 0)
	}

	var grid [13]byte
	grid[0] = 0x0c
	writeUint16(grid[1:3], pt.TextGridLeftPosition)
	writeUint16(grid[3:5], pt.TextGridTopPosition)
	writeUint16(grid[5:7], pt.TextGridWidth)
	writeUint16(grid[7:9], pt.TextGridHeight)
	grid[9] = pt.CharacterCellWidth
	grid[10] = pt.CharacterCellHeight
	grid[11] = pt.TextForegroundColorIndex
	grid[12] = pt.TextBackgroundColorIndex
	return e.writeExtension(eText, grid[:], textBlocks(pt.Strings))
}

func (e *Encoder) WriteComment(c *Comment) error {
	if err := checkText(c.Strings); err != nil {
		return fmt.Errorf("gif: comment %v", err)
	}
	return e.writeExtension(eComment, nil, textBlocks(c.Strings))
}

// WriteApplicationNetscape writes the looping extension. LoopCount 0 loops
// forever.
func (e *Encoder) WriteApplicationNetscape(an *ApplicationNetscape) error {
	if err := checkSubBlocks(an.SubBlocks); err != nil {
		return fmt.Errorf("gif: application %v", err)
	}
	loop := []byte{0x01, 0, 0}
	writeUint16(loop[1:], uint16(an.LoopCount))
	return e.writeExtension(eApplication, application("NETSCAPE2.0"), append([][]byte{loop}, an.SubBlocks...))
}

func (e *Encoder) WriteUnknownApplication(ua *UnknownApplication) error {
	if err := checkASCII(ua.Identifier); err != nil {
		return fmt.Errorf("gif: application identifier %v", err)
	}
	if err := checkSubBlocks(ua.SubBlocks); err != nil {
		return fmt.Errorf("gif: application %v", err)
	}
	return e.writeExtension(eApplication, application(ua.Identifier), ua.SubBlocks)
}

func (e *Encoder) WriteUnknownExtension(ue *UnknownExtension) error {
	if err := checkSubBlocks(ue.SubBlocks); err != nil {
		return fmt.Errorf("gif: extension %v", err)
	}
	return e.writeExtension(ue.Label, nil, ue.SubBlocks)
}

// WriteFrame writes f as an image block. Its bounds must lie within the
// logical screen.
func (e *Encoder) WriteFrame(f *Frame) error {
	e.writeImageBlock(f.Image, delay(f.DelayTime), f.DisposalMethod, f.Transparent, f.TransparentIndex)
	return e.err
}

func (e *Encoder) WriteTrailer() error {
	e.writeByte(sTrailer)
	return e.err
}

func (e *Encoder) Flush() error {
	e.flush()
	return e.err
}

// writeExtension writes the introducer, label and head verbatim, then body as
// sub-blocks and the terminator.
func (e *Encoder) writeExtension(label byte, head []byte, body [][]byte) error {
	e.writeByte(sExtension)
	e.writeByte(label)
	e.write(head)
	for _, b := range body {
		e.writeByte(byte(len(b)))
		e.write(b)
	}
	e.writeByte(0x00)
	return e.err
}

// delay converts d to hundredths of a second.
func delay(d time.Duration) int {
	return int(d / (10 * time.Millisecond))
}

func application(id string) []byte {
	return append([]byte{byte(len(id))}, id...)
}

func textBlocks(strs []string) [][]byte {
	blocks := make([][]byte, len(strs))
	for i, s := range strs {
		blocks[i] = []byte(s)
	}
	return blocks
}

func checkText(strs []string) error {
	if len(strs) == 0 {
		return errors.New("must provide at least one string")
	}
	for _, s := range strs {
		if err := checkASCII(s); err != nil {
			return err
		}
	}
	return nil
}

func checkASCII(s string) error {
	if len(s) > 0xff {
		return errors.New("string too long")
	}
	for _, c := range s {
		if c > unicode.MaxASCII {
			return errors.New("string must only contain ASCII characters")
		}
	}
	return nil
}

func checkSubBlocks(blocks [][]byte) error {
	for _, b := range blocks {
		if len(b) > 0xff {
			return errors.New("sub-block too long")
		}
	}
	return nil
}
