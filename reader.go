package gif

import (
	"compress/lzw"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"
)

// Disposal methods.
const (
	DisposalUnspecified = 0x00
	DisposalNone        = 0x01
	DisposalBackground  = 0x02
	DisposalPrevious    = 0x03
)

// Fields.
const (
	fColorTable         = 1 << 7
	fInterlace          = 1 << 6
	fColorTableBitsMask = 7

	// Graphic control flags.
	gcTransparentColorSet = 1 << 0
	gcDisposalMethodMask  = 7 << 2
)

// Section indicators.
const (
	sExtension       = 0x21
	sImageDescriptor = 0x2C
	sTrailer         = 0x3B
)

// Extensions.
const (
	eText           = 0x01
	eGraphicControl = 0xF9
	eComment        = 0xFE
	eApplication    = 0xFF
)

var errNotEnough = errors.New("not enough image data")

// reader is buffered so single bytes can be read cheaply.
type reader interface {
	io.Reader
	io.ByteReader
}

type decoder struct {
	r reader

	vers             string
	width            int
	height           int
	loopCount        int
	backgroundIndex  byte
	globalColorTable color.Palette

	// Graphic control state, consumed by the next image or plain text block.
	delayTime           int
	disposalMethod      byte
	hasTransparentIndex bool
	transparentIndex    byte

	tmp [1024]byte // must be at least 768 so we can read a color table
}

func readByte(r io.ByteReader) (byte, error) {
	b, err := r.ReadByte()
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return b, err
}

func readFull(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (d *decoder) readHeaderAndScreenDescriptor() error {
	if err := readFull(d.r, d.tmp[:13]); err != nil {
		return decodeError("reading header", err)
	}
	d.vers = string(d.tmp[:6])
	if d.vers != "GIF87a" && d.vers != "GIF89a" {
		return decodeError("reading header", fmt.Errorf("can't recognize format %q", d.vers))
	}
	d.width = int(d.tmp[6]) | int(d.tmp[7])<<8
	d.height = int(d.tmp[8]) | int(d.tmp[9])<<8
	if d.width == 0 || d.height == 0 {
		return decodeError("reading header", fmt.Errorf("empty logical screen %dx%d", d.width, d.height))
	}
	if fields := d.tmp[10]; fields&fColorTable != 0 {
		d.backgroundIndex = d.tmp[11]
		p, err := d.readColorTable(fields)
		if err != nil {
			return err
		}
		d.globalColorTable = p
	}
	// d.tmp[12] is the pixel aspect ratio, which is ignored.
	return nil
}

func (d *decoder) readColorTable(fields byte) (color.Palette, error) {
	n := 1 << (1 + uint(fields&fColorTableBitsMask))
	if err := readFull(d.r, d.tmp[:3*n]); err != nil {
		return nil, decodeError("reading color table", err)
	}
	j, p := 0, make(color.Palette, n)
	for i := range p {
		p[i] = color.RGBA{R: d.tmp[j+0], G: d.tmp[j+1], B: d.tmp[j+2], A: 0xFF}
		j += 3
	}
	return p, nil
}

func (d *decoder) readGraphicControl() error {
	if err := readFull(d.r, d.tmp[:6]); err != nil {
		return decodeError("reading graphic control", err)
	}
	if d.tmp[0] != 4 {
		return decodeError("reading graphic control", fmt.Errorf("invalid block size: %d", d.tmp[0]))
	}
	flags := d.tmp[1]
	d.disposalMethod = (flags & gcDisposalMethodMask) >> 2
	d.delayTime = int(d.tmp[2]) | int(d.tmp[3])<<8
	if flags&gcTransparentColorSet != 0 {
		d.transparentIndex = d.tmp[4]
		d.hasTransparentIndex = true
	}
	if d.tmp[5] != 0 {
		return decodeError("reading graphic control", errors.New("missing block terminator"))
	}
	return nil
}

func (d *decoder) resetGraphicControl() {
	d.delayTime = 0
	d.disposalMethod = 0
	d.hasTransparentIndex = false
	d.transparentIndex = 0
}

func (d *decoder) readImageDescriptor() (*Frame, error) {
	if err := readFull(d.r, d.tmp[:9]); err != nil {
		return nil, decodeError("reading image descriptor", err)
	}
	left := int(d.tmp[0]) | int(d.tmp[1])<<8
	top := int(d.tmp[2]) | int(d.tmp[3])<<8
	width := int(d.tmp[4]) | int(d.tmp[5])<<8
	height := int(d.tmp[6]) | int(d.tmp[7])<<8
	fields := d.tmp[8]

	p := d.globalColorTable
	if fields&fColorTable != 0 {
		var err error
		if p, err = d.readColorTable(fields); err != nil {
			return nil, err
		}
	}
	if d.hasTransparentIndex && int(d.transparentIndex) < len(p) {
		// Never mutate the global color table in place.
		dup := make(color.Palette, len(p))
		copy(dup, p)
		dup[d.transparentIndex] = color.RGBA{}
		p = dup
	}
	// Only the part of the frame on the logical screen is kept, so a
	// descriptor can never make the decoder allocate more than the screen.
	frame := image.Rect(left, top, left+width, top+height)
	m := image.NewPaletted(frame.Intersect(image.Rect(0, 0, d.width, d.height)), p)

	litWidth, err := readByte(d.r)
	if err != nil {
		return nil, decodeError("reading image data", err)
	}
	if litWidth < 2 || litWidth > 8 {
		return nil, decodeError("reading image data", fmt.Errorf("pixel size out of range: %d", litWidth))
	}
	br := &blockReader{d: d}
	lzwr := lzw.NewReader(br, lzw.LSB, int(litWidth))
	defer lzwr.Close()
	if err = readPixels(lzwr, m, frame, fields&fInterlace != 0); err != nil {
		if err == io.ErrUnexpectedEOF && br.err == io.EOF {
			err = errNotEnough
		}
		return nil, decodeError("reading image data", err)
	}
	if err = br.drain(); err != nil {
		return nil, decodeError("reading image data", err)
	}

	f := &Frame{
		Image:            m,
		DelayTime:        time.Duration(d.delayTime) * 10 * time.Millisecond,
		DisposalMethod:   d.disposalMethod,
		Transparent:      d.hasTransparentIndex,
		TransparentIndex: d.transparentIndex,
	}
	d.resetGraphicControl()
	return f, nil
}

func (d *decoder) readBlock() (int, error) {
	n, err := readByte(d.r)
	if n == 0 || err != nil {
		return 0, err
	}
	if err := readFull(d.r, d.tmp[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

// blockReader parses the (n, n bytes) sub-block framing of image data so the
// LZW reader sees one contiguous stream. The zero-length terminator yields io.EOF.
type blockReader struct {
	d     *decoder
	slice []byte
	err   error
	tmp   [256]byte
}

func (b *blockReader) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.slice) == 0 {
		var blockLen byte
		if blockLen, b.err = readByte(b.d.r); b.err != nil {
			return 0, b.err
		}
		if blockLen == 0 {
			b.err = io.EOF
			return 0, b.err
		}
		b.slice = b.tmp[:blockLen]
		if b.err = readFull(b.d.r, b.slice); b.err != nil {
			return 0, b.err
		}
	}
	n := copy(p, b.slice)
	b.slice = b.slice[n:]
	return n, nil
}

// drain consumes trailing image data sub-blocks up to and including the terminator.
func (b *blockReader) drain() error {
	var scratch [256]byte
	for {
		if _, err := b.Read(scratch[:]); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

type interlaceScan struct {
	skip, start int
}

var interlacing = []interlaceScan{
	{8, 0}, // every 8th row, starting with row 0
	{8, 4}, // every 8th row, starting with row 4
	{4, 2}, // every 4th row, starting with row 2
	{2, 1}, // every 2nd row, starting with row 1
}

// readPixels decodes the rows of frame, in interlaced order if asked, and
// keeps the columns and rows that fall within m. Rows of a progressive frame
// below m are not decoded at all.
func readPixels(r io.Reader, m *image.Paletted, frame image.Rectangle, interlaced bool) error {
	if m.Rect == frame && !interlaced {
		return readFull(r, m.Pix)
	}

	row := make([]byte, frame.Dx())
	x0, x1 := m.Rect.Min.X-frame.Min.X, m.Rect.Max.X-frame.Min.X
	scan := func(y int) error {
		if err := readFull(r, row); err != nil {
			return err
		}
		if y += frame.Min.Y; y >= m.Rect.Min.Y && y < m.Rect.Max.Y {
			copy(m.Pix[m.PixOffset(m.Rect.Min.X, y):], row[x0:x1])
		}
		return nil
	}

	if !interlaced {
		last := 0
		if !m.Rect.Empty() {
			last = m.Rect.Max.Y - frame.Min.Y
		}
		for y := 0; y < last; y++ {
			if err := scan(y); err != nil {
				return err
			}
		}
		return nil
	}
	if m.Rect.Empty() {
		return nil
	}
	for _, pass := range interlacing {
		for y := pass.start; y < frame.Dy(); y += pass.skip {
			if err := scan(y); err != nil {
				return err
			}
		}
	}
	return nil
}
