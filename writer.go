package gif

import (
	"bytes"
	"compress/lzw"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

var log2Lookup = [8]int{2, 4, 8, 16, 32, 64, 128, 256}

func log2(x int) int {
	for i, v := range log2Lookup {
		if x <= v {
			return i
		}
	}
	return -1
}

// Little-endian.
func writeUint16(b []uint8, u uint16) {
	b[0] = uint8(u)
	b[1] = uint8(u >> 8)
}

// writer is a buffered writer.
type writer interface {
	Flush() error
	io.Writer
	io.ByteWriter
}

// encoder writes the GIF bitstream. err is the first error encountered;
// every write after it becomes a no-op.
type encoder struct {
	w   writer
	err error
	g   GIF

	globalCT         int
	globalColorTable [3 * 256]byte
	localColorTable  [3 * 256]byte

	buf [256]byte // scratch, also the pending sub-block of blockWriter
}

func (e *encoder) flush() {
	if e.err != nil {
		return
	}
	e.err = e.w.Flush()
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *encoder) writeByte(b byte) {
	if e.err != nil {
		return
	}
	e.err = e.w.WriteByte(b)
}

func (e *encoder) writeHeader() {
	if e.err != nil {
		return
	}
	if _, e.err = io.WriteString(e.w, "GIF89a"); e.err != nil {
		return
	}

	writeUint16(e.buf[0:2], uint16(e.g.Config.Width))
	writeUint16(e.buf[2:4], uint16(e.g.Config.Height))
	e.write(e.buf[:4])

	e.globalCT = 0
	if p, ok := e.g.Config.ColorModel.(color.Palette); ok && len(p) > 0 {
		paddedSize := log2(len(p))
		e.buf[0] = fColorTable | uint8(paddedSize)
		e.buf[1] = e.g.BackgroundIndex
		e.buf[2] = 0x00 // pixel aspect ratio
		e.write(e.buf[:3])
		if e.globalCT, e.err = encodeColorTable(e.globalColorTable[:], p, paddedSize); e.err != nil {
			return
		}
		e.write(e.globalColorTable[:e.globalCT])
	} else {
		e.buf[0] = 0x00
		e.buf[1] = 0x00
		e.buf[2] = 0x00
		e.write(e.buf[:3])
	}
}

func encodeColorTable(dst []byte, p color.Palette, size int) (int, error) {
	if size < 0 || size >= len(log2Lookup) {
		return 0, errors.New("gif: cannot encode color table with more than 256 entries")
	}
	for i, c := range p {
		if c == nil {
			return 0, errors.New("gif: cannot encode color table with nil entries")
		}
		var r, g, b uint8
		if rgba, ok := c.(color.RGBA); ok {
			r, g, b = rgba.R, rgba.G, rgba.B
		} else {
			rr, gg, bb, _ := c.RGBA()
			r, g, b = uint8(rr>>8), uint8(gg>>8), uint8(bb>>8)
		}
		dst[3*i+0] = r
		dst[3*i+1] = g
		dst[3*i+2] = b
	}
	n := log2Lookup[size]
	if n > len(p) {
		clear(dst[3*len(p) : 3*n])
	}
	return 3 * n, nil
}

// writeGraphicControl writes the extension that applies to the next image or
// plain text block. delay is in hundredths of a second.
func (e *encoder) writeGraphicControl(delay int, disposal byte, transparent bool, transparentIndex byte) {
	gc := [8]byte{sExtension, eGraphicControl, 0x04, disposal << 2}
	writeUint16(gc[4:6], uint16(delay))
	if transparent {
		gc[3] |= gcTransparentColorSet
		gc[6] = transparentIndex
	}
	e.write(gc[:])
}

func (e *encoder) writeImageBlock(pm *image.Paletted, delay int, disposal byte, transparent bool, transparentIndex byte) {
	if e.err != nil {
		return
	}
	if len(pm.Palette) == 0 {
		e.err = errors.New("gif: cannot encode image block with empty palette")
		return
	}

	b := pm.Bounds()
	if !b.In(image.Rect(0, 0, e.g.Config.Width, e.g.Config.Height)) {
		e.err = fmt.Errorf("gif: image block %v outside logical screen", b)
		return
	}

	if delay > 0 || disposal != 0 || transparent {
		e.writeGraphicControl(delay, disposal, transparent, transparentIndex)
	}

	e.buf[0] = sImageDescriptor
	writeUint16(e.buf[1:3], uint16(b.Min.X))
	writeUint16(e.buf[3:5], uint16(b.Min.Y))
	writeUint16(e.buf[5:7], uint16(b.Dx()))
	writeUint16(e.buf[7:9], uint16(b.Dy()))
	e.write(e.buf[:9])

	paddedSize := log2(len(pm.Palette))
	ct, err := encodeColorTable(e.localColorTable[:], pm.Palette, paddedSize)
	if err != nil {
		e.err = err
		return
	}
	if ct != e.globalCT || !bytes.Equal(e.globalColorTable[:ct], e.localColorTable[:ct]) {
		e.writeByte(fColorTable | uint8(paddedSize))
		e.write(e.localColorTable[:ct])
	} else {
		e.writeByte(0x00)
	}

	litWidth := paddedSize + 1
	if litWidth < 2 {
		litWidth = 2
	}
	e.writeByte(uint8(litWidth))
	if e.err != nil {
		return
	}

	bw := blockWriter{e: e}
	bw.setup()
	lzww := lzw.NewWriter(bw, lzw.LSB, litWidth)
	if dx := b.Dx(); dx == pm.Stride {
		_, e.err = lzww.Write(pm.Pix[:dx*b.Dy()])
	} else {
		for i, y := 0, b.Min.Y; y < b.Max.Y && e.err == nil; i, y = i+pm.Stride, y+1 {
			_, e.err = lzww.Write(pm.Pix[i : i+dx])
		}
	}
	if err := lzww.Close(); e.err == nil {
		e.err = err
	}
	bw.close()
}

// blockWriter frames LZW output into (n, n bytes) sub-blocks, using e.buf[0]
// as the pending block length.
type blockWriter struct {
	e *encoder
}

func (b blockWriter) setup() {
	b.e.buf[0] = 0
}

func (b blockWriter) Write(data []byte) (int, error) {
	for i, c := range data {
		if err := b.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(data), nil
}

func (b blockWriter) WriteByte(c byte) error {
	if b.e.err != nil {
		return b.e.err
	}
	b.e.buf[0]++
	b.e.buf[b.e.buf[0]] = c
	if b.e.buf[0] < 255 {
		return nil
	}
	b.e.write(b.e.buf[:256])
	b.e.buf[0] = 0
	return b.e.err
}

// close writes any pending sub-block followed by the block terminator.
func (b blockWriter) close() {
	if b.e.buf[0] == 0 {
		b.e.writeByte(0)
		return
	}
	n := uint(b.e.buf[0])
	b.e.buf[n+1] = 0
	b.e.write(b.e.buf[:n+2])
}
