package gif

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"time"
)

type (
	Header struct {
		Version         string       // GIF version, either GIF87a or GIF89a.
		Config          image.Config // Global color table (palette), width and height.
		BackgroundIndex byte         // Background index in the global color table, for use with the DisposalBackground disposal method.
	}
	PlainText struct {
		TextGridLeftPosition     uint16
		TextGridTopPosition      uint16
		TextGridWidth            uint16
		TextGridHeight           uint16
		CharacterCellWidth       byte
		CharacterCellHeight      byte
		TextForegroundColorIndex byte
		TextBackgroundColorIndex byte
		Strings                  []string      // Text, up to 255 ASCII characters per string.
		DelayTime                time.Duration // Delay time, in multiples of 10ms.
		DisposalMethod           byte          // Disposal method, one of DisposalNone, DisposalBackground, DisposalPrevious.
	}
	Comment struct {
		Strings []string // Comments, up to 255 ASCII characters per string.
	}
	ApplicationNetscape struct {
		LoopCount int      // Number of times an animation will be restarted during display.
		SubBlocks [][]byte // Optional sub-blocks of arbitrary data.
	}
	UnknownApplication struct {
		Identifier string   // Identifier string of the application.
		SubBlocks  [][]byte // Optional sub-blocks of arbitrary data.
	}
	UnknownExtension struct {
		Label     byte
		SubBlocks [][]byte // Optional sub-blocks of arbitrary data.
	}
	// Frame is one image block. Image.Rect is the sub-rectangle the frame occupies on the logical screen.
	Frame struct {
		Image            *image.Paletted // Paletted patch; the transparent entry, if any, is color.RGBA{}.
		DelayTime        time.Duration   // Delay time, in multiples of 10ms.
		DisposalMethod   byte            // Disposal method, one of DisposalUnspecified, DisposalNone, DisposalBackground, DisposalPrevious.
		Transparent      bool            // Whether TransparentIndex is set.
		TransparentIndex byte            // Palette index of pixels that leave the canvas untouched.
	}
	// GIF is a fully decoded stream.
	GIF struct {
		Version         string
		Config          image.Config
		BackgroundIndex byte
		LoopCount       int // -1 when the stream carries no loop extension, 0 to loop forever.
		Frames          []*Frame
	}
)

// Empty reports whether the frame covers no pixels.
func (f *Frame) Empty() bool {
	return f.Image == nil || f.Image.Rect.Empty()
}

func NewDecoder(r io.Reader) *Decoder {
	r1, _ := r.(reader)
	if r1 == nil {
		r1 = bufio.NewReader(r)
	}
	return &decoder{r: r1}
}

type Decoder = decoder

// Decode reads the whole stream. It fails with a *DecodeError when the header is
// invalid, image data is truncated, or no frame has a non-empty patch.
func (d *Decoder) Decode() (*GIF, error) {
	d.loopCount = -1
	hdr, err := d.ReadHeader()
	if err != nil {
		return nil, err
	}

	g := &GIF{Version: hdr.Version, Config: hdr.Config, BackgroundIndex: hdr.BackgroundIndex, LoopCount: -1}
	for {
		if b, err := d.ReadBlock(); err != nil {
			if err != io.EOF {
				return nil, err
			}
			for _, f := range g.Frames {
				if !f.Empty() {
					return g, nil
				}
			}
			return nil, decodeError("decoding", errors.New("missing image data"))
		} else {
			switch b := b.(type) {
			case *ApplicationNetscape:
				g.LoopCount = b.LoopCount
			case *Frame:
				g.Frames = append(g.Frames, b)
			}
		}
	}
}

func (d *Decoder) DecodeFirst() (image.Image, error) {
	if _, err := d.ReadHeader(); err != nil {
		return nil, err
	}

	for {
		if b, err := d.ReadBlock(); err != nil {
			if err != io.EOF {
				return nil, err
			}
			return nil, decodeError("decoding", errors.New("missing image data"))
		} else if f, ok := b.(*Frame); ok && !f.Empty() {
			return f.Image, nil
		}
	}
}

func (d *Decoder) DecodeConfig() (image.Config, error) {
	if hdr, err := d.ReadHeader(); err != nil {
		return image.Config{}, err
	} else {
		return hdr.Config, nil
	}
}

func (d *Decoder) ReadHeader() (*Header, error) {
	if err := d.readHeaderAndScreenDescriptor(); err != nil {
		return nil, err
	}
	cfg := image.Config{Width: d.width, Height: d.height}
	if d.globalColorTable != nil {
		cfg.ColorModel = d.globalColorTable
	}
	return &Header{
		Version:         d.vers,
		Config:          cfg,
		BackgroundIndex: d.backgroundIndex,
	}, nil
}

// ReadBlock returns the next block, or io.EOF at the trailer. A stream that ends
// cleanly between blocks without a trailer is treated as terminated.
func (d *Decoder) ReadBlock() (any, error) {
	for {
		c, err := d.r.ReadByte()
		if err == io.EOF {
			return nil, io.EOF
		} else if err != nil {
			return nil, decodeError("reading block", err)
		}

		switch c {
		case sExtension:
			if e, err := d.readExtension_(); e != nil || err != nil {
				return e, err
			}

		case sImageDescriptor:
			return d.readImageDescriptor()

		case sTrailer:
			return nil, io.EOF

		default:
			return nil, decodeError("reading block", fmt.Errorf("unknown block type: 0x%.2x", c))
		}
	}
}

func (d *Decoder) readExtension_() (any, error) {
	label, err := readByte(d.r)
	if err != nil {
		return nil, decodeError("reading extension", err)
	}
	switch label {
	case eText:
		return d.readPlainText()

	case eGraphicControl:
		return nil, d.readGraphicControl()

	case eComment:
		return d.readComment()

	case eApplication:
		return d.readApplication()

	default:
		return d.readUnknownExtension(label)
	}
}

func (d *Decoder) readPlainText() (*PlainText, error) {
	if err := readFull(d.r, d.tmp[:13]); err != nil {
		return nil, decodeError("reading plain text extension", err)
	}
	if d.tmp[0] != 0x0c {
		return nil, decodeError("reading plain text extension", fmt.Errorf("invalid block size: %d", d.tmp[0]))
	}

	pt := &PlainText{
		TextGridLeftPosition:     readUint16(d.tmp[1:3]),
		TextGridTopPosition:      readUint16(d.tmp[3:5]),
		TextGridWidth:            readUint16(d.tmp[5:7]),
		TextGridHeight:           readUint16(d.tmp[7:9]),
		CharacterCellWidth:       d.tmp[9],
		CharacterCellHeight:      d.tmp[10],
		TextForegroundColorIndex: d.tmp[11],
		TextBackgroundColorIndex: d.tmp[12],
		DelayTime:                time.Duration(d.delayTime) * 10 * time.Millisecond,
		DisposalMethod:           d.disposalMethod,
	}

	if strings, err := d.readStrings(); err != nil {
		return nil, decodeError("reading plain text extension", err)
	} else {
		pt.Strings = strings
	}

	d.resetGraphicControl()
	return pt, nil
}

func (d *Decoder) readComment() (*Comment, error) {
	if strings, err := d.readStrings(); err != nil {
		return nil, decodeError("reading comment extension", err)
	} else {
		return &Comment{Strings: strings}, nil
	}
}

func (d *Decoder) readStrings() ([]string, error) {
	var strings []string
	for {
		if n, err := d.readBlock(); err != nil {
			return nil, err
		} else if n == 0 {
			return strings, nil
		} else {
			strings = append(strings, string(d.tmp[:n]))
		}
	}
}

func (d *Decoder) readApplication() (any, error) {
	if b, err := readByte(d.r); err != nil {
		return nil, decodeError("reading application extension", err)
	} else if err := readFull(d.r, d.tmp[:int(b)]); err != nil {
		return nil, decodeError("reading application extension", err)
	} else if id := string(d.tmp[:int(b)]); id == "NETSCAPE2.0" {
		if n, err := d.readBlock(); err != nil {
			return nil, decodeError("reading application extension", err)
		} else if n == 0 {
			return &ApplicationNetscape{LoopCount: d.loopCount}, nil
		} else if n == 3 && d.tmp[0] == 1 {
			d.loopCount = int(readUint16(d.tmp[1:]))
		}
		if sb, err := d.readSubBlocks(); err != nil {
			return nil, decodeError("reading application extension", err)
		} else {
			return &ApplicationNetscape{LoopCount: d.loopCount, SubBlocks: sb}, nil
		}
	} else {
		if sb, err := d.readSubBlocks(); err != nil {
			return nil, decodeError("reading application extension", err)
		} else {
			return &UnknownApplication{Identifier: id, SubBlocks: sb}, nil
		}
	}
}

func (d *Decoder) readUnknownExtension(label byte) (*UnknownExtension, error) {
	if sb, err := d.readSubBlocks(); err != nil {
		return nil, decodeError("reading unknown extension", err)
	} else {
		return &UnknownExtension{Label: label, SubBlocks: sb}, nil
	}
}

func (d *Decoder) readSubBlocks() ([][]byte, error) {
	var sb [][]byte
	for {
		if n, err := d.readBlock(); err != nil {
			return nil, err
		} else if n == 0 {
			return sb, nil
		} else {
			data := make([]byte, n)
			copy(data, d.tmp[:n])
			sb = append(sb, data)
		}
	}
}

func readUint16(b []uint8) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
