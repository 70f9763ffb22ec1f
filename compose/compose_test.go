package compose

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/colornames"

	"github.com/tastycreative/gifretouch"
)

var (
	pal   = color.Palette{colornames.Red, colornames.Green, colornames.Blue, colornames.White, color.RGBA{}}
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func nrgba(c color.Color) color.NRGBA {
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}

func fill(r image.Rectangle, idx uint8) *image.Paletted {
	pm := image.NewPaletted(r, pal)
	for i := range pm.Pix {
		pm.Pix[i] = idx
	}
	return pm
}

func TestExtractDisposalScenario(t *testing.T) {
	g := &gif.GIF{
		Config: image.Config{Width: 10, Height: 10},
		Frames: []*gif.Frame{
			{Image: fill(image.Rect(0, 0, 10, 10), 0), DisposalMethod: gif.DisposalUnspecified},
			{Image: fill(image.Rect(2, 2, 6, 6), 1), DisposalMethod: gif.DisposalBackground},
			{Image: fill(image.Rect(0, 0, 2, 2), 2), DisposalMethod: gif.DisposalNone},
		},
	}
	res, err := Extract(g, Options{Logger: quiet})
	if err != nil {
		t.Fatal("Extract:", err)
	}
	if len(res.Frames) != 3 || len(res.Records) != 3 {
		t.Fatal("unexpected frame count: got:", len(res.Frames), len(res.Records), "want: 3")
	}

	red, green, blue := nrgba(colornames.Red), nrgba(colornames.Green), nrgba(colornames.Blue)
	if c := res.Frames[1].NRGBAAt(3, 3); c != green {
		t.Fatal("unexpected frame 1 pixel: got:", c, "want:", green)
	}
	last := res.Frames[2]
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			p := image.Pt(x, y)
			want := red
			switch {
			case p.In(image.Rect(0, 0, 2, 2)):
				want = blue
			case p.In(image.Rect(2, 2, 6, 6)):
				want = color.NRGBA{}
			}
			if c := last.NRGBAAt(x, y); c != want {
				t.Fatal("unexpected frame 2 pixel", p, "got:", c, "want:", want)
			}
		}
	}

	// Composites are copies, never views of a shared canvas.
	if res.Frames[0].NRGBAAt(3, 3) != red {
		t.Fatal("frame 0 was overwritten by a later frame")
	}
}

func TestExtractRestorePrevious(t *testing.T) {
	g := &gif.GIF{
		Config: image.Config{Width: 4, Height: 4},
		Frames: []*gif.Frame{
			{Image: fill(image.Rect(0, 0, 4, 4), 0), DisposalMethod: gif.DisposalNone},
			{Image: fill(image.Rect(0, 0, 2, 2), 1), DisposalMethod: gif.DisposalPrevious},
			{Image: fill(image.Rect(3, 3, 4, 4), 2), DisposalMethod: gif.DisposalNone},
			{Image: fill(image.Rect(1, 1, 3, 3), 3), DisposalMethod: gif.DisposalPrevious},
			{Image: fill(image.Rect(0, 3, 1, 4), 2), DisposalMethod: gif.DisposalNone},
		},
	}
	res, err := Extract(g, Options{Logger: quiet})
	if err != nil {
		t.Fatal("Extract:", err)
	}

	red, blue := nrgba(colornames.Red), nrgba(colornames.Blue)
	tests := []struct {
		frame int
		pt    image.Point
		want  color.NRGBA
	}{
		{1, image.Pt(0, 0), nrgba(colornames.Green)},
		{2, image.Pt(0, 0), red},
		{2, image.Pt(3, 3), blue},
		{3, image.Pt(1, 1), nrgba(colornames.White)},
		// The second snapshot holds frame 2's blue pixel, not the first snapshot.
		{4, image.Pt(1, 1), red},
		{4, image.Pt(3, 3), blue},
		{4, image.Pt(0, 3), blue},
	}
	for _, tt := range tests {
		if c := res.Frames[tt.frame].NRGBAAt(tt.pt.X, tt.pt.Y); c != tt.want {
			t.Fatal("unexpected frame", tt.frame, tt.pt, "pixel: got:", c, "want:", tt.want)
		}
	}
}

func TestExtractSkipsMalformed(t *testing.T) {
	short := fill(image.Rect(0, 0, 4, 4), 0)
	short.Pix = short.Pix[:3]
	bad := fill(image.Rect(0, 0, 4, 4), 0)
	bad.Pix[5] = 200
	noPalette := fill(image.Rect(0, 0, 4, 4), 0)
	noPalette.Palette = nil

	var buf bytes.Buffer
	g := &gif.GIF{
		Config: image.Config{Width: 4, Height: 4},
		Frames: []*gif.Frame{
			{Image: fill(image.Rect(10, 10, 12, 12), 0)},
			{Image: short},
			{Image: fill(image.Rect(0, 0, 4, 4), 1), DelayTime: 70 * time.Millisecond},
			{Image: bad},
			{Image: noPalette},
			{Image: fill(image.Rect(2, 2, 6, 6), 2)},
		},
	}
	res, err := Extract(g, Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	if err != nil {
		t.Fatal("Extract:", err)
	}
	if len(res.Frames) != 2 || len(res.Records) != 2 {
		t.Fatal("unexpected frame count: got:", len(res.Frames), len(res.Records), "want: 2")
	}
	if r := res.Records[0]; r.Index != 2 || r.Delay != 70*time.Millisecond {
		t.Fatal("unexpected record 0:", r.Index, r.Delay)
	}
	if r := res.Records[1]; r.Rect != image.Rect(2, 2, 4, 4) {
		t.Fatal("unexpected clipped rect: got:", r.Rect, "want:", image.Rect(2, 2, 4, 4))
	}
	if n := strings.Count(buf.String(), "frame skipped"); n != 4 {
		t.Fatal("unexpected warning count: got:", n, "want: 4")
	}

	g.Frames = []*gif.Frame{{Image: short}, {Image: bad}}
	var ee *ExtractionError
	if _, err := Extract(g, Options{Logger: quiet}); !errors.As(err, &ee) || ee.Decoded != 2 {
		t.Fatal("unexpected error: got:", err, "want: ExtractionError")
	}
}

func TestExtractResample(t *testing.T) {
	g := &gif.GIF{
		Config: image.Config{Width: 4, Height: 4},
		Frames: []*gif.Frame{{Image: fill(image.Rect(0, 0, 4, 4), 1)}},
	}
	res, err := Extract(g, Options{Width: 8, Height: 2, Logger: quiet})
	if err != nil {
		t.Fatal("Extract:", err)
	}
	if b := res.Frames[0].Bounds(); b != image.Rect(0, 0, 8, 2) {
		t.Fatal("unexpected bounds: got:", b)
	}
	if c := res.Frames[0].NRGBAAt(7, 1); c != nrgba(colornames.Green) {
		t.Fatal("unexpected pixel: got:", c)
	}
	if res.Width != 4 || res.Height != 4 {
		t.Fatal("unexpected logical size:", res.Width, res.Height)
	}

	var pe *PreconditionError
	if _, err := Reassemble(res.Frames, res.Records); !errors.As(err, &pe) {
		t.Fatal("unexpected error: got:", err, "want: PreconditionError")
	}
}

func TestReassembleIdentity(t *testing.T) {
	const ti = 4
	g := &gif.GIF{
		Config: image.Config{Width: 6, Height: 6},
		Frames: []*gif.Frame{
			{Image: fill(image.Rect(0, 0, 6, 6), 0), DisposalMethod: gif.DisposalNone},
			{Image: parseFrame(image.Pt(1, 1), `
				4114
				4224
				4444`), DisposalMethod: gif.DisposalPrevious, Transparent: true, TransparentIndex: ti},
			{Image: parseFrame(image.Pt(0, 2), `
				34
				43`), DisposalMethod: gif.DisposalBackground, Transparent: true, TransparentIndex: ti},
			{Image: parseFrame(image.Pt(0, 0), `
				444444
				444444
				442444
				444444`), DisposalMethod: gif.DisposalUnspecified, Transparent: true, TransparentIndex: ti},
			{Image: parseFrame(image.Pt(4, 4), `
				10
				01`), DisposalMethod: gif.DisposalNone},
		},
	}
	res, err := Extract(g, Options{Logger: quiet})
	if err != nil {
		t.Fatal("Extract:", err)
	}
	out, err := Reassemble(Clone(res.Frames), res.Records)
	if err != nil {
		t.Fatal("Reassemble:", err)
	}
	if len(out) != len(g.Frames) {
		t.Fatal("unexpected frame count: got:", len(out), "want:", len(g.Frames))
	}

	for i, o := range out {
		src := g.Frames[i]
		if o.Image.Rect != src.Image.Rect {
			t.Fatal("unexpected frame", i, "rect: got:", o.Image.Rect, "want:", src.Image.Rect)
		}
		if o.Record.Disposal != src.DisposalMethod || o.Record.Transparent != src.Transparent {
			t.Fatal("unexpected frame", i, "metadata")
		}
		for y := o.Image.Rect.Min.Y; y < o.Image.Rect.Max.Y; y++ {
			for x := o.Image.Rect.Min.X; x < o.Image.Rect.Max.X; x++ {
				idx := src.Image.ColorIndexAt(x, y)
				want := nrgba(pal[idx])
				if src.Transparent && idx == src.TransparentIndex {
					want = color.NRGBA{}
				}
				if c := o.Image.NRGBAAt(x, y); c != want {
					t.Fatal("unexpected frame", i, image.Pt(x, y), "pixel: got:", c, "want:", want)
				}
			}
		}
	}
}

func TestReassembleEdited(t *testing.T) {
	g := &gif.GIF{
		Config: image.Config{Width: 3, Height: 3},
		Frames: []*gif.Frame{
			{Image: fill(image.Rect(0, 0, 3, 3), 0), DisposalMethod: gif.DisposalNone},
			{Image: parseFrame(image.Pt(0, 0), `
				414
				444
				414`), DisposalMethod: gif.DisposalNone, Transparent: true, TransparentIndex: 4},
		},
	}
	res, err := Extract(g, Options{Logger: quiet})
	if err != nil {
		t.Fatal("Extract:", err)
	}
	edited := Clone(res.Frames)
	edited[1].SetNRGBA(0, 0, nrgba(colornames.Blue))
	edited[1].SetNRGBA(2, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 0x10})

	out, err := Reassemble(edited, res.Records)
	if err != nil {
		t.Fatal("Reassemble:", err)
	}
	want := map[image.Point]color.NRGBA{
		image.Pt(0, 0): nrgba(colornames.Blue),
		image.Pt(1, 0): nrgba(colornames.Green),
		image.Pt(1, 2): nrgba(colornames.Green),
		image.Pt(2, 2): {},
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			w := want[image.Pt(x, y)]
			if c := out[1].Image.NRGBAAt(x, y); c != w {
				t.Fatal("unexpected pixel", image.Pt(x, y), "got:", c, "want:", w)
			}
		}
	}
	if res.Frames[1].NRGBAAt(0, 0) != nrgba(colornames.Red) {
		t.Fatal("Reassemble modified the extracted composites")
	}
}

func TestReassemblePreconditions(t *testing.T) {
	frames := []*image.NRGBA{image.NewNRGBA(image.Rect(0, 0, 2, 2))}
	rec := Record{Rect: image.Rect(0, 0, 2, 2), Patch: fill(image.Rect(0, 0, 2, 2), 0)}
	tests := []struct {
		name    string
		edited  []*image.NRGBA
		records []Record
	}{
		{"no records", frames, nil},
		{"count mismatch", append(frames, frames[0]), []Record{rec}},
		{"size mismatch", []*image.NRGBA{frames[0], image.NewNRGBA(image.Rect(0, 0, 3, 2))}, []Record{rec, rec}},
		{"rect outside canvas", frames, []Record{{Rect: image.Rect(1, 1, 3, 3), Patch: fill(image.Rect(1, 1, 3, 3), 0)}}},
		{"missing patch", frames, []Record{{Rect: rec.Rect}}},
	}
	for _, tt := range tests {
		var pe *PreconditionError
		if _, err := Reassemble(tt.edited, tt.records); !errors.As(err, &pe) {
			t.Fatal(tt.name, "unexpected error: got:", err, "want: PreconditionError")
		}
	}
}

// parseFrame builds a patch at min from rows of palette indices.
func parseFrame(min image.Point, str string) *image.Paletted {
	lines := strings.Split(strings.TrimSpace(str), "\n")
	w := len(strings.TrimSpace(lines[0]))
	pm := image.NewPaletted(image.Rectangle{Min: min, Max: min.Add(image.Pt(w, len(lines)))}, pal)
	for y, line := range lines {
		for x, c := range strings.TrimSpace(line) {
			pm.SetColorIndex(min.X+x, min.Y+y, uint8(c-'0'))
		}
	}
	return pm
}
