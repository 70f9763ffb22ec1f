package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	stdgif "image/gif"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/colornames"

	"github.com/tastycreative/gifretouch"
	"github.com/tastycreative/gifretouch/blur"
	"github.com/tastycreative/gifretouch/compose"
)

var (
	testPalette = color.Palette{colornames.Red, colornames.Green, colornames.Blue, colornames.White}
	quiet       = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func fill(r image.Rectangle, idx uint8) *image.Paletted {
	pm := image.NewPaletted(r, testPalette)
	for i := range pm.Pix {
		pm.Pix[i] = idx
	}
	return pm
}

// testGIF encodes a size×size animation mixing every disposal method and a
// transparent index.
func testGIF(t *testing.T, size int) []byte {
	t.Helper()
	holey := fill(image.Rect(2, 2, size-2, size-2), 1)
	for i := range holey.Pix {
		if i%3 == 0 {
			holey.Pix[i] = 3
		}
	}
	g := &gif.GIF{
		Config: image.Config{ColorModel: testPalette, Width: size, Height: size},
		Frames: []*gif.Frame{
			{Image: fill(image.Rect(0, 0, size, size), 0), DelayTime: 100 * time.Millisecond, DisposalMethod: gif.DisposalNone},
			{Image: holey, DelayTime: 50 * time.Millisecond, DisposalMethod: gif.DisposalPrevious, Transparent: true, TransparentIndex: 3},
			{Image: fill(image.Rect(0, 0, 2, 2), 2), DelayTime: 70 * time.Millisecond, DisposalMethod: gif.DisposalBackground},
			{Image: fill(image.Rect(1, 1, 3, 3), 3), DelayTime: 20 * time.Millisecond, DisposalMethod: gif.DisposalUnspecified},
		},
	}
	var buf bytes.Buffer
	if err := gif.NewEncoder(&buf).Encode(g); err != nil {
		t.Fatal("Encode:", err)
	}
	return buf.Bytes()
}

func decode(t *testing.T, b []byte) *gif.GIF {
	t.Helper()
	g, err := gif.NewDecoder(bytes.NewReader(b)).Decode()
	if err != nil {
		t.Fatal("Decode:", err)
	}
	return g
}

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := NewSession(cfg, quiet)
	if err != nil {
		t.Fatal("NewSession:", err)
	}
	t.Cleanup(s.Release)
	return s
}

func loadSession(t *testing.T, data []byte) *Session {
	t.Helper()
	s := newSession(t, DefaultConfig())
	if err := s.Load(context.Background(), data); err != nil {
		t.Fatal("Load:", err)
	}
	return s
}

func TestRoundTripIdentity(t *testing.T) {
	src := testGIF(t, 8)
	s := loadSession(t, src)
	if st := s.State(); st != Composited {
		t.Fatal("unexpected state: got:", st, "want:", Composited)
	}

	out, err := s.Export(context.Background())
	if err != nil {
		t.Fatal("Export:", err)
	}
	if st := s.State(); st != Encoded {
		t.Fatal("unexpected state: got:", st, "want:", Encoded)
	}

	want, got := decode(t, src), decode(t, out)
	if got.Config.Width != want.Config.Width || got.Config.Height != want.Config.Height {
		t.Fatal("unexpected screen: got:", got.Config.Width, got.Config.Height)
	}
	if got.LoopCount != 0 {
		t.Fatal("unexpected loop count: got:", got.LoopCount, "want: 0")
	}
	if len(got.Frames) != len(want.Frames) {
		t.Fatal("unexpected frame count: got:", len(got.Frames), "want:", len(want.Frames))
	}
	for i, w := range want.Frames {
		f := got.Frames[i]
		if f.Image.Rect != w.Image.Rect {
			t.Fatal("unexpected frame", i, "rect: got:", f.Image.Rect, "want:", w.Image.Rect)
		}
		if f.DelayTime != w.DelayTime || f.DisposalMethod != w.DisposalMethod {
			t.Fatal("unexpected frame", i, "timing: got:", f.DelayTime, f.DisposalMethod, "want:", w.DelayTime, w.DisposalMethod)
		}
		if f.Transparent != w.Transparent || f.TransparentIndex != w.TransparentIndex {
			t.Fatal("unexpected frame", i, "transparency: got:", f.Transparent, f.TransparentIndex)
		}
		if !bytes.Equal(f.Image.Pix, w.Image.Pix) {
			t.Fatal("unexpected frame", i, "pixels: got:", f.Image.Pix, "want:", w.Image.Pix)
		}
	}

	std, err := stdgif.DecodeAll(bytes.NewReader(out))
	if err != nil {
		t.Fatal("image/gif.DecodeAll:", err)
	}
	if len(std.Image) != len(want.Frames) || std.Delay[0] != 10 || std.Disposal[1] != gif.DisposalPrevious {
		t.Fatal("unexpected image/gif decoding:", len(std.Image), std.Delay, std.Disposal)
	}
}

func TestCommitAndExport(t *testing.T) {
	cfg := DefaultConfig()
	dither := false
	cfg.Encode.Dither = &dither
	s := newSession(t, cfg)
	src := testGIF(t, 16)
	if err := s.Load(context.Background(), src); err != nil {
		t.Fatal("Load:", err)
	}
	before, err := s.Frame(2)
	if err != nil {
		t.Fatal("Frame:", err)
	}

	if err := s.Paint(image.Pt(2, 2), 3); err != nil {
		t.Fatal("Paint:", err)
	}
	if st := s.State(); st != Masked {
		t.Fatal("unexpected state: got:", st, "want:", Masked)
	}
	s.SetParams(blur.Params{Kind: blur.Mosaic, Intensity: 8})
	if _, err := s.Preview(context.Background(), 1); err != nil {
		t.Fatal("Preview:", err)
	}
	if st := s.State(); st != Previewed {
		t.Fatal("unexpected state: got:", st, "want:", Previewed)
	}
	if err := s.Commit(); err != nil {
		t.Fatal("Commit:", err)
	}
	if st := s.State(); st != Committed {
		t.Fatal("unexpected state: got:", st, "want:", Committed)
	}
	after, _ := s.Frame(1)
	orig := decodeComposites(t, src)
	if after.NRGBAAt(2, 2) == orig[1].NRGBAAt(2, 2) {
		t.Fatal("commit left masked pixel unchanged")
	}

	out, err := s.Export(context.Background())
	if err != nil {
		t.Fatal("Export:", err)
	}
	got := decodeComposites(t, out)
	if len(got) != len(orig) {
		t.Fatal("unexpected frame count: got:", len(got), "want:", len(orig))
	}
	for i := range got {
		for _, p := range []image.Point{{15, 15}, {12, 3}, {3, 12}} {
			if c, w := got[i].NRGBAAt(p.X, p.Y), orig[i].NRGBAAt(p.X, p.Y); c != w {
				t.Fatal("unexpected frame", i, p, "outside the mask: got:", c, "want:", w)
			}
		}
	}
	// (1,1) lies in frame 2's own rect, so the edit survives reassembly.
	if c := got[2].NRGBAAt(1, 1); c == before.NRGBAAt(1, 1) {
		t.Fatal("export lost the committed edit")
	}
}

func decodeComposites(t *testing.T, b []byte) []*image.NRGBA {
	t.Helper()
	res, err := compose.Extract(decode(t, b), compose.Options{Logger: quiet})
	if err != nil {
		t.Fatal("Extract:", err)
	}
	return res.Frames
}

func TestLoadErrors(t *testing.T) {
	s := newSession(t, DefaultConfig())
	var de *gif.DecodeError
	err := s.Load(context.Background(), []byte("GIF89a\x01"))
	if !errors.As(err, &de) {
		t.Fatal("unexpected error: got:", err, "want: DecodeError")
	}
	if msg := UserMessage(err); msg != "This GIF is corrupted or unsupported." {
		t.Fatal("unexpected message:", msg)
	}
	if st := s.State(); st != Empty {
		t.Fatal("unexpected state: got:", st, "want:", Empty)
	}

	if err := s.Load(context.Background(), testGIF(t, 8)); err != nil {
		t.Fatal("Load:", err)
	}
	if err := s.Load(context.Background(), []byte("not a gif")); err == nil {
		t.Fatal("expected a decode error")
	}
	if s.Len() != 4 || s.Bounds() != image.Rect(0, 0, 8, 8) {
		t.Fatal("failed load replaced the session:", s.Len(), s.Bounds())
	}
}

func TestLoadLastWins(t *testing.T) {
	s := newSession(t, DefaultConfig())
	big, small := testGIF(t, 256), testGIF(t, 8)

	var wg sync.WaitGroup
	var first error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = s.Load(context.Background(), big)
	}()
	for s.loading.Load() == nil {
		time.Sleep(time.Millisecond)
	}
	if err := s.Load(context.Background(), small); err != nil {
		t.Fatal("Load:", err)
	}
	wg.Wait()

	if first != nil && !errors.Is(first, ErrSuperseded) {
		t.Fatal("unexpected first load error:", first)
	}
	if b := s.Bounds(); b != image.Rect(0, 0, 8, 8) {
		t.Fatal("earlier load won: got:", b)
	}
}

func TestStateErrors(t *testing.T) {
	s := newSession(t, DefaultConfig())
	checks := map[string]error{
		"commit": s.Commit(),
		"paint":  s.Paint(image.Pt(1, 1), 1),
		"clear":  s.Clear(),
		"undo":   s.Undo(),
	}
	_, checks["export"] = s.Export(context.Background())
	_, checks["preview"] = s.Preview(context.Background(), 0)
	for op, err := range checks {
		if !errors.Is(err, ErrState) {
			t.Fatal(op, "unexpected error: got:", err, "want: ErrState")
		}
	}
	if msg := UserMessage(checks["commit"]); msg != "That action is not available right now." {
		t.Fatal("unexpected message:", msg)
	}
}

func TestExportAbort(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	first, err := s.Export(context.Background())
	if err != nil {
		t.Fatal("Export:", err)
	}

	s.Paint(image.Pt(4, 4), 2)
	if err := s.Commit(); err != nil {
		t.Fatal("Commit:", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ea *EncodeAbort
	if _, err := s.Export(ctx); !errors.As(err, &ea) || !errors.Is(err, context.Canceled) {
		t.Fatal("unexpected error: got:", err, "want: EncodeAbort")
	}
	if !bytes.Equal(s.Output(), first) {
		t.Fatal("aborted export replaced the previous output")
	}
	if st := s.State(); st != Committed {
		t.Fatal("unexpected state: got:", st, "want:", Committed)
	}

	done := make(chan error, 1)
	s.ExportAsync(context.Background(), func(b []byte, err error) {
		if err == nil && len(b) == 0 {
			err = errors.New("empty output")
		}
		done <- err
	})
	if err := <-done; err != nil {
		t.Fatal("ExportAsync:", err)
	}
	if bytes.Equal(s.Output(), first) {
		t.Fatal("async export did not replace the output")
	}
}

func TestUndo(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	var outs [][]byte
	for _, p := range []image.Point{{2, 2}, {6, 6}} {
		s.Paint(p, 1)
		if err := s.Commit(); err != nil {
			t.Fatal("Commit:", err)
		}
		out, err := s.Export(context.Background())
		if err != nil {
			t.Fatal("Export:", err)
		}
		outs = append(outs, out)
	}

	if err := s.Undo(); err != nil {
		t.Fatal("Undo:", err)
	}
	if !bytes.Equal(s.Output(), outs[0]) {
		t.Fatal("undo did not restore the first export")
	}
	if st := s.State(); st != Composited {
		t.Fatal("unexpected state: got:", st, "want:", Composited)
	}
	if m, _ := s.Mask(); !bytes.Equal(m.Pix, make([]uint8, len(m.Pix))) {
		t.Fatal("undo kept the mask")
	}

	if err := s.Undo(); err != nil {
		t.Fatal("Undo:", err)
	}
	if s.Output() != nil {
		t.Fatal("undo to the source kept an output")
	}
	if err := s.Undo(); !errors.Is(err, ErrState) {
		t.Fatal("unexpected error: got:", err, "want: ErrState")
	}
}

func TestClear(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	orig, _ := s.Frame(0)

	s.Paint(image.Pt(-10, -10), 3)
	if m, _ := s.Mask(); !bytes.Equal(m.Pix, make([]uint8, len(m.Pix))) {
		t.Fatal("out of bounds paint changed the mask")
	}

	s.Paint(image.Pt(4, 4), 3)
	s.SetParams(blur.Params{Kind: blur.Pixelated, Intensity: 50})
	p, err := s.Preview(context.Background(), 0)
	if err != nil {
		t.Fatal("Preview:", err)
	}
	if cur, _ := s.Frame(0); !bytes.Equal(cur.Pix, orig.Pix) {
		t.Fatal("preview modified the frame")
	}
	if p.Bounds() != orig.Bounds() {
		t.Fatal("unexpected preview bounds:", p.Bounds())
	}

	s.SetParams(blur.Params{Kind: blur.Gaussian, Intensity: 6})
	if err := s.Commit(); err != nil {
		t.Fatal("Commit:", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatal("Clear:", err)
	}
	if cur, _ := s.Frame(0); !bytes.Equal(cur.Pix, orig.Pix) {
		t.Fatal("clear did not restore the frame")
	}
	if m, _ := s.Mask(); !bytes.Equal(m.Pix, make([]uint8, len(m.Pix))) {
		t.Fatal("clear kept the mask")
	}
}

func TestDisplaySize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extract.TargetWidth, cfg.Extract.TargetHeight = 4, 2
	s := newSession(t, cfg)
	if err := s.Load(context.Background(), testGIF(t, 8)); err != nil {
		t.Fatal("Load:", err)
	}
	m, err := s.Frame(0)
	if err != nil {
		t.Fatal("Frame:", err)
	}
	if m.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatal("unexpected display bounds:", m.Bounds())
	}
	if _, err := s.Export(context.Background()); err != nil {
		t.Fatal("Export:", err)
	}
	if _, err := s.Frame(4); err == nil {
		t.Fatal("expected an out of range error")
	}
}

func TestExportFrames(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	dir := t.TempDir()
	format, err := ParseFormat(".png")
	if err != nil {
		t.Fatal("ParseFormat:", err)
	}
	if err := s.ExportFrames(dir, format); err != nil {
		t.Fatal("ExportFrames:", err)
	}
	names, _ := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if len(names) != 4 {
		t.Fatal("unexpected file count: got:", len(names), "want: 4")
	}
	m, err := imaging.Open(names[0])
	if err != nil {
		t.Fatal("imaging.Open:", err)
	}
	if m.Bounds().Dx() != 8 {
		t.Fatal("unexpected frame size:", m.Bounds())
	}
	if _, err := os.Stat(filepath.Join(dir, "frame_003.png")); err != nil {
		t.Fatal("missing last frame:", err)
	}
}

func TestRelease(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	s.Release()
	if st := s.State(); st != Empty || s.Len() != 0 || s.Output() != nil {
		t.Fatal("release kept state:", st, s.Len())
	}
	if err := s.Load(context.Background(), testGIF(t, 8)); err != nil {
		t.Fatal("Load after Release:", err)
	}
}

func TestOutputIsCopy(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	out, err := s.Export(context.Background())
	if err != nil {
		t.Fatal("Export:", err)
	}
	want := bytes.Clone(out)

	clear(out)
	if got := s.Output(); !bytes.Equal(got, want) {
		t.Fatal("changing the exported bytes changed the output")
	}
	clear(s.Output())
	if got := s.Output(); !bytes.Equal(got, want) {
		t.Fatal("changing the returned output changed the session")
	}
}

func TestUndoDecodeFailure(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	s.history.Push([]byte("GIF89a truncated"))
	out, err := s.Export(context.Background())
	if err != nil {
		t.Fatal("Export:", err)
	}

	var de *gif.DecodeError
	if err := s.Undo(); !errors.As(err, &de) {
		t.Fatal("unexpected error: got:", err, "want: *gif.DecodeError")
	}
	if n := s.history.Len(); n != 2 {
		t.Fatal("failed undo dropped history: got:", n, "want: 2")
	}
	if !bytes.Equal(s.Output(), out) {
		t.Fatal("failed undo replaced the output")
	}
	if st := s.State(); st != Encoded {
		t.Fatal("unexpected state: got:", st, "want:", Encoded)
	}
}

func TestPreviewSuperseded(t *testing.T) {
	s := loadSession(t, testGIF(t, 8))
	if err := s.Paint(image.Pt(4, 4), 2); err != nil {
		t.Fatal("Paint:", err)
	}

	preview := func(gen uint64) <-chan error {
		done := make(chan error, 1)
		go func() {
			_, err := s.Preview(context.Background(), 0)
			done <- err
		}()
		for s.preview.Load() != gen {
			time.Sleep(time.Millisecond)
		}
		return done
	}

	s.mu.Lock()
	older := preview(1)
	newer := preview(2)
	s.mu.Unlock()

	if err := <-older; !errors.Is(err, ErrSuperseded) {
		t.Fatal("unexpected error: got:", err, "want:", ErrSuperseded)
	}
	if err := <-newer; err != nil {
		t.Fatal("Preview:", err)
	}
	if st := s.State(); st != Previewed {
		t.Fatal("unexpected state: got:", st, "want:", Previewed)
	}
}
