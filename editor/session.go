// Package editor drives one retouching session over an animated GIF:
// load, paint a mask, preview, commit a blur to every frame, and export.
//
// A Session serializes its mutations. Load may run concurrently with other
// loads; the last one requested wins and earlier ones return ErrSuperseded.
// Previews may be superseded the same way. Commit and Export run to
// completion once started.
package editor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/tastycreative/gifretouch"
	"github.com/tastycreative/gifretouch/blur"
	"github.com/tastycreative/gifretouch/compose"
	"github.com/tastycreative/gifretouch/mask"
)

// State is the step a session has reached.
type State int

const (
	Empty State = iota
	// Decoded is transient: a load installs its result only once every
	// frame is composited.
	Decoded
	Composited
	Masked
	Previewed
	Committed
	Encoded
)

var stateNames = [...]string{"empty", "decoded", "composited", "masked", "previewed", "committed", "encoded"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

type Session struct {
	ID  uuid.UUID
	cfg Config
	log *slog.Logger

	loading atomic.Pointer[uuid.UUID] // newest load request
	preview atomic.Uint64             // newest preview request

	mu       sync.Mutex
	state    State
	screen   Screen
	records  []compose.Record
	pristine []*image.NRGBA // composites as extracted
	frames   []*image.NRGBA // composites with committed edits
	mask     *mask.Mask
	params   blur.Params
	output   []byte // last successful encoding
	history  *History
}

// NewSession validates cfg and returns an empty session. A nil logger writes
// to stderr as cfg.Log describes.
func NewSession(cfg Config, logger *slog.Logger) (*Session, error) {
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = cfg.Log.Logger(os.Stderr)
	}
	id := uuid.New()
	return &Session{
		ID:     id,
		cfg:    cfg,
		log:    logger.With("session", id.String()),
		params: cfg.Blur.Clamped(),
	}, nil
}

func (s *Session) setState(st State) {
	if s.state != st {
		s.log.Debug("editor: state", "from", s.state, "to", st)
	}
	s.state = st
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type loaded struct {
	screen  Screen
	res     *compose.Result
	decoded int
}

func (s *Session) decode(data []byte) (*loaded, error) {
	g, err := gif.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, err
	}
	res, err := compose.Extract(g, compose.Options{Logger: s.log})
	if err != nil {
		return nil, err
	}
	p, _ := g.Config.ColorModel.(color.Palette)
	return &loaded{
		screen: Screen{
			Width:           res.Width,
			Height:          res.Height,
			Palette:         p,
			BackgroundIndex: g.BackgroundIndex,
		},
		res:     res,
		decoded: len(g.Frames),
	}, nil
}

// install replaces the session's frames. The caller holds s.mu.
func (s *Session) install(l *loaded) {
	s.screen = l.screen
	s.records = l.res.Records
	s.pristine = l.res.Frames
	s.frames = compose.Clone(l.res.Frames)
	s.mask = mask.New(l.screen.Width, l.screen.Height)
}

// Load decodes data and composites its frames, replacing whatever the
// session held. If another Load starts before this one finishes, this one
// returns ErrSuperseded and its result is discarded. On error the session
// keeps its previous content.
func (s *Session) Load(ctx context.Context, data []byte) error {
	token := uuid.New()
	s.loading.Store(&token)
	log := s.log.With("load", token.String())

	l, err := s.decode(data)
	if *s.loading.Load() != token {
		log.Debug("editor: load superseded")
		return ErrSuperseded
	}
	if err != nil {
		log.Warn("editor: load failed", "error", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	history, err := NewHistory(s.cfg.History.Limit, s.cfg.History.level())
	if err != nil {
		return err
	}
	history.Reset(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if *s.loading.Load() != token {
		history.Release()
		log.Debug("editor: load superseded")
		return ErrSuperseded
	}
	s.release()
	s.history = history
	s.install(l)
	s.setState(Decoded)
	s.setState(Composited)
	log.Info("editor: loaded",
		"width", l.screen.Width,
		"height", l.screen.Height,
		"decoded", l.decoded,
		"frames", len(s.frames))
	return nil
}

// Len returns the number of composited frames.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Bounds returns the logical screen.
func (s *Session) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return image.Rect(0, 0, s.screen.Width, s.screen.Height)
}

// Frame returns a copy of composite i, resampled to the configured display
// size if one is set.
func (s *Session) Frame(i int) (*image.NRGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.frameIndex("frame", i); err != nil {
		return nil, err
	}
	return s.display(s.frames[i]), nil
}

func (s *Session) display(m *image.NRGBA) *image.NRGBA {
	ec := s.cfg.Extract
	if ec.TargetWidth == 0 || (ec.TargetWidth == m.Rect.Dx() && ec.TargetHeight == m.Rect.Dy()) {
		return compose.Clone([]*image.NRGBA{m})[0]
	}
	return compose.Resample(m, ec.TargetWidth, ec.TargetHeight, ec.Interpolator())
}

func (s *Session) frameIndex(op string, i int) error {
	if s.state < Composited {
		return stateError(op, s.state)
	}
	if i < 0 || i >= len(s.frames) {
		return fmt.Errorf("editor: %s index %d out of range [0, %d)", op, i, len(s.frames))
	}
	return nil
}

// SetParams selects the transform used by Preview and Commit.
func (s *Session) SetParams(p blur.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p.Clamped()
}

// Params returns the current transform.
func (s *Session) Params() blur.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Paint adds a circle of radius r at p, in canvas pixels, to the mask.
// r <= 0 uses the configured brush radius.
func (s *Session) Paint(p image.Point, r int) error {
	return s.paint("paint", func(m *mask.Mask, r int) { m.Paint(p, r) }, r)
}

// Stroke paints along the segment from p to q.
func (s *Session) Stroke(p, q image.Point, r int) error {
	return s.paint("stroke", func(m *mask.Mask, r int) { m.Stroke(p, q, r) }, r)
}

func (s *Session) paint(op string, fn func(*mask.Mask, int), r int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < Composited {
		return stateError(op, s.state)
	}
	if r <= 0 {
		r = s.cfg.Brush.Radius
	}
	fn(s.mask, r)
	if s.state < Masked || s.state > Previewed {
		s.setState(Masked)
	}
	return nil
}

// Clear empties the mask and restores every frame to its composite as
// extracted, dropping committed edits.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < Composited {
		return stateError("clear", s.state)
	}
	s.mask.Clear()
	s.frames = compose.Clone(s.pristine)
	s.setState(Composited)
	return nil
}

// Mask returns a copy of the mask.
func (s *Session) Mask() (*image.Alpha, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < Composited {
		return nil, stateError("mask", s.state)
	}
	a := *s.mask.Alpha()
	a.Pix = append([]uint8(nil), a.Pix...)
	return &a, nil
}

// Preview renders frame i through the current transform without changing
// it. A preview that is overtaken by a newer one before it starts returns
// ErrSuperseded.
func (s *Session) Preview(ctx context.Context, i int) (*image.NRGBA, error) {
	gen := s.preview.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.preview.Load() != gen {
		return nil, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.frameIndex("preview", i); err != nil {
		return nil, err
	}

	m, err := blur.Preview(s.frames[i], blur.NewSelection(s.mask.Alpha()), s.params)
	if err != nil {
		return nil, err
	}
	if s.state < Committed {
		s.setState(Previewed)
	}
	return s.display(m), nil
}

// Commit applies the current transform to every frame, reading the mask once.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < Composited {
		return stateError("commit", s.state)
	}

	sel := blur.NewSelection(s.mask.Alpha())
	if err := blur.Commit(s.frames, sel, s.params); err != nil {
		s.log.Error("editor: commit failed", "error", err)
		return err
	}
	s.log.Info("editor: committed",
		"kind", s.params.Kind,
		"intensity", s.params.Intensity,
		"frames", len(s.frames),
		"masked", s.mask.Count())
	s.setState(Committed)
	return nil
}

// Export reassembles and encodes the frames. On success the encoding becomes
// the session's output and is recorded for Undo. On failure the previous
// output stays current and the error is an *EncodeAbort or a
// *compose.PreconditionError.
func (s *Session) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < Composited {
		return nil, stateError("export", s.state)
	}

	outs, err := compose.Reassemble(s.frames, s.records)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(ctx, &buf, outs, s.screen, s.cfg.Encode); err != nil {
		s.log.Error("editor: encode aborted", "error", err)
		return nil, err
	}

	s.output = buf.Bytes()
	s.history.Push(s.output)
	s.log.Info("editor: exported",
		"bytes", len(s.output),
		"frames", len(outs),
		"history", s.history.Len(),
		"history_bytes", s.history.Size())
	s.setState(Encoded)
	return bytes.Clone(s.output), nil
}

// ExportAsync runs Export in a new goroutine and calls done with its result.
func (s *Session) ExportAsync(ctx context.Context, done func([]byte, error)) {
	go func() {
		b, err := s.Export(ctx)
		done(b, err)
	}()
}

// Output returns a copy of the last successful encoding, or nil.
func (s *Session) Output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.output)
}

// Undo drops the latest encoding and reloads the one before it, or the
// source. The mask is reset. If the earlier entry cannot be decoded the
// session and its history are left as they were.
func (s *Session) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < Composited || s.history == nil || s.history.Len() == 0 {
		return stateError("undo", s.state)
	}

	b, source, err := s.history.Previous()
	if err != nil {
		return err
	}
	l, err := s.decode(b)
	if err != nil {
		s.log.Error("editor: undo failed", "error", err)
		return err
	}
	s.history.Drop()
	s.install(l)
	if source {
		s.output = nil
	} else {
		s.output = b
	}
	s.log.Info("editor: undone", "source", source, "history", s.history.Len())
	s.setState(Composited)
	return nil
}

// ExportFrames writes every composite to dir as frame_NNN with the
// extension of format.
func (s *Session) ExportFrames(dir string, format imaging.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state < Composited {
		return stateError("export frames", s.state)
	}
	ext, ok := extensions[format]
	if !ok {
		return fmt.Errorf("editor: unsupported frame format %v", format)
	}

	for i, m := range s.frames {
		name := filepath.Join(dir, fmt.Sprintf("frame_%03d.%s", i, ext))
		if err := writeFrame(name, s.display(m), format); err != nil {
			return err
		}
	}
	s.log.Debug("editor: frames written", "dir", dir, "frames", len(s.frames), "format", format)
	return nil
}

var extensions = map[imaging.Format]string{
	imaging.PNG:  "png",
	imaging.JPEG: "jpg",
	imaging.GIF:  "gif",
	imaging.BMP:  "bmp",
	imaging.TIFF: "tiff",
}

func writeFrame(name string, m image.Image, format imaging.Format) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return imaging.Encode(f, m, format)
}

// ParseFormat maps a file extension or format name to an imaging format.
func ParseFormat(s string) (imaging.Format, error) {
	return imaging.FormatFromExtension(strings.TrimPrefix(s, "."))
}

// Release frees every buffer and the undo history. The session returns to
// Empty and can be loaded again.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release()
	s.setState(Empty)
}

func (s *Session) release() {
	if s.history != nil {
		s.history.Release()
		s.history = nil
	}
	s.screen = Screen{}
	s.records = nil
	s.pristine = nil
	s.frames = nil
	s.mask = nil
	s.output = nil
}

// WriteTo writes the last successful encoding to w.
func (s *Session) WriteTo(w io.Writer) (int64, error) {
	b := s.Output()
	if b == nil {
		return 0, fmt.Errorf("%w: nothing exported", ErrState)
	}
	n, err := w.Write(b)
	return int64(n), err
}
