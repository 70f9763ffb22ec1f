package main

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/tastycreative/gifretouch"
	"github.com/tastycreative/gifretouch/blur"
	"github.com/tastycreative/gifretouch/compose"
	"github.com/tastycreative/gifretouch/editor"
	"github.com/tastycreative/gifretouch/mask"
)

const maxUpload = 32 << 20

var (
	cfg    = editor.DefaultConfig()
	logger = cfg.Log.Logger(os.Stderr)
)

func main() {
	if len(os.Args) > 1 {
		c, err := editor.LoadConfig(os.Args[1])
		if err != nil {
			panic(err)
		}
		cfg = *c
		logger = cfg.Log.Logger(os.Stderr)
	}

	http.HandleFunc("/retouch", handleRetouch)
	logger.Info("server: listening", "addr", ":8090")
	if err := http.ListenAndServe(":8090", nil); err != nil {
		panic(err)
	}
}

// handleRetouch blurs a circle of the posted GIF. The query carries the
// circle's x, y and r in the coordinates of a w by h viewport, plus an
// optional type and intensity.
func handleRetouch(w http.ResponseWriter, req *http.Request) {
	id := uuid.New()
	log := logger.With("request", id.String())
	w.Header().Set("x-request-id", id.String())
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	c := cfg
	q := req.URL.Query()
	if t := q.Get("type"); t != "" {
		k, err := blur.ParseKind(t)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.Blur.Kind = k
	}
	if v := q.Get("intensity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.Blur.Intensity = n
	}
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	if err := errors.Join(errX, errY); err != nil {
		http.Error(w, "x and y are required", http.StatusBadRequest)
		return
	}
	r, _ := strconv.Atoi(q.Get("r"))
	vw, _ := strconv.Atoi(q.Get("w"))
	vh, _ := strconv.Atoi(q.Get("h"))

	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxUpload))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	s, err := editor.NewSession(c, log)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer s.Release()

	ctx := req.Context()
	if err := s.Load(ctx, data); err != nil {
		fail(w, log, err)
		return
	}
	size := s.Bounds().Size()
	if vw <= 0 || vh <= 0 {
		vw, vh = size.X, size.Y
	}
	p := mask.FromViewport(x, y, image.Pt(vw, vh), size)
	if r > 0 && vw > 0 {
		r = r * size.X / vw
	}
	if err := s.Paint(p, r); err != nil {
		fail(w, log, err)
		return
	}
	if err := s.Commit(); err != nil {
		fail(w, log, err)
		return
	}
	if _, err := s.Export(ctx); err != nil {
		fail(w, log, err)
		return
	}

	w.Header().Set("content-type", "image/gif")
	w.Header().Set("cache-control", "no-store")
	if _, err := s.WriteTo(w); err != nil {
		log.Warn("server: write failed", "error", err)
	}
}

func fail(w http.ResponseWriter, log *slog.Logger, err error) {
	status := http.StatusInternalServerError
	var de *gif.DecodeError
	var ee *compose.ExtractionError
	if errors.As(err, &de) || errors.As(err, &ee) {
		status = http.StatusUnprocessableEntity
	}
	log.Warn("server: retouch failed", "status", status, "error", err)
	http.Error(w, editor.UserMessage(err), status)
}
