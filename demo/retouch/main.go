package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/tastycreative/gifretouch/blur"
	"github.com/tastycreative/gifretouch/editor"
	"github.com/tastycreative/gifretouch/mask"
)

var (
	input     = flag.String("in", "", "Input GIF")
	output    = flag.String("out", "retouched.gif", "Output GIF")
	config    = flag.String("config", "", "Optional YAML config")
	kind      = flag.String("type", "", "Blur type: gaussian, pixelated or mosaic")
	intensity = flag.Int("intensity", 0, "Blur intensity, 1 to 50")
	radius    = flag.Int("radius", 0, "Brush radius in pixels")
	viewport  = flag.String("viewport", "", "Rendered size WxH the points were picked on")
	frames    = flag.String("frames", "", "Also write every frame to this directory")
	format    = flag.String("format", "png", "Frame format: png, jpg, gif, bmp or tiff")
)

var (
	info = color.New(color.FgCyan).SprintFunc()
	ok   = color.New(color.FgGreen).SprintFunc()
	fail = color.New(color.FgRed, color.Bold).SprintFunc()
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: retouch -in file.gif [flags] x,y [x,y ...]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *input == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, fail("error:"), editor.UserMessage(err))
		fmt.Fprintln(os.Stderr, "  ", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := editor.DefaultConfig()
	if *config != "" {
		c, err := editor.LoadConfig(*config)
		if err != nil {
			return err
		}
		cfg = *c
	}
	if *kind != "" {
		k, err := blur.ParseKind(*kind)
		if err != nil {
			return err
		}
		cfg.Blur.Kind = k
	}
	if *intensity != 0 {
		cfg.Blur.Intensity = *intensity
	}
	if *radius != 0 {
		cfg.Brush.Radius = *radius
	}

	s, err := editor.NewSession(cfg, cfg.Log.Logger(os.Stderr))
	if err != nil {
		return err
	}
	defer s.Release()

	data, err := os.ReadFile(*input)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := s.Load(ctx, data); err != nil {
		return err
	}
	b := s.Bounds()
	fmt.Println(info("loaded"), *input, b.Dx(), "x", b.Dy(), "frames:", s.Len())

	points, err := parsePoints(flag.Args(), b.Size())
	if err != nil {
		return err
	}
	for i, p := range points {
		if i == 0 {
			err = s.Paint(p, 0)
		} else {
			err = s.Stroke(points[i-1], p, 0)
		}
		if err != nil {
			return err
		}
	}
	fmt.Println(info("painted"), len(points), "points with", s.Params())

	if err := s.Commit(); err != nil {
		return err
	}
	out, err := s.Export(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*output, out, 0o644); err != nil {
		return err
	}
	fmt.Println(ok("wrote"), *output, len(out), "bytes")

	if *frames != "" {
		f, err := editor.ParseFormat(*format)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(*frames, 0o755); err != nil {
			return err
		}
		if err := s.ExportFrames(*frames, f); err != nil {
			return err
		}
		fmt.Println(ok("wrote"), s.Len(), "frames to", *frames)
	}
	return nil
}

// parsePoints reads "x,y" pairs, mapping them from the viewport to the
// image when one was given.
func parsePoints(args []string, intrinsic image.Point) ([]image.Point, error) {
	rendered := intrinsic
	if *viewport != "" {
		w, h, found := strings.Cut(*viewport, "x")
		if !found {
			return nil, fmt.Errorf("invalid viewport %q", *viewport)
		}
		var err error
		if rendered.X, err = strconv.Atoi(w); err != nil {
			return nil, fmt.Errorf("invalid viewport %q: %w", *viewport, err)
		}
		if rendered.Y, err = strconv.Atoi(h); err != nil {
			return nil, fmt.Errorf("invalid viewport %q: %w", *viewport, err)
		}
	}

	points := make([]image.Point, len(args))
	for i, a := range args {
		xs, ys, found := strings.Cut(a, ",")
		if !found {
			return nil, fmt.Errorf("invalid point %q", a)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", a, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point %q: %w", a, err)
		}
		points[i] = mask.FromViewport(x, y, rendered, intrinsic)
	}
	return points, nil
}
