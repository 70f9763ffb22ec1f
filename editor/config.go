package editor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ericpauley/go-quantize/quantize"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/draw"
	"gopkg.in/yaml.v3"

	"github.com/tastycreative/gifretouch/blur"
)

// Config is loaded once per session and passed by value to each component.
type Config struct {
	Blur    blur.Params   `yaml:"blur"`
	Brush   BrushConfig   `yaml:"brush"`
	Extract ExtractConfig `yaml:"extract"`
	Encode  EncodeConfig  `yaml:"encode"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// BrushConfig contains mask painting settings
type BrushConfig struct {
	Radius int `yaml:"radius"` // canvas pixels (default: 20)
}

// ExtractConfig contains display resampling settings
type ExtractConfig struct {
	TargetWidth  int    `yaml:"target_width"`  // 0 keeps the logical screen width
	TargetHeight int    `yaml:"target_height"` // 0 keeps the logical screen height
	Resample     string `yaml:"resample"`      // nearest, bilinear
}

// EncodeConfig contains re-encoding settings
type EncodeConfig struct {
	NumColors   int    `yaml:"num_colors"`  // 2..256 (default: 256)
	Dither      *bool  `yaml:"dither"`      // Floyd-Steinberg when palettes are rebuilt (default: true)
	Aggregation string `yaml:"aggregation"` // mean, mode
	LoopCount   int    `yaml:"loop_count"`  // 0 loops forever
}

// HistoryConfig contains undo settings
type HistoryConfig struct {
	Limit       int    `yaml:"limit"`       // retained encodings (default: 10)
	Compression string `yaml:"compression"` // fastest, default, better, best
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns a validated configuration with every default filled.
func DefaultConfig() Config {
	var cfg Config
	if err := Validate(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads and validates a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML configuration
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks cfg and fills defaults for unset fields
func Validate(cfg *Config) error {
	if cfg.Blur.Intensity == 0 {
		cfg.Blur.Intensity = 10
	}
	if cfg.Blur.Intensity < blur.MinIntensity || cfg.Blur.Intensity > blur.MaxIntensity {
		return fmt.Errorf("blur.intensity must be in [%d, %d], got %d", blur.MinIntensity, blur.MaxIntensity, cfg.Blur.Intensity)
	}

	if cfg.Brush.Radius == 0 {
		cfg.Brush.Radius = 20
	}
	if cfg.Brush.Radius < 0 {
		return fmt.Errorf("brush.radius must be > 0")
	}

	if cfg.Extract.TargetWidth < 0 || cfg.Extract.TargetHeight < 0 {
		return fmt.Errorf("extract target size must be >= 0")
	}
	if (cfg.Extract.TargetWidth == 0) != (cfg.Extract.TargetHeight == 0) {
		return fmt.Errorf("extract.target_width and extract.target_height must be set together")
	}
	if cfg.Extract.Resample == "" {
		cfg.Extract.Resample = "nearest"
	}
	if _, ok := interpolators[cfg.Extract.Resample]; !ok {
		return fmt.Errorf("extract.resample must be nearest or bilinear, got %q", cfg.Extract.Resample)
	}

	if cfg.Encode.NumColors == 0 {
		cfg.Encode.NumColors = 256
	}
	if cfg.Encode.NumColors < 2 || cfg.Encode.NumColors > 256 {
		return fmt.Errorf("encode.num_colors must be in [2, 256], got %d", cfg.Encode.NumColors)
	}
	if cfg.Encode.Dither == nil {
		dither := true
		cfg.Encode.Dither = &dither
	}
	if cfg.Encode.Aggregation == "" {
		cfg.Encode.Aggregation = "mean"
	}
	if _, ok := aggregations[cfg.Encode.Aggregation]; !ok {
		return fmt.Errorf("encode.aggregation must be mean or mode, got %q", cfg.Encode.Aggregation)
	}
	if cfg.Encode.LoopCount < 0 || cfg.Encode.LoopCount > 0xffff {
		return fmt.Errorf("encode.loop_count must be in [0, 65535], got %d", cfg.Encode.LoopCount)
	}

	if cfg.History.Limit == 0 {
		cfg.History.Limit = 10
	}
	if cfg.History.Limit < 0 {
		return fmt.Errorf("history.limit must be > 0")
	}
	if cfg.History.Compression == "" {
		cfg.History.Compression = "default"
	}
	if ok, _ := zstd.EncoderLevelFromString(cfg.History.Compression); !ok {
		return fmt.Errorf("history.compression must be fastest, default, better or best, got %q", cfg.History.Compression)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	return nil
}

var interpolators = map[string]draw.Interpolator{
	"nearest":  draw.NearestNeighbor,
	"bilinear": draw.ApproxBiLinear,
}

var aggregations = map[string]quantize.AggregationType{
	"mean": quantize.Mean,
	"mode": quantize.Mode,
}

// Interpolator returns the display resampler.
func (c ExtractConfig) Interpolator() draw.Interpolator {
	if i, ok := interpolators[c.Resample]; ok {
		return i
	}
	return draw.NearestNeighbor
}

// Drawer maps rebuilt palettes onto frames.
func (c EncodeConfig) Drawer() draw.Drawer {
	if c.Dither != nil && !*c.Dither {
		return draw.Src
	}
	return draw.FloydSteinberg
}

func (c EncodeConfig) aggregation() quantize.AggregationType {
	return aggregations[c.Aggregation]
}

func (c HistoryConfig) level() zstd.EncoderLevel {
	ok, level := zstd.EncoderLevelFromString(c.Compression)
	if !ok {
		return zstd.SpeedDefault
	}
	return level
}

// Logger builds the session logger writing to w.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
