// Package sensor provides the frame sources the stream runs on: a synthetic
// test pattern and a directory of JPEG stills. Both honour the configured
// resolution, pixel format and buffer storage tier.
package sensor

import (
	"fmt"
	"log/slog"
	"strings"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/stream"
)

const (
	KindPattern = "pattern"
	KindFiles   = "files"
)

// Config is applied once by Init.
type Config struct {
	Kind        string `yaml:"kind"`
	Resolution  string `yaml:"resolution"`
	PixelFormat string `yaml:"pixel_format"`
	// Storage is the preferred tier for frame buffers: fast or slow.
	Storage string `yaml:"storage"`
	// Dir holds the stills for the files sensor.
	Dir string `yaml:"dir"`
	// Quality is the JPEG quality of frames the sensor encodes itself.
	Quality int `yaml:"quality"`
	// UnavailableEvery makes every Nth acquire report no frame. 0 disables.
	UnavailableEvery int `yaml:"unavailable_every"`
}

// DefaultConfig is a VGA JPEG test pattern in slow storage.
func DefaultConfig() Config {
	return Config{
		Kind:        KindPattern,
		Resolution:  "VGA",
		PixelFormat: "jpeg",
		Storage:     "slow",
		Quality:     12,
	}
}

// Info describes an initialised sensor.
type Info struct {
	Kind   string             `json:"kind"`
	Width  int                `json:"width"`
	Height int                `json:"height"`
	Format stream.PixelFormat `json:"-"`
	Tier   memtier.Tier       `json:"-"`
}

// Sensor is a stream.Source that owns buffers and must be closed.
type Sensor interface {
	stream.Source
	Info() Info
	Close() error
}

// Resolution is a named frame size.
type Resolution struct {
	Name   string
	Width  int
	Height int
}

var resolutions = []Resolution{
	{"QQVGA", 160, 120},
	{"QCIF", 176, 144},
	{"HQVGA", 240, 176},
	{"QVGA", 320, 240},
	{"CIF", 400, 296},
	{"VGA", 640, 480},
	{"SVGA", 800, 600},
	{"XGA", 1024, 768},
	{"SXGA", 1280, 1024},
	{"UXGA", 1600, 1200},
}

// ParseResolution looks up a frame size by name, case-insensitively.
func ParseResolution(name string) (Resolution, error) {
	for _, r := range resolutions {
		if strings.EqualFold(r.Name, strings.TrimSpace(name)) {
			return r, nil
		}
	}
	return Resolution{}, errors.WrapInvalid(fmt.Errorf("unknown resolution %q", name), "sensor", "ParseResolution", "look up resolution")
}

// Resolutions lists the supported frame sizes, smallest first.
func Resolutions() []Resolution {
	return append([]Resolution(nil), resolutions...)
}

// pixelFormat parses the configured format. Anything the sensor cannot
// produce falls back to grayscale.
func pixelFormat(name string, logger *slog.Logger) stream.PixelFormat {
	f, err := stream.ParsePixelFormat(name)
	if err != nil {
		logger.Warn("unsupported pixel format, using grayscale", "pixel_format", name)
		return stream.FormatGrayscale
	}
	return f
}

// Init builds the sensor described by cfg. Buffers come from alloc in the
// configured tier.
func Init(cfg Config, alloc *memtier.Allocator, logger *slog.Logger) (Sensor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sensor")

	res, err := ParseResolution(cfg.Resolution)
	if err != nil {
		return nil, err
	}
	tier := memtier.TierSlow
	if cfg.Storage != "" {
		if tier, err = memtier.ParseTier(cfg.Storage); err != nil {
			return nil, errors.WrapInvalid(err, "sensor", "Init", "parse storage")
		}
	}
	format := pixelFormat(cfg.PixelFormat, logger)

	var s Sensor
	switch strings.ToLower(cfg.Kind) {
	case "", KindPattern:
		s = newPattern(res, format, tier, cfg, alloc, logger)
	case KindFiles:
		s, err = newFiles(res, format, tier, cfg, alloc, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unknown sensor kind %q", cfg.Kind), "sensor", "Init", "select sensor")
	}

	info := s.Info()
	logger.Info("sensor initialised",
		"kind", info.Kind,
		"resolution", res.Name,
		"width", info.Width,
		"height", info.Height,
		"pixel_format", info.Format,
		"storage", info.Tier)
	return s, nil
}

// frameStore is the single frame buffer a sensor hands out. Acquire fills
// it and Release hands it back; a second Acquire before Release fails.
type frameStore struct {
	alloc *memtier.Allocator
	tier  memtier.Tier
	block *memtier.Block
	held  bool
	frame stream.Frame
}

var errFrameHeld = errors.New("previous frame not released")

// ensure grows the block to hold size bytes.
func (fs *frameStore) ensure(size int) ([]byte, error) {
	if size > fs.block.Len() {
		blk, err := fs.alloc.AllocateIn(fs.tier, fs.block, size)
		if err != nil {
			fs.block = nil
			return nil, err
		}
		fs.block = blk
	}
	return fs.block.Bytes(), nil
}

func (fs *frameStore) hand(n, w, h int, format stream.PixelFormat) *stream.Frame {
	fs.held = true
	fs.frame = stream.Frame{Data: fs.block.Bytes()[:n], Width: w, Height: h, Format: format}
	return &fs.frame
}

func (fs *frameStore) release(f *stream.Frame) {
	if f == &fs.frame {
		fs.held = false
	}
}

func (fs *frameStore) close() {
	fs.alloc.Free(fs.block)
	fs.block = nil
}
