package sensor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"

	"mjpeg-stream-server/internal/convert"
	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/stream"
)

// files replays the JPEG stills of a directory in name order. JPEG output
// passes the files through untouched; raw formats decode each still, scale
// it to the configured resolution and pack it.
type files struct {
	res     Resolution
	format  stream.PixelFormat
	quality int
	every   int

	paths  []string
	next   int
	n      uint64
	store  frameStore
	canvas *image.RGBA
}

func newFiles(res Resolution, format stream.PixelFormat, tier memtier.Tier, cfg Config, alloc *memtier.Allocator, logger *slog.Logger) (*files, error) {
	if cfg.Dir == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "sensor", "newFiles", "files sensor needs a directory")
	}
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, errors.WrapInvalid(err, "sensor", "newFiles", "read directory")
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(cfg.Dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no jpeg files in %s", cfg.Dir), "sensor", "newFiles", "list stills")
	}
	sort.Strings(paths)
	logger.Debug("stills loaded", "dir", cfg.Dir, "count", len(paths))

	return &files{
		res:     res,
		format:  format,
		quality: cfg.Quality,
		every:   cfg.UnavailableEvery,
		paths:   paths,
		store:   frameStore{alloc: alloc, tier: tier},
	}, nil
}

func (f *files) Info() Info {
	return Info{Kind: KindFiles, Width: f.res.Width, Height: f.res.Height, Format: f.format, Tier: f.store.tier}
}

func (f *files) Acquire() (*stream.Frame, error) {
	if f.store.held {
		return nil, errFrameHeld
	}
	f.n++
	if f.every > 0 && f.n%uint64(f.every) == 0 {
		return nil, stream.ErrUnavailable
	}

	path := f.paths[f.next]
	f.next = (f.next + 1) % len(f.paths)

	raw, err := f.read(path)
	if err != nil {
		return nil, err
	}
	if f.format == stream.FormatJPEG {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.WrapTransient(err, "sensor", "Acquire", "decode "+filepath.Base(path))
		}
		return f.store.hand(len(raw), cfg.Width, cfg.Height, stream.FormatJPEG), nil
	}

	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.WrapTransient(err, "sensor", "Acquire", "decode "+filepath.Base(path))
	}
	if f.canvas == nil {
		f.canvas = image.NewRGBA(image.Rect(0, 0, f.res.Width, f.res.Height))
	}
	draw.ApproxBiLinear.Scale(f.canvas, f.canvas.Bounds(), img, img.Bounds(), draw.Src, nil)

	// The decoded still is already out of the buffer, so the raw frame can
	// reuse it.
	dst, err := f.store.ensure(convert.FrameSize(f.format, f.res.Width, f.res.Height))
	if err != nil {
		return nil, err
	}
	out, err := convert.Pack(dst, f.canvas, f.format, f.quality)
	if err != nil {
		return nil, err
	}
	return f.store.hand(len(out), f.res.Width, f.res.Height, f.format), nil
}

// read loads a still into the frame buffer.
func (f *files) read(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "sensor", "Acquire", "open "+filepath.Base(path))
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		return nil, errors.WrapTransient(err, "sensor", "Acquire", "stat "+filepath.Base(path))
	}
	size := int(st.Size())
	if size == 0 {
		return nil, stream.ErrUnavailable
	}
	dst, err := f.store.ensure(size)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(fh, dst[:size]); err != nil {
		return nil, errors.WrapTransient(err, "sensor", "Acquire", "read "+filepath.Base(path))
	}
	return dst[:size], nil
}

func (f *files) Release(fr *stream.Frame) { f.store.release(fr) }

func (f *files) Close() error {
	f.store.close()
	return nil
}
