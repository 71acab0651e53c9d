package sensor

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"mjpeg-stream-server/internal/convert"
	"mjpeg-stream-server/internal/memtier"
	"mjpeg-stream-server/internal/stream"
)

var barColors = []color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{16, 16, 16, 255},
}

// pattern renders moving colour bars with a frame counter.
type pattern struct {
	res     Resolution
	format  stream.PixelFormat
	quality int
	every   int

	canvas  *image.RGBA
	scratch []byte
	store   frameStore
	n       uint64
}

func newPattern(res Resolution, format stream.PixelFormat, tier memtier.Tier, cfg Config, alloc *memtier.Allocator, logger *slog.Logger) *pattern {
	return &pattern{
		res:     res,
		format:  format,
		quality: cfg.Quality,
		every:   cfg.UnavailableEvery,
		canvas:  image.NewRGBA(image.Rect(0, 0, res.Width, res.Height)),
		store:   frameStore{alloc: alloc, tier: tier},
	}
}

func (p *pattern) Info() Info {
	return Info{Kind: KindPattern, Width: p.res.Width, Height: p.res.Height, Format: p.format, Tier: p.store.tier}
}

func (p *pattern) Acquire() (*stream.Frame, error) {
	if p.store.held {
		return nil, errFrameHeld
	}
	p.n++
	if p.every > 0 && p.n%uint64(p.every) == 0 {
		return nil, stream.ErrUnavailable
	}

	p.render()

	var out []byte
	if p.format == stream.FormatJPEG {
		enc, err := convert.Pack(p.scratch, p.canvas, stream.FormatJPEG, p.quality)
		if err != nil {
			return nil, err
		}
		p.scratch = enc
		dst, err := p.store.ensure(len(enc))
		if err != nil {
			return nil, err
		}
		out = dst[:copy(dst, enc)]
	} else {
		dst, err := p.store.ensure(convert.FrameSize(p.format, p.res.Width, p.res.Height))
		if err != nil {
			return nil, err
		}
		if out, err = convert.Pack(dst, p.canvas, p.format, p.quality); err != nil {
			return nil, err
		}
	}
	return p.store.hand(len(out), p.res.Width, p.res.Height, p.format), nil
}

func (p *pattern) Release(f *stream.Frame) { p.store.release(f) }

func (p *pattern) Close() error {
	p.store.close()
	return nil
}

func (p *pattern) render() {
	w, h := p.res.Width, p.res.Height
	barW := (w + len(barColors) - 1) / len(barColors)
	shift := int(p.n*4) % w

	for i, c := range barColors {
		x0 := (i*barW + shift) % w
		for _, r := range wrapSpan(x0, barW, w) {
			draw.Draw(p.canvas, image.Rect(r[0], 0, r[1], h), &image.Uniform{C: c}, image.Point{}, draw.Src)
		}
	}

	face := basicfont.Face7x13
	label := fmt.Sprintf("#%d %dx%d %s", p.n, w, h, p.format)
	tw := font.MeasureString(face, label).Ceil()
	box := image.Rect(4, 4, 4+tw+8, 4+face.Height+6)
	draw.Draw(p.canvas, box, image.Black, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  p.canvas,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(box.Min.X+4, box.Min.Y+3+face.Ascent),
	}
	d.DrawString(label)
}

// wrapSpan splits [x0, x0+n) on a ring of width w into at most two spans.
func wrapSpan(x0, n, w int) [][2]int {
	end := x0 + n
	if end <= w {
		return [][2]int{{x0, end}}
	}
	return [][2]int{{x0, w}, {0, end - w}}
}
