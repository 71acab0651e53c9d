package convert

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/stream"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func packFrame(t *testing.T, img image.Image, format stream.PixelFormat) *stream.Frame {
	t.Helper()
	b := img.Bounds()
	data, err := Pack(make([]byte, FrameSize(format, b.Dx(), b.Dy())), img, format, 0)
	require.NoError(t, err)
	return &stream.Frame{Data: data, Width: b.Dx(), Height: b.Dy(), Format: format}
}

func assertNear(t *testing.T, want, got color.Color, tol int) {
	t.Helper()
	wr, wg, wb, _ := want.RGBA()
	gr, gg, gb, _ := got.RGBA()
	assert.InDelta(t, wr>>8, gr>>8, float64(tol), "red")
	assert.InDelta(t, wg>>8, gg>>8, float64(tol), "green")
	assert.InDelta(t, wb>>8, gb>>8, float64(tol), "blue")
}

func TestImageUnpacksRawLayouts(t *testing.T) {
	orange := color.RGBA{R: 255, G: 128, B: 0, A: 255}

	tests := []struct {
		name   string
		format stream.PixelFormat
		want   color.Color
		tol    int
	}{
		{"rgb565", stream.FormatRGB565, orange, 4},
		{"bgr24", stream.FormatBGR24, orange, 0},
		{"yuv422", stream.FormatYUV422, orange, 4},
		{"grayscale", stream.FormatGrayscale, color.GrayModel.Convert(orange), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := packFrame(t, solid(8, 4, orange), tt.format)
			img, err := Image(f)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
			assertNear(t, tt.want, img.At(3, 2), tt.tol)
		})
	}
}

func TestRGB565IsBigEndian(t *testing.T) {
	f := &stream.Frame{Data: []byte{0xF8, 0x00}, Width: 1, Height: 1, Format: stream.FormatRGB565}
	img, err := Image(f)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, img.At(0, 0))
}

func TestEncodeProducesDecodableJPEG(t *testing.T) {
	enc := NewJPEGEncoder(0)
	assert.Equal(t, DefaultQuality, enc.Quality)

	for _, format := range []stream.PixelFormat{stream.FormatRGB565, stream.FormatYUV422, stream.FormatGrayscale, stream.FormatBGR24} {
		t.Run(format.String(), func(t *testing.T) {
			f := packFrame(t, solid(32, 16, color.RGBA{R: 20, G: 200, B: 90, A: 255}), format)
			out, err := enc.Encode(f)
			require.NoError(t, err)

			cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, 32, cfg.Width)
			assert.Equal(t, 16, cfg.Height)
		})
	}
}

func TestEncodePassesJPEGThrough(t *testing.T) {
	src := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	out, err := NewJPEGEncoder(50).Encode(&stream.Frame{Data: src, Format: stream.FormatJPEG})
	require.NoError(t, err)
	assert.Equal(t, src, out)

	out[0] = 0
	assert.Equal(t, byte(0xFF), src[0], "output must not alias the frame")
}

func TestEncodeRejectsBadFrames(t *testing.T) {
	enc := NewJPEGEncoder(30)

	_, err := enc.Encode(&stream.Frame{Data: make([]byte, 10), Width: 4, Height: 4, Format: stream.FormatRGB565})
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.True(t, errors.IsInvalid(err))

	_, err = enc.Encode(&stream.Frame{Data: make([]byte, 64), Width: 0, Height: 4, Format: stream.FormatGrayscale})
	assert.ErrorIs(t, err, ErrBadDimensions)

	_, err = enc.Encode(&stream.Frame{Data: make([]byte, 64), Width: 3, Height: 2, Format: stream.FormatYUV422})
	assert.ErrorIs(t, err, ErrBadDimensions)

	_, err = enc.Encode(&stream.Frame{Data: make([]byte, 64), Width: 2, Height: 2, Format: stream.PixelFormat(99)})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNewJPEGEncoderClampsQuality(t *testing.T) {
	assert.Equal(t, 1, NewJPEGEncoder(-5).Quality)
	assert.Equal(t, 100, NewJPEGEncoder(500).Quality)
	assert.Equal(t, 75, NewJPEGEncoder(75).Quality)
}

func TestPackShortDestination(t *testing.T) {
	_, err := Pack(make([]byte, 3), solid(2, 2, color.White), stream.FormatBGR24, 0)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestPackJPEG(t *testing.T) {
	out, err := Pack(nil, solid(16, 8, color.White), stream.FormatJPEG, 80)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
}

func TestFrameSize(t *testing.T) {
	assert.Equal(t, 320*240*2, FrameSize(stream.FormatRGB565, 320, 240))
	assert.Equal(t, 320*240*2, FrameSize(stream.FormatYUV422, 320, 240))
	assert.Equal(t, 320*240, FrameSize(stream.FormatGrayscale, 320, 240))
	assert.Equal(t, 320*240*3, FrameSize(stream.FormatBGR24, 320, 240))
	assert.Zero(t, FrameSize(stream.FormatJPEG, 320, 240))
}
