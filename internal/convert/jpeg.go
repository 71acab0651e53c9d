// Package convert turns raw sensor samples into JPEG and packs rendered
// images into raw sensor layouts.
package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/stream"
)

// DefaultQuality matches the quality the stream has always been encoded at.
const DefaultQuality = 30

var (
	ErrShortBuffer       = errors.New("frame shorter than its dimensions require")
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrBadDimensions     = errors.New("invalid frame dimensions")
)

// JPEGEncoder implements stream.Encoder.
type JPEGEncoder struct {
	Quality int
}

// NewJPEGEncoder returns an encoder at the given quality, clamped to 1..100.
// Zero selects DefaultQuality.
func NewJPEGEncoder(quality int) *JPEGEncoder {
	switch {
	case quality == 0:
		quality = DefaultQuality
	case quality < 1:
		quality = 1
	case quality > 100:
		quality = 100
	}
	return &JPEGEncoder{Quality: quality}
}

// Encode converts f to JPEG. JPEG input is returned unchanged.
func (e *JPEGEncoder) Encode(f *stream.Frame) ([]byte, error) {
	if f.Format == stream.FormatJPEG {
		return bytes.Clone(f.Data), nil
	}
	img, err := Image(f)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(f.Len() / 4)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality()}); err != nil {
		return nil, errors.Wrap(err, "convert", "Encode", "encode jpeg")
	}
	return buf.Bytes(), nil
}

func (e *JPEGEncoder) quality() int {
	if e == nil || e.Quality == 0 {
		return DefaultQuality
	}
	return e.Quality
}

// FrameSize returns the byte length of a raw frame, or 0 for JPEG whose size
// depends on content.
func FrameSize(format stream.PixelFormat, w, h int) int {
	switch format {
	case stream.FormatRGB565, stream.FormatYUV422:
		return w * h * 2
	case stream.FormatGrayscale:
		return w * h
	case stream.FormatBGR24:
		return w * h * 3
	default:
		return 0
	}
}

// Image wraps a raw frame as an image.Image. Grayscale frames share the
// frame's memory; other formats are unpacked into a new image.
func Image(f *stream.Frame) (image.Image, error) {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %dx%d", ErrBadDimensions, w, h), "convert", "Image", "check dimensions")
	}
	need := FrameSize(f.Format, w, h)
	if need == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format), "convert", "Image", "select decoder")
	}
	if len(f.Data) < need {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(f.Data), need), "convert", "Image", "check length")
	}

	rect := image.Rect(0, 0, w, h)
	switch f.Format {
	case stream.FormatGrayscale:
		return &image.Gray{Pix: f.Data[:need], Stride: w, Rect: rect}, nil

	case stream.FormatRGB565:
		img := image.NewRGBA(rect)
		for i, o := 0, 0; i < need; i, o = i+2, o+4 {
			v := uint16(f.Data[i])<<8 | uint16(f.Data[i+1])
			r := byte(v >> 11 & 0x1F)
			g := byte(v >> 5 & 0x3F)
			b := byte(v & 0x1F)
			img.Pix[o] = r<<3 | r>>2
			img.Pix[o+1] = g<<2 | g>>4
			img.Pix[o+2] = b<<3 | b>>2
			img.Pix[o+3] = 0xFF
		}
		return img, nil

	case stream.FormatBGR24:
		img := image.NewRGBA(rect)
		for i, o := 0, 0; i < need; i, o = i+3, o+4 {
			img.Pix[o] = f.Data[i+2]
			img.Pix[o+1] = f.Data[i+1]
			img.Pix[o+2] = f.Data[i]
			img.Pix[o+3] = 0xFF
		}
		return img, nil

	case stream.FormatYUV422:
		if w%2 != 0 {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: yuv422 width %d is odd", ErrBadDimensions, w), "convert", "Image", "check dimensions")
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		// YUYV: Y0 U Y1 V covers two pixels.
		for y := 0; y < h; y++ {
			row := f.Data[y*w*2 : (y+1)*w*2]
			for x := 0; x < w; x += 2 {
				q := row[x*2 : x*2+4]
				img.Y[y*img.YStride+x] = q[0]
				img.Y[y*img.YStride+x+1] = q[2]
				img.Cb[y*img.CStride+x/2] = q[1]
				img.Cr[y*img.CStride+x/2] = q[3]
			}
		}
		return img, nil
	}
	return nil, errors.WrapInvalid(ErrUnsupportedFormat, "convert", "Image", "select decoder")
}
