package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"mjpeg-stream-server/internal/errors"
	"mjpeg-stream-server/internal/stream"
)

// Pack writes img into dst in the given raw layout and returns the used
// prefix of dst. JPEG is encoded at quality; dst is only used when large
// enough to hold the result.
func Pack(dst []byte, img image.Image, format stream.PixelFormat, quality int) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if format == stream.FormatJPEG {
		buf := bytes.NewBuffer(dst[:0])
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: NewJPEGEncoder(quality).Quality}); err != nil {
			return nil, errors.Wrap(err, "convert", "Pack", "encode jpeg")
		}
		return buf.Bytes(), nil
	}

	need := FrameSize(format, w, h)
	if need == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", ErrUnsupportedFormat, format), "convert", "Pack", "select encoder")
	}
	if format == stream.FormatYUV422 && w%2 != 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: yuv422 width %d is odd", ErrBadDimensions, w), "convert", "Pack", "check dimensions")
	}
	if len(dst) < need {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(dst), need), "convert", "Pack", "check length")
	}
	out := dst[:need]

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			switch format {
			case stream.FormatRGB565:
				v := uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
				out[i], out[i+1] = byte(v>>8), byte(v)
				i += 2
			case stream.FormatBGR24:
				out[i], out[i+1], out[i+2] = c.B, c.G, c.R
				i += 3
			case stream.FormatGrayscale:
				out[i] = color.GrayModel.Convert(c).(color.Gray).Y
				i++
			case stream.FormatYUV422:
				yy, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
				out[i] = yy
				if (x-b.Min.X)%2 == 0 {
					out[i+1] = cb
				} else {
					out[i+1] = cr
				}
				i += 2
			}
		}
	}
	return out, nil
}
