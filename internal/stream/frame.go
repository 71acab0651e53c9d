package stream

import (
	"fmt"
	"strings"

	"mjpeg-stream-server/internal/errors"
)

// PixelFormat is the layout of a frame's bytes as delivered by the sensor.
type PixelFormat int

const (
	FormatJPEG PixelFormat = iota
	FormatRGB565
	FormatYUV422
	FormatGrayscale
	FormatBGR24
)

var formatNames = map[PixelFormat]string{
	FormatJPEG:      "jpeg",
	FormatRGB565:    "rgb565",
	FormatYUV422:    "yuv422",
	FormatGrayscale: "grayscale",
	FormatBGR24:     "bgr24",
}

// String returns the config name of the format.
func (f PixelFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// ParsePixelFormat maps a config name to a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, errors.WrapInvalid(fmt.Errorf("unknown pixel format %q", s), "stream", "ParsePixelFormat", "parse format")
}

// Frame is one sensor frame. Data is owned by whoever handed out the frame;
// a Frame returned by Source.Acquire is valid until Source.Release.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
	Seq    uint64
}

// Len returns the payload length.
func (f *Frame) Len() int { return len(f.Data) }

// Source is the sensor as seen by the producer. Implementations have no
// concurrency of their own; the session serializes calls.
type Source interface {
	// Acquire returns the next frame. ErrUnavailable means the sensor had
	// nothing this time and is not an error condition.
	Acquire() (*Frame, error)
	// Release hands a frame back to the sensor.
	Release(*Frame)
}

// ErrUnavailable is returned by a Source that transiently has no frame.
var ErrUnavailable = errors.New("frame unavailable")

// Encoder converts a raw frame to the wire format.
type Encoder interface {
	Encode(f *Frame) ([]byte, error)
}

// Client is a connected consumer of the stream.
type Client interface {
	ID() string
	// Connected reports whether the peer is still there. Once false it
	// stays false.
	Connected() bool
	// WriteFrame writes one JPEG payload with the transport's framing.
	WriteFrame(jpeg []byte) error
	// Close releases the transport. Called exactly once, when the client
	// is retired or the session stops.
	Close() error
}
