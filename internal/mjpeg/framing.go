// Package mjpeg writes the multipart/x-mixed-replace framing used by the
// stream endpoint.
package mjpeg

import (
	"io"
	"strconv"
)

// Boundary separates parts on the wire.
const Boundary = "123456789000000000000987654321"

// ContentType is the response Content-Type of a stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// PartContentType is the Content-Type of every part.
const PartContentType = "image/jpeg"

var (
	startMarker = []byte("\r\n--" + Boundary + "\r\n")
	partHeader  = []byte("Content-Type: " + PartContentType + "\r\nContent-Length: ")
)

// WriteStart writes the opening boundary that follows the response headers.
func WriteStart(w io.Writer) error {
	_, err := w.Write(startMarker)
	return err
}

// WritePart writes one JPEG part followed by the next boundary, so the
// stream is always left positioned at the start of a part header.
func WritePart(w io.Writer, jpeg []byte) error {
	hdr := make([]byte, 0, len(partHeader)+24)
	hdr = append(hdr, partHeader...)
	hdr = strconv.AppendInt(hdr, int64(len(jpeg)), 10)
	hdr = append(hdr, "\r\n\r\n"...)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write(startMarker)
	return err
}
