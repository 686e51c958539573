package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
)

// Boundary separates the parts of an MJPEG stream.
const Boundary = "frame"

// DefaultQuality is the JPEG quality used when none is given.
const DefaultQuality = 90

// MJPEGWriter streams frames as Motion JPEG over one HTTP response, so a
// browser tab can show a window's live preview.
type MJPEGWriter struct {
	w       http.ResponseWriter
	quality int
	buf     bytes.Buffer
	frames  uint64
}

// NewMJPEGWriter sets the stream headers on w. Nothing is written to the
// body until the first frame.
func NewMJPEGWriter(w http.ResponseWriter, quality int) *MJPEGWriter {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	h := w.Header()
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	return &MJPEGWriter{w: w, quality: quality}
}

// WriteFrame encodes img as one JPEG part and flushes it to the client.
func (m *MJPEGWriter) WriteFrame(img image.Image) error {
	m.buf.Reset()
	if err := jpeg.Encode(&m.buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}

	if _, err := fmt.Fprintf(m.w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, m.buf.Len()); err != nil {
		return err
	}
	if _, err := m.w.Write(m.buf.Bytes()); err != nil {
		return err
	}
	if _, err := fmt.Fprint(m.w, "\r\n"); err != nil {
		return err
	}

	if f, ok := m.w.(http.Flusher); ok {
		f.Flush()
	}
	m.frames++
	return nil
}

// Frames reports how many frames were written.
func (m *MJPEGWriter) Frames() uint64 {
	return m.frames
}
