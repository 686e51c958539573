package capture

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrTimeout means the compositor produced neither ready nor failed in time.
	ErrTimeout = errors.New("capture timed out")
	// ErrFailed means the compositor reported the capture as failed.
	ErrFailed = errors.New("capture failed")
	// ErrNoExportManager means the compositor does not advertise the
	// toplevel export protocol (or wl_shm).
	ErrNoExportManager = errors.New("toplevel export manager not available")
	// ErrInvalidAddress is returned for empty or null window addresses.
	ErrInvalidAddress = errors.New("invalid window address")
)

// Request describes one window capture. It is a plain value; callers enqueue
// it and forget it.
type Request struct {
	Address string
	// MaxWidth bounds the output width; 0 keeps the source resolution.
	MaxWidth int

	// XWayland hints used by the X11 fallback
	XWayland bool
	PID      int
	Title    string
}

// Result is the outcome of one capture.
type Result struct {
	Address string
	// Encoded is base64 of a binary PPM, empty on failure
	Encoded string
	Width   int
	Height  int
	Err     error
}

// Capturer defines the interface for window capture backends
type Capturer interface {
	// Capture grabs one window, already downsampled to req.MaxWidth.
	Capture(ctx context.Context, req Request) (*image.RGBA, error)

	// Name returns a human-readable name for this capturer
	Name() string
}

// CaptureEncoded runs c and converts the frame into the thumbnail encoding.
func CaptureEncoded(ctx context.Context, c Capturer, req Request) Result {
	res := Result{Address: req.Address}
	img, err := c.Capture(ctx, req)
	if err != nil {
		res.Err = err
		return res
	}
	res.Encoded = EncodeBase64PPM(img)
	res.Width = img.Rect.Dx()
	res.Height = img.Rect.Dy()
	return res
}
