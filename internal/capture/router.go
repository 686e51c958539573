package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// Router routes capture requests: the toplevel export protocol first, then
// the X11 capturer for XWayland clients the export path could not serve.
type Router struct {
	primary  Capturer
	fallback Capturer
	closer   func()
	mu       sync.RWMutex
}

// NewRouter creates a router over the export capturer.
func NewRouter(primary Capturer) *Router {
	return &Router{primary: primary}
}

// EnableX11Fallback connects to the X server. Failure is logged and leaves
// the router export-only.
func (r *Router) EnableX11Fallback() {
	log := logger.WithComponent("capture-router")

	x11, err := NewX11Capturer()
	if err != nil {
		log.Info().Err(err).Msg("X11 fallback capturer not available")
		return
	}
	r.SetFallback(x11, x11.Close)
	log.Info().Msg("X11 fallback capturer initialized")
}

// SetFallback installs a fallback capturer and its cleanup.
func (r *Router) SetFallback(c Capturer, closer func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer != nil {
		r.closer()
	}
	r.fallback = c
	r.closer = closer
}

// Close releases the fallback capturer.
func (r *Router) Close() {
	r.SetFallback(nil, nil)
}

// HasFallback reports whether an X11 capturer is installed.
func (r *Router) HasFallback() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback != nil
}

// Name returns the capturer name
func (r *Router) Name() string {
	return "router"
}

// Capture captures a window using the most appropriate capturer
func (r *Router) Capture(ctx context.Context, req Request) (*image.RGBA, error) {
	img, err := r.primary.Capture(ctx, req)
	if err == nil {
		return img, nil
	}

	r.mu.RLock()
	fb := r.fallback
	r.mu.RUnlock()

	if fb == nil || !req.XWayland || errors.Is(err, ErrInvalidAddress) || ctx.Err() != nil {
		return nil, err
	}

	logger.WithComponent("capture-router").Debug().
		Err(err).
		Str("address", req.Address).
		Int("pid", req.PID).
		Msg("Export capture failed, trying X11 fallback")

	img, fbErr := fb.Capture(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("%w (x11 fallback: %v)", err, fbErr)
	}
	return img, nil
}
