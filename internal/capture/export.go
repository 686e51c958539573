package capture

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
	"github.com/bryanchriswhite/HyprOverview/internal/wayland"
)

// ExporterOptions configures an Exporter.
type ExporterOptions struct {
	// Display overrides WAYLAND_DISPLAY (name or absolute socket path)
	Display string
	// Timeout bounds a whole capture, from connect to the ready event
	Timeout      time.Duration
	PollInterval time.Duration
}

// Exporter captures single windows through hyprland_toplevel_export_v1.
// Each capture opens its own display connection, so one Exporter may be
// used from many goroutines.
type Exporter struct {
	opts ExporterOptions
}

// NewExporter creates an exporter; zero options take the 500ms/50ms defaults.
func NewExporter(opts ExporterOptions) *Exporter {
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	return &Exporter{opts: opts}
}

// Name returns the capturer name
func (e *Exporter) Name() string {
	return "toplevel-export"
}

type exportResult struct {
	img *image.RGBA
	err error
}

// Capture grabs one window and downsamples it to req.MaxWidth. The whole
// exchange shares one deadline of opts.Timeout. Every protocol object and
// the mapping are released before returning.
func (e *Exporter) Capture(ctx context.Context, req Request) (*image.RGBA, error) {
	if !hypr.ValidAddress(req.Address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, req.Address)
	}
	handle, err := hypr.ParseHandle(req.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	log := logger.WithComponent("capture")
	deadline := time.Now().Add(e.opts.Timeout)

	d, err := wayland.Connect(e.opts.Display)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	// the exchange blocks in Dispatch; closing the display unblocks it
	done := make(chan exportResult, 1)
	go func() {
		img, err := exportToplevel(d, handle, req.MaxWidth)
		done <- exportResult{img: img, err: err}
	}()

	tick := time.NewTicker(e.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case res := <-done:
			if res.err != nil {
				log.Debug().Err(res.err).Str("address", req.Address).Msg("Capture failed")
				return nil, fmt.Errorf("%w: %s", res.err, req.Address)
			}
			return res.img, nil
		case <-ctx.Done():
			d.Close()
			<-done
			return nil, ctx.Err()
		case <-tick.C:
			if time.Now().Before(deadline) {
				continue
			}
			d.Close()
			<-done
			log.Debug().Str("address", req.Address).Msg("Capture timed out")
			return nil, fmt.Errorf("%w: %s", ErrTimeout, req.Address)
		}
	}
}

// exportToplevel runs the export exchange on d until the frame is ready or
// refused. It owns every object it creates.
func exportToplevel(d *wayland.Display, handle uint32, maxW int) (*image.RGBA, error) {
	if err := d.FetchGlobals(); err != nil {
		return nil, err
	}
	mgrGlobal, ok := d.Find(InterfaceExportManager)
	if !ok {
		return nil, ErrNoExportManager
	}
	if _, ok := d.Find(wayland.InterfaceShm); !ok {
		return nil, ErrNoExportManager
	}
	shm, err := d.BindShm()
	if err != nil {
		return nil, err
	}

	mgr := newExportManager(d.Context())
	if _, err := d.Bind(mgrGlobal, exportManagerVersion, mgr); err != nil {
		return nil, err
	}
	defer mgr.Destroy()

	frame, err := mgr.CaptureToplevel(0, handle)
	if err != nil {
		return nil, err
	}
	defer frame.Destroy()

	var (
		buf    *wayland.ShmBuffer
		bufErr error
		ready  bool
		failed bool
	)
	defer func() {
		if buf != nil {
			buf.Destroy()
		}
	}()

	frame.onBuffer = func(fb frameBuffer) {
		if buf != nil || bufErr != nil {
			return
		}
		buf, bufErr = wayland.CreateShmBuffer(shm, int(fb.Width), int(fb.Height), int(fb.Stride), fb.Format)
	}
	frame.onBufferDone = func() {
		if buf == nil {
			return
		}
		if err := frame.Copy(buf.Buffer(), true); err != nil {
			bufErr = err
		}
	}
	frame.onReady = func() { ready = true }
	frame.onFailed = func() { failed = true }

	for !ready && !failed {
		if bufErr != nil {
			return nil, fmt.Errorf("capture buffer: %w", bufErr)
		}
		if err := d.Dispatch(); err != nil {
			return nil, err
		}
	}

	if failed || buf == nil {
		return nil, ErrFailed
	}
	src := newShmImage(buf.Data, buf.Width, buf.Height, buf.Stride, buf.Format)
	return Downsample(src, maxW), nil
}
