// Package core wires the transport, state store, capture pools, live
// dispatcher, thumbnail cache and redraw notifier into one handle. The
// presentation layer talks only to *Core: it pulls snapshots and gets a
// redraw callback on the UI loop.
package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
	"github.com/bryanchriswhite/HyprOverview/internal/config"
	"github.com/bryanchriswhite/HyprOverview/internal/hypr"
	"github.com/bryanchriswhite/HyprOverview/internal/live"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
	"github.com/bryanchriswhite/HyprOverview/internal/mainloop"
	"github.com/bryanchriswhite/HyprOverview/internal/metrics"
	"github.com/bryanchriswhite/HyprOverview/internal/notify"
	"github.com/bryanchriswhite/HyprOverview/internal/state"
	"github.com/bryanchriswhite/HyprOverview/internal/thumbcache"
)

// ErrNotFound is returned for windows that are not in the current state.
var ErrNotFound = errors.New("window not found")

// Options inject collaborators. Zero values build the real ones from the
// config.
type Options struct {
	// OnRedraw runs on the UI loop after the thumbnail cache was updated
	OnRedraw func()
	// OnLive runs on the UI loop after a live preview was applied
	OnLive func(addr string)

	Client   *hypr.Client
	Querier  hypr.Querier
	Capturer capture.Capturer
	Metrics  *metrics.Metrics

	// DisableEvents skips the event socket reader (one-shot CLI use)
	DisableEvents bool
}

// Core is the handle returned by Init.
type Core struct {
	cfg  *config.Config
	opts Options

	client   *hypr.Client
	capturer capture.Capturer
	closer   func()
	store    *state.Store
	live     *live.Dispatcher
	cache    *thumbcache.Cache
	loop     *mainloop.Loop
	notifier *notify.Notifier
	events   *hypr.EventReader
	metrics  *metrics.Metrics

	limiter *rate.Limiter
	kick    chan struct{}

	overlay atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// Init builds and starts the core: the UI loop, the refresh scheduler and,
// unless disabled, the event reader. A first refresh is requested right
// away.
func Init(cfg *config.Config, opts Options) (*Core, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	log := logger.WithComponent("core")

	c := &Core{
		cfg:     cfg,
		opts:    opts,
		client:  opts.Client,
		metrics: opts.Metrics,
		cache:   thumbcache.New(),
		loop:    mainloop.New(64),
		limiter: rate.NewLimiter(rate.Limit(cfg.Events.RefreshRate), cfg.Events.RefreshBurst),
		kick:    make(chan struct{}, 1),
	}
	if c.client == nil {
		c.client = hypr.NewClient(cfg.Hyprland.RuntimeDir, cfg.Hyprland.InstanceSignature)
	}

	querier := opts.Querier
	if querier == nil {
		switch cfg.Hyprland.QueryMode {
		case config.QueryModeSocket:
			querier = hypr.NewSocketQuerier(c.client)
		default:
			querier = hypr.NewHyprctlQuerier(cfg.Hyprland.HyprctlPath)
		}
	}

	c.capturer = opts.Capturer
	if c.capturer == nil {
		router := capture.NewRouter(capture.NewExporter(capture.ExporterOptions{
			Display:      cfg.Hyprland.WaylandDisplay,
			Timeout:      time.Duration(cfg.Capture.TimeoutMS) * time.Millisecond,
			PollInterval: time.Duration(cfg.Capture.PollIntervalMS) * time.Millisecond,
		}))
		if cfg.Capture.X11Fallback {
			router.EnableX11Fallback()
		}
		c.capturer = router
		c.closer = router.Close
	}

	observe := func(pool string, res capture.Result, elapsed time.Duration) {
		c.metrics.RecordCapture(pool, res.Err, elapsed)
	}
	bulk := capture.NewPool("bulk", c.capturer, cfg.Capture.Workers)
	bulk.SetObserver(observe)
	livePool := capture.NewPool("live", c.capturer, cfg.Capture.Workers)
	livePool.SetObserver(observe)

	c.store = state.NewStore(querier, bulk, cfg.Capture.ThumbnailMaxWidth)
	c.store.SetCaptureEnabled(cfg.Capture.Enabled)

	c.notifier = notify.New(c.loop, c.redraw)
	c.live = live.NewDispatcher(livePool, c.loop, live.Options{
		OnApplied: c.liveApplied,
		OnStale:   func(string) { c.metrics.IncLiveStale() },
	})

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.loop.Run(c.ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.refreshLoop()
	}()

	if !opts.DisableEvents {
		c.events = hypr.NewEventReader(c.client, func(hypr.Event) { c.RequestFullRefresh() }, hypr.EventReaderOptions{
			BackoffMin: time.Duration(cfg.Events.BackoffMinMS) * time.Millisecond,
			BackoffMax: time.Duration(cfg.Events.BackoffMaxMS) * time.Millisecond,
			OnEvent:    func(_ hypr.Event, refresh bool) { c.metrics.RecordEvent(refresh) },
			OnConnect: func() {
				c.metrics.IncEventConnects()
				// events may have been missed while disconnected
				c.RequestFullRefresh()
			},
		})
		if err := c.events.Start(); err != nil {
			c.Shutdown()
			return nil, fmt.Errorf("failed to start event reader: %w", err)
		}
	}

	log.Info().
		Int("workers", cfg.Capture.Workers).
		Int("thumbnail_max_width", cfg.Capture.ThumbnailMaxWidth).
		Str("capturer", c.capturer.Name()).
		Bool("events", !opts.DisableEvents).
		Msg("Core initialized")

	c.RequestFullRefresh()
	return c, nil
}

// Shutdown stops every goroutine and releases the capture backends. It is
// safe to call more than once.
func (c *Core) Shutdown() {
	c.shutdown.Do(func() {
		if c.events != nil {
			c.events.Stop()
		}
		c.live.CancelAll()
		c.cancel()
		c.wg.Wait()
		c.live.Wait()
		c.loop.Stop()
		c.notifier.Close()
		if c.closer != nil {
			c.closer()
		}
		c.store.Clear()
		logger.WithComponent("core").Info().Msg("Core shut down")
	})
}

// RequestFullRefresh schedules a refresh. Requests made while one is
// queued or running fold into a single follow-up refresh.
func (c *Core) RequestFullRefresh() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Core) refreshLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.kick:
		}
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
		c.refresh(c.ctx)
	}
}

// RefreshNow runs a refresh synchronously and triggers a redraw.
func (c *Core) RefreshNow(ctx context.Context) (state.RefreshStats, error) {
	return c.refresh(ctx)
}

func (c *Core) refresh(ctx context.Context) (state.RefreshStats, error) {
	stats, err := c.store.Refresh(ctx)
	c.metrics.RecordRefresh(err, stats.Duration, stats.Windows, stats.Visible, stats.Discarded)

	snap := c.store.CopyState()
	if n := c.live.Retain(snap.Addresses()); n > 0 {
		logger.WithComponent("core").Debug().Int("forgotten", n).Msg("Dropped live previews of closed windows")
	}
	c.notifier.Trigger()
	return stats, err
}

// redraw is the notifier callback; it runs on the UI loop.
func (c *Core) redraw() {
	c.metrics.IncRedraws()

	snap := c.store.CopyState()
	gen := c.cache.BumpGeneration()
	for _, ws := range snap.Workspaces {
		for _, w := range ws.Windows {
			if w.Thumbnail == "" {
				continue
			}
			_, hit, err := c.cache.Resolve(w.Address, w.Thumbnail, gen)
			if err != nil {
				logger.WithComponent("core").Warn().Err(err).Str("address", w.Address).Msg("Undecodable thumbnail")
				continue
			}
			c.metrics.RecordCacheLookup(hit)
		}
	}
	evicted := c.cache.Prune(gen)
	c.metrics.RecordCachePrune(evicted, c.cache.Len())

	if c.opts.OnRedraw != nil {
		c.opts.OnRedraw()
	}
}

func (c *Core) liveApplied(addr string) {
	c.notifier.Publish(notify.Event{Type: notify.KindLive, Address: addr})
	if c.opts.OnLive != nil {
		c.opts.OnLive(addr)
	}
}

// CopyState returns an owned snapshot of the model.
func (c *Core) CopyState() state.Snapshot {
	return c.store.CopyState()
}

// SetCaptureEnabled toggles bulk thumbnail capture; enabling it refreshes.
func (c *Core) SetCaptureEnabled(enabled bool) {
	c.store.SetCaptureEnabled(enabled)
	if enabled {
		c.RequestFullRefresh()
	}
}

// CaptureEnabled reports the capture switch.
func (c *Core) CaptureEnabled() bool {
	return c.store.CaptureEnabled()
}

// ShowOverlay enables capture, refreshes and starts a live preview burst
// for the windows of the active workspace. It returns the burst size.
func (c *Core) ShowOverlay() int {
	c.overlay.Store(true)
	c.SetCaptureEnabled(true)

	snap := c.store.CopyState()
	ws, ok := snap.Workspace(snap.ActiveWorkspace)
	if !ok || len(ws.Windows) == 0 {
		return 0
	}
	reqs := make([]capture.Request, 0, len(ws.Windows))
	for _, w := range ws.Windows {
		reqs = append(reqs, c.request(w, c.cfg.Capture.LiveMaxWidth))
	}
	tokens := c.live.Dispatch(c.ctx, reqs)
	logger.WithComponent("core").Debug().
		Int("workspace", ws.ID).
		Int("windows", len(tokens)).
		Msg("Live preview burst dispatched")
	return len(tokens)
}

// HideOverlay disables capture and invalidates every live preview in flight.
func (c *Core) HideOverlay() {
	c.overlay.Store(false)
	c.store.SetCaptureEnabled(false)
	c.live.CancelAll()
}

// OverlayVisible reports whether ShowOverlay is in effect.
func (c *Core) OverlayVisible() bool {
	return c.overlay.Load()
}

// MoveWindow moves a window to a workspace without following it.
func (c *Core) MoveWindow(ctx context.Context, addr string, workspace int) error {
	if err := c.client.MoveToWorkspaceSilent(ctx, addr, workspace); err != nil {
		return err
	}
	c.RequestFullRefresh()
	return nil
}

// SwitchWorkspace switches by name or id.
func (c *Core) SwitchWorkspace(ctx context.Context, name string, id int) error {
	return c.client.SwitchWorkspace(ctx, name, id)
}

// FocusWindow focuses a window by address.
func (c *Core) FocusWindow(ctx context.Context, addr string) error {
	return c.client.FocusWindow(ctx, addr)
}

// CaptureWindowRaw captures one window at full resolution, bypassing the
// pools and the store.
func (c *Core) CaptureWindowRaw(ctx context.Context, addr string) (*image.RGBA, error) {
	req := capture.Request{Address: hypr.SanitizeAddress(addr)}
	snap := c.store.CopyState()
	if w, _, ok := snap.Window(req.Address); ok {
		req = c.request(w, 0)
	}
	return c.capturer.Capture(ctx, req)
}

// Thumbnail returns the best image for addr: the live preview when the
// overlay is shown, else the decoded refresh thumbnail.
func (c *Core) Thumbnail(ctx context.Context, addr string) (image.Image, error) {
	if c.overlay.Load() {
		var frame live.Frame
		var ok bool
		if err := c.loop.Call(ctx, func() { frame, ok = c.live.Frame(addr) }); err != nil {
			return nil, err
		}
		if ok && frame.Image != nil {
			return frame.Image, nil
		}
	}

	snap := c.store.CopyState()
	w, _, ok := snap.Window(addr)
	if !ok || w.Thumbnail == "" {
		return nil, ErrNotFound
	}
	img, hit, err := c.cache.Resolve(addr, w.Thumbnail, c.cache.Generation())
	if err != nil {
		return nil, err
	}
	c.metrics.RecordCacheLookup(hit)
	return img, nil
}

// Subscribe returns a channel of redraw and live notifications.
func (c *Core) Subscribe() chan notify.Event {
	return c.notifier.Subscribe()
}

// Unsubscribe closes a channel returned by Subscribe.
func (c *Core) Unsubscribe(ch chan notify.Event) {
	c.notifier.Unsubscribe(ch)
}

// Metrics returns the collectors, nil when metrics are disabled.
func (c *Core) Metrics() *metrics.Metrics {
	return c.metrics
}

// Config returns the config the core was built with.
func (c *Core) Config() *config.Config {
	return c.cfg
}

func (c *Core) request(w state.Window, maxWidth int) capture.Request {
	title := ""
	if w.Title != nil {
		title = *w.Title
	}
	return capture.Request{
		Address:  w.Address,
		MaxWidth: maxWidth,
		XWayland: w.XWayland,
		PID:      w.PID,
		Title:    title,
	}
}
