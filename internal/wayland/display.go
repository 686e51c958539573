// Package wayland wraps the wlturbo client for the little HyprOverview needs
// from a compositor connection: locate the socket, list and bind globals,
// run roundtrips and share memory buffers.
package wayland

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/wlturbo/wl"
)

// ErrProtocol wraps wl_display.error events.
var ErrProtocol = errors.New("wayland protocol error")

// Global is one advertised compositor global.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Display is one client connection. Everything but Close must be called
// from a single goroutine; Close may be called from any goroutine to
// unblock a pending Dispatch.
type Display struct {
	display  *wl.Display
	registry *wl.Registry
	globals  []Global

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeErr  error
}

// DisplayPath locates the compositor socket from WAYLAND_DISPLAY and
// XDG_RUNTIME_DIR. An absolute WAYLAND_DISPLAY is used as is.
func DisplayPath(display string) (string, error) {
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		display = "wayland-0"
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runtimeDir, display), nil
}

// Connect opens a connection to the named display (see DisplayPath).
func Connect(display string) (*Display, error) {
	path, err := DisplayPath(display)
	if err != nil {
		return nil, err
	}
	wd, err := wl.Connect(path)
	if err != nil {
		return nil, fmt.Errorf("wayland connect(%s): %w", path, err)
	}

	d := &Display{display: wd}
	wd.SetErrorHandler(func(e wl.DisplayErrorEvent) {
		d.setErr(fmt.Errorf("%w: code %d: %s", ErrProtocol, e.Code, e.Message))
	})
	return d, nil
}

// Context is the wlturbo object context, needed to create proxies.
func (d *Display) Context() *wl.Context {
	return d.display.Context()
}

// Err returns the sticky protocol error, if any.
func (d *Display) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Display) setErr(err error) {
	d.mu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
}

// Dispatch blocks until one event has been read and delivered. A protocol
// error received on the way is returned and sticks.
func (d *Display) Dispatch() error {
	if err := d.Err(); err != nil {
		return err
	}
	if err := d.display.Context().Dispatch(); err != nil {
		if perr := d.Err(); perr != nil {
			return perr
		}
		return fmt.Errorf("wayland dispatch: %w", err)
	}
	return d.Err()
}

// Roundtrip blocks until the compositor has processed every request sent
// so far, delivering events on the way.
func (d *Display) Roundtrip() error {
	cb, err := d.display.Sync()
	if err != nil {
		return fmt.Errorf("wayland sync: %w", err)
	}
	done := false
	cb.SetDoneHandler(func(wl.CallbackDoneEvent) { done = true })
	for !done {
		if err := d.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// FetchGlobals creates the registry and waits one roundtrip so the initial
// burst of globals has arrived.
func (d *Display) FetchGlobals() error {
	reg, err := d.display.GetRegistry()
	if err != nil {
		return fmt.Errorf("get registry: %w", err)
	}
	reg.SetGlobalHandler(func(e wl.RegistryGlobalEvent) {
		d.globals = append(d.globals, Global{Name: e.Name, Interface: e.Interface, Version: e.Version})
	})
	reg.SetGlobalRemoveHandler(func(e wl.RegistryGlobalRemoveEvent) {
		for i, g := range d.globals {
			if g.Name == e.Name {
				d.globals = append(d.globals[:i], d.globals[i+1:]...)
				break
			}
		}
	})
	d.registry = reg

	if err := d.Roundtrip(); err != nil {
		return fmt.Errorf("registry roundtrip: %w", err)
	}
	return nil
}

// Globals returns the advertised globals.
func (d *Display) Globals() []Global {
	return append([]Global(nil), d.globals...)
}

// Find returns the first global implementing iface.
func (d *Display) Find(iface string) (Global, bool) {
	for _, g := range d.globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// Bind attaches proxy to a global at min(advertised, version) and returns
// the version used.
func (d *Display) Bind(g Global, version uint32, proxy wl.Proxy) (uint32, error) {
	if d.registry == nil {
		return 0, fmt.Errorf("bind %s: globals not fetched", g.Interface)
	}
	if g.Version < version {
		version = g.Version
	}
	if err := d.registry.Bind(g.Name, g.Interface, version, proxy); err != nil {
		return 0, fmt.Errorf("bind %s: %w", g.Interface, err)
	}
	return version, nil
}

// Close closes the socket. Safe to call more than once and concurrently
// with Dispatch.
func (d *Display) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.display.Context().Close()
	})
	return d.closeErr
}
