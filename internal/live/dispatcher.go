// Package live runs full-resolution preview captures while the overlay is
// shown and applies their results on the UI loop.
//
// Every tracked window carries a cookie. A dispatch bumps it and remembers
// the new value as the result's token; a cancel or a newer dispatch bumps it
// again. A result is applied only if its window is still tracked and the
// cookie still equals the token, so late results never overwrite newer ones.
package live

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// Runner captures a burst of windows; *capture.Pool implements it.
type Runner interface {
	Run(ctx context.Context, reqs []capture.Request) []capture.Result
}

// Poster schedules a callback on the UI loop; *mainloop.Loop implements it.
type Poster interface {
	Post(fn func()) bool
}

// Frame is an applied live preview. Frames are owned by the UI loop.
type Frame struct {
	Address string
	Token   uint64
	Image   *image.RGBA
	Encoded string
}

// Result travels from a worker to the UI loop by value.
type Result struct {
	Address string
	Token   uint64
	Image   *image.RGBA
	Encoded string
	Err     error
}

// Options are optional hooks, all invoked on the UI loop.
type Options struct {
	// OnApplied runs after a frame was stored.
	OnApplied func(addr string)
	// OnStale runs for every discarded result.
	OnStale func(addr string)
}

// Dispatcher owns the cookie table and the UI-side frame map.
type Dispatcher struct {
	runner Runner
	loop   Poster
	opts   Options

	mu      sync.Mutex
	cookies map[string]uint64
	counter uint64

	// touched only from UI loop callbacks
	frames map[string]Frame

	applied atomic.Uint64
	stale   atomic.Uint64
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher that captures with runner and applies
// results on loop.
func NewDispatcher(runner Runner, loop Poster, opts Options) *Dispatcher {
	return &Dispatcher{
		runner:  runner,
		loop:    loop,
		opts:    opts,
		cookies: make(map[string]uint64),
		frames:  make(map[string]Frame),
	}
}

// Dispatch starts an asynchronous capture burst and returns the tokens it
// handed out, keyed by address. Requests with an invalid address are
// skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []capture.Request) map[string]uint64 {
	tokens := make(map[string]uint64, len(reqs))
	burst := make([]capture.Request, 0, len(reqs))

	d.mu.Lock()
	for _, r := range reqs {
		if r.Address == "" {
			continue
		}
		d.counter++
		d.cookies[r.Address] = d.counter
		tokens[r.Address] = d.counter
		burst = append(burst, r)
	}
	d.mu.Unlock()

	if len(burst) == 0 {
		return tokens
	}

	// the burst keeps its own view of the tokens
	own := make(map[string]uint64, len(tokens))
	for addr, tok := range tokens {
		own[addr] = tok
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, burst, own)
	}()
	return tokens
}

func (d *Dispatcher) run(ctx context.Context, reqs []capture.Request, tokens map[string]uint64) {
	log := logger.WithComponent("live")
	results := d.runner.Run(ctx, reqs)

	for _, res := range results {
		r := Result{Address: res.Address, Token: tokens[res.Address], Err: res.Err, Encoded: res.Encoded}
		if r.Err == nil {
			// decode here so the UI loop only swaps pointers
			img, err := capture.DecodeBase64PPM(res.Encoded)
			if err != nil {
				r.Err = err
			}
			r.Image = img
		}
		if r.Err != nil {
			log.Debug().Err(r.Err).Str("address", r.Address).Msg("Live capture failed")
			continue
		}
		if !d.loop.Post(func() { d.apply(r) }) {
			return
		}
	}
}

// apply runs on the UI loop.
func (d *Dispatcher) apply(r Result) {
	d.mu.Lock()
	cookie, tracked := d.cookies[r.Address]
	d.mu.Unlock()

	if !tracked || cookie != r.Token {
		d.stale.Add(1)
		logger.WithComponent("live").Debug().
			Str("address", r.Address).
			Uint64("token", r.Token).
			Uint64("cookie", cookie).
			Msg("Discarding stale live result")
		if d.opts.OnStale != nil {
			d.opts.OnStale(r.Address)
		}
		return
	}

	d.frames[r.Address] = Frame{Address: r.Address, Token: r.Token, Image: r.Image, Encoded: r.Encoded}
	d.applied.Add(1)
	if d.opts.OnApplied != nil {
		d.opts.OnApplied(r.Address)
	}
}

// Cancel invalidates any in-flight result for addr.
func (d *Dispatcher) Cancel(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cookies[addr]; ok {
		d.counter++
		d.cookies[addr] = d.counter
	}
}

// CancelAll invalidates every in-flight result.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr := range d.cookies {
		d.counter++
		d.cookies[addr] = d.counter
	}
}

// Forget stops tracking addrs; their frames are dropped on the UI loop.
func (d *Dispatcher) Forget(addrs ...string) {
	if len(addrs) == 0 {
		return
	}
	d.mu.Lock()
	for _, a := range addrs {
		delete(d.cookies, a)
	}
	d.mu.Unlock()

	d.loop.Post(func() {
		for _, a := range addrs {
			delete(d.frames, a)
		}
	})
}

// Retain forgets every tracked address not in present and returns how many
// were dropped.
func (d *Dispatcher) Retain(present []string) int {
	keep := make(map[string]struct{}, len(present))
	for _, a := range present {
		keep[a] = struct{}{}
	}

	var gone []string
	d.mu.Lock()
	for a := range d.cookies {
		if _, ok := keep[a]; !ok {
			gone = append(gone, a)
		}
	}
	d.mu.Unlock()

	d.Forget(gone...)
	return len(gone)
}

// Cookie returns the current cookie of addr.
func (d *Dispatcher) Cookie(addr string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cookies[addr]
	return c, ok
}

// Frame returns the applied preview for addr. UI loop only.
func (d *Dispatcher) Frame(addr string) (Frame, bool) {
	f, ok := d.frames[addr]
	return f, ok
}

// Applied counts results that made it onto the UI loop.
func (d *Dispatcher) Applied() uint64 {
	return d.applied.Load()
}

// Stale counts discarded results.
func (d *Dispatcher) Stale() uint64 {
	return d.stale.Load()
}

// Wait blocks until every dispatched burst has finished capturing.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
