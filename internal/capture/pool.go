package capture

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// ObserveFunc receives every finished capture (metrics).
type ObserveFunc func(pool string, res Result, elapsed time.Duration)

// Pool captures bursts of windows with a bounded number of goroutines.
// Concurrent bursts draw from one shared pool of worker slots; when no slot is free the
// calling goroutine does the work itself, so nothing is ever dropped.
type Pool struct {
	name     string
	capturer Capturer
	workers  int
	slots    *semaphore.Weighted
	observe  ObserveFunc
}

// NewPool creates a pool; workers < 1 is treated as 1.
func NewPool(name string, c Capturer, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		name:     name,
		capturer: c,
		workers:  workers,
		slots:    semaphore.NewWeighted(int64(workers)),
	}
}

// SetObserver installs the per-result hook. Call before the first Run.
func (p *Pool) SetObserver(fn ObserveFunc) {
	p.observe = fn
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// Run captures every request exactly once and returns results in request
// order. A failing or panicking capture only affects its own slot.
func (p *Pool) Run(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	n := p.workers
	if n > len(reqs) {
		n = len(reqs)
	}

	var next atomic.Int64
	work := func() {
		for {
			i := int(next.Add(1) - 1)
			if i >= len(reqs) {
				return
			}
			results[i] = p.captureOne(ctx, reqs[i])
		}
	}

	var g errgroup.Group
	g.SetLimit(n)
	spawned := 0
	for i := 0; i < n; i++ {
		if !p.slots.TryAcquire(1) {
			break
		}
		ok := g.TryGo(func() error {
			defer p.slots.Release(1)
			work()
			return nil
		})
		if !ok {
			p.slots.Release(1)
			break
		}
		spawned++
	}

	if spawned < n {
		logger.WithComponent("capture-pool").Debug().
			Str("pool", p.name).
			Int("spawned", spawned).
			Int("wanted", n).
			Msg("Worker slots exhausted, capturing inline")
		work()
	}
	g.Wait()
	return results
}

func (p *Pool) captureOne(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{Address: req.Address}

	var pc panics.Catcher
	pc.Try(func() {
		res = CaptureEncoded(ctx, p.capturer, req)
	})
	if err := pc.Recovered().AsError(); err != nil {
		res = Result{Address: req.Address, Err: fmt.Errorf("capture of %s panicked: %w", req.Address, err)}
		logger.WithComponent("capture-pool").Error().
			Err(err).
			Str("address", req.Address).
			Msg("Recovered panic in capture")
	}

	if p.observe != nil {
		p.observe(p.name, res, time.Since(start))
	}
	return res
}
