// Package mainloop runs callbacks one at a time on a single goroutine. It is
// the thread that owns presentation-side state; other goroutines hand work
// to it with Post.
package mainloop

import (
	"context"
	"errors"
	"sync"

	"github.com/bryanchriswhite/HyprOverview/internal/logger"
)

// ErrStopped is returned by Call after the loop has stopped.
var ErrStopped = errors.New("main loop stopped")

// Loop is an unbounded FIFO of callbacks drained by Run. Post never blocks,
// so it is safe to call from inside a callback.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// New creates a loop; size preallocates the queue.
func New(size int) *Loop {
	if size < 1 {
		size = 16
	}
	return &Loop{
		pending: make([]func(), 0, size),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Post queues fn. It returns false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains callbacks until ctx is done or Stop is called. Callbacks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.invoke(fn)
		}
	}
}

// Stop ends Run and rejects further posts. Safe to call more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.pending = nil
	close(l.done)
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.pending) == 0 {
		return nil, false
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("mainloop").Error().
				Interface("panic", r).
				Msg("Main loop callback panicked")
		}
	}()
	fn()
}
