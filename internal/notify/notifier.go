// Package notify wakes the presentation layer when core state changed.
package notify

import (
	"sync"
)

// Kind is the type of a notification.
type Kind string

const (
	// KindRedraw means the state snapshot changed.
	KindRedraw Kind = "redraw"
	// KindLive means a live preview for one window was applied.
	KindLive Kind = "live"
)

// Event is sent to subscribers.
type Event struct {
	Type    Kind   `json:"type"`
	Address string `json:"address,omitempty"`
}

// Poster schedules a callback on the UI loop.
type Poster interface {
	Post(fn func()) bool
}

// Notifier coalesces redraw triggers: at most one callback is pending on
// the UI loop, and triggers arriving before it runs are folded into it.
type Notifier struct {
	loop   Poster
	redraw func()

	mu      sync.Mutex
	pending bool

	lmu       sync.RWMutex
	listeners []chan Event
}

// New creates a notifier; redraw may be nil when only subscribers care.
func New(loop Poster, redraw func()) *Notifier {
	return &Notifier{loop: loop, redraw: redraw}
}

// Trigger requests a redraw. It reports whether a new callback was
// scheduled (false when one was already pending).
func (n *Notifier) Trigger() bool {
	n.mu.Lock()
	if n.pending {
		n.mu.Unlock()
		return false
	}
	n.pending = true
	n.mu.Unlock()

	if !n.loop.Post(n.deliver) {
		n.mu.Lock()
		n.pending = false
		n.mu.Unlock()
		return false
	}
	return true
}

// Pending reports whether a redraw callback is queued.
func (n *Notifier) Pending() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

func (n *Notifier) deliver() {
	// cleared first so a trigger raised by the redraw itself schedules anew
	n.mu.Lock()
	n.pending = false
	n.mu.Unlock()

	if n.redraw != nil {
		n.redraw()
	}
	n.notifyListeners(Event{Type: KindRedraw})
}

// Publish sends ev to subscribers without coalescing.
func (n *Notifier) Publish(ev Event) {
	n.notifyListeners(ev)
}

// Subscribe adds a listener for notifications
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 16)
	n.lmu.Lock()
	n.listeners = append(n.listeners, ch)
	n.lmu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.lmu.Lock()
	defer n.lmu.Unlock()

	for i, listener := range n.listeners {
		if listener == ch {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close unsubscribes everyone.
func (n *Notifier) Close() {
	n.lmu.Lock()
	defer n.lmu.Unlock()
	for _, ch := range n.listeners {
		close(ch)
	}
	n.listeners = nil
}

func (n *Notifier) notifyListeners(ev Event) {
	n.lmu.RLock()
	defer n.lmu.RUnlock()

	for _, listener := range n.listeners {
		select {
		case listener <- ev:
		default:
			// slow subscriber, it will catch up on the next snapshot
		}
	}
}
