package hypr

import "time"

// Backoff is an exponential reconnect delay: Min, doubling, capped at Max.
// Not safe for concurrent use; it belongs to one reconnect loop.
type Backoff struct {
	Min time.Duration
	Max time.Duration
	cur time.Duration
}

// NewBackoff returns a backoff starting at min.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{Min: min, Max: max, cur: min}
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return d
}

// Reset goes back to the minimum delay after a successful connect.
func (b *Backoff) Reset() {
	b.cur = b.Min
}
