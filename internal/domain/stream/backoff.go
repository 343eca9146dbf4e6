package stream

import "time"

// Default poll bounds and growth.
const (
	DefaultMinPoll   = 300 * time.Millisecond
	DefaultMaxPoll   = 3000 * time.Millisecond
	DefaultBatchSize = 50
	backoffFactor    = 1.5
)

// Backoff is the per-session adaptive poll interval: reset to Min when events
// arrive, grown by 1.5x up to Max when a poll comes back empty.
type Backoff struct {
	Min     time.Duration
	Max     time.Duration
	current time.Duration
}

// NewBackoff starts at min.
func NewBackoff(minPoll, maxPoll time.Duration) *Backoff {
	return &Backoff{Min: minPoll, Max: maxPoll, current: minPoll}
}

// Current returns the interval to wait before the next poll.
func (b *Backoff) Current() time.Duration { return b.current }

// Reset returns to the minimum interval.
func (b *Backoff) Reset() { b.current = b.Min }

// Grow multiplies the interval, capped at Max.
func (b *Backoff) Grow() {
	next := time.Duration(float64(b.current) * backoffFactor)
	if next > b.Max {
		next = b.Max
	}
	b.current = next
}
