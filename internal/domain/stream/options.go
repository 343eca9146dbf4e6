package stream

import (
	"time"

	"github.com/okian/fluentops/pkg/logger"
)

// Option configures a Reader.
type Option func(*Reader)

// WithPollBounds sets the minimum and maximum poll intervals.
func WithPollBounds(minPoll, maxPoll time.Duration) Option {
	return func(r *Reader) {
		if minPoll > 0 && maxPoll >= minPoll {
			r.minPoll = minPoll
			r.maxPoll = maxPoll
		}
	}
}

// WithBatchSize sets how many events one poll may return.
func WithBatchSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithNotifier lets the reader wake up on change signals instead of waiting out
// the whole poll interval. Polling stays in place as the fallback.
func WithNotifier(n Notifier) Option {
	return func(r *Reader) { r.notifier = n }
}

// WithLogger sets the reader's logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}
