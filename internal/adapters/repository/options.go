package repository

import "time"

type options struct {
	now      func() time.Time
	notifier *Broadcaster
}

func defaultOptions() options {
	return options{now: time.Now, notifier: NewBroadcaster()}
}

// Option configures a store.
type Option func(*options)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBroadcaster shares a change broadcaster between stores or with tests.
func WithBroadcaster(b *Broadcaster) Option {
	return func(o *options) {
		if b != nil {
			o.notifier = b
		}
	}
}
