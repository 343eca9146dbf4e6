// Package stream replays an assessment's event log to a consumer, tailing it
// until the terminal event.
package stream

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
	"github.com/okian/fluentops/pkg/metrics"
)

// Source is the event log plus the ownership lookup.
type Source interface {
	FindAssessment(ctx context.Context, ownerID, id string) (*model.Assessment, error)
	QueryEventsAfter(ctx context.Context, id string, cursor int64, limit int) ([]model.Event, error)
}

// Notifier delivers "log changed" signals for an assessment.
type Notifier interface {
	Subscribe(id string) (<-chan struct{}, func())
}

// Reader polls the event log with adaptive backoff. It holds no state shared
// between sessions.
type Reader struct {
	src      Source
	notifier Notifier
	minPoll  time.Duration
	maxPoll  time.Duration
	batch    int
	log      logger.Logger
}

// NewReader creates a reader over src.
func NewReader(src Source, opts ...Option) *Reader {
	r := &Reader{
		src:     src,
		minPoll: DefaultMinPoll,
		maxPoll: DefaultMaxPoll,
		batch:   DefaultBatchSize,
		log:     logger.Named("stream"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stream returns the events of assessment id with seq > since, in order,
// ending inclusively at the Final or Error event. Ownership is checked on the
// first poll; a failed check yields nothing. The sequence can be ranged over
// once; it stops when ctx is done or the consumer stops early.
func (r *Reader) Stream(ctx context.Context, id, ownerID string, since int64) iter.Seq[model.Event] {
	var used atomic.Bool
	return func(yield func(model.Event) bool) {
		if !used.CompareAndSwap(false, true) {
			r.log.Warn(ctx, "stream sequence ranged over twice", logger.String("assessment_id", id))
			return
		}
		r.run(ctx, id, ownerID, since, yield)
	}
}

func (r *Reader) run(ctx context.Context, id, ownerID string, since int64, yield func(model.Event) bool) {
	metrics.StreamSessionStarted()
	defer metrics.StreamSessionEnded()

	var wake <-chan struct{}
	if r.notifier != nil {
		ch, release := r.notifier.Subscribe(id)
		defer release()
		wake = ch
	}

	cursor := since
	if cursor < model.NoSeq {
		cursor = model.NoSeq
	}
	backoff := NewBackoff(r.minPoll, r.maxPoll)
	log := r.log.With(logger.String("assessment_id", id))
	verified := false

	for {
		if ctx.Err() != nil {
			return
		}
		if !verified {
			if _, err := r.src.FindAssessment(ctx, ownerID, id); err != nil {
				log.Debug(ctx, "stream rejected", logger.String("owner_id", ownerID), logger.Error(err))
				return
			}
			verified = true
		}

		batch, err := r.src.QueryEventsAfter(ctx, id, cursor, r.batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn(ctx, "event poll failed", logger.Error(err))
			metrics.RecordErrorByComponent("stream", "poll")
			batch = nil
		}

		if len(batch) > 0 {
			backoff.Reset()
			for _, ev := range batch {
				if !yield(ev) {
					return
				}
				cursor = ev.Seq
				metrics.RecordStreamDelivered(1)
				if ev.Kind.IsTerminal() {
					return
				}
			}
		} else {
			backoff.Grow()
		}

		interval := backoff.Current()
		metrics.RecordStreamPollInterval(float64(interval.Milliseconds()))
		if !wait(ctx, interval, wake) {
			return
		}
	}
}

// wait blocks for d, an early wake signal, or ctx. It reports false when ctx ended.
func wait(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
	case <-wake:
	}
	return true
}
