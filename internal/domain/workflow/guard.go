package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
	"github.com/okian/fluentops/pkg/metrics"
)

// Guard races a run against a deadline. When the deadline wins, the assessment
// is failed through one conditional store write; a run that already finished
// makes that write a no-op. The losing run keeps going in the background with
// a cancelled context and its own terminal write becomes a no-op.
type Guard struct {
	runner  Runner
	store   Store
	timeout time.Duration
	log     logger.Logger
}

var _ Runner = (*Guard)(nil)

// NewGuard wraps runner.
func NewGuard(runner Runner, store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		runner:  runner,
		store:   store,
		timeout: DefaultTimeout,
		log:     logger.Named("guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Timeout returns the configured deadline.
func (g *Guard) Timeout() time.Duration { return g.timeout }

// Run executes job under the deadline. It returns when the run finishes or the
// deadline fires, whichever comes first.
func (g *Guard) Run(ctx context.Context, job model.Job) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan error, 1)
	go func() {
		defer func() {
			// The runner recovers its own panics; this keeps a broken runner from crashing the process.
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		done <- g.runner.Run(runCtx, job)
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel(nil)
		return err
	case <-ctx.Done():
		cancel(ctx.Err())
		return <-done
	case <-timer.C:
	}

	log := g.log.With(
		logger.String("assessment_id", job.AssessmentID),
		logger.String("trace_id", job.TraceID),
	)
	applied, err := MarkFailed(context.WithoutCancel(ctx), g.store, job.AssessmentID)
	cancel(ErrTimeout)
	switch {
	case err != nil:
		log.Error(ctx, "could not mark timed-out assessment failed", logger.Error(err))
		metrics.RecordErrorByComponent("guard", "store")
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case !applied:
		log.Debug(ctx, "deadline fired after the run finished")
		metrics.RecordGuardNoop()
		return nil
	}
	log.Warn(ctx, "assessment timed out", logger.Duration("timeout", g.timeout))
	metrics.RecordGuardTimeout()
	metrics.RecordRunOutcome(metrics.OutcomeTimeout)
	return ErrTimeout
}
