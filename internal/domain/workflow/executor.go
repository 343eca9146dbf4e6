// Package workflow runs the assessment pipeline and guarantees that every run
// ends in exactly one terminal write.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/fluentops/internal/domain/capability"
	"github.com/okian/fluentops/internal/domain/credit"
	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
	"github.com/okian/fluentops/pkg/metrics"
)

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job model.Job) error
}

// Executor runs the four stages sequentially against a capability, recording
// progress in the event log.
type Executor struct {
	store   Store
	backend capability.Capability
	credits CreditSpender
	log     logger.Logger
}

var _ Runner = (*Executor)(nil)

// NewExecutor creates an executor. credits may be nil when nothing is charged.
func NewExecutor(store Store, backend capability.Capability, credits CreditSpender, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:   store,
		backend: backend,
		credits: credits,
		log:     logger.Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes job. Every exit path, panics included, ends in a terminal write
// unless the assessment was already terminal. The returned error describes the
// failure for logs only.
func (e *Executor) Run(ctx context.Context, job model.Job) (err error) {
	start := time.Now()
	log := e.log.With(
		logger.String("assessment_id", job.AssessmentID),
		logger.String("trace_id", job.TraceID),
	)

	state := &runState{input: job.Input}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		err = e.finish(ctx, job, state, err, start, log)
	}()

	if err := e.store.Transition(ctx, job.AssessmentID, model.StatusQueued, model.StatusRunning); err != nil {
		if errors.Is(err, model.ErrTerminal) {
			return fmt.Errorf("start run: %w", ErrAbandoned)
		}
		metrics.RecordErrorByComponent("executor", "store")
		return fmt.Errorf("start run: %w", err)
	}
	return e.execute(ctx, job.AssessmentID, state, log)
}

func (e *Executor) execute(ctx context.Context, id string, state *runState, log logger.Logger) error {
	for _, st := range pipeline {
		if err := ctx.Err(); err != nil {
			metrics.RecordStageError(st.name, "cancelled")
			return fmt.Errorf("before %s: %w: %w", st.name, ErrCancelled, context.Cause(ctx))
		}
		if err := e.progress(ctx, id, st.name, st.before); err != nil {
			return err
		}

		began := time.Now()
		reply, err := e.backend.Invoke(ctx, st.prompt(state))
		metrics.RecordStageLatency(st.name, float64(time.Since(began).Milliseconds()))
		if err != nil {
			if ctx.Err() != nil {
				metrics.RecordStageError(st.name, "cancelled")
				return fmt.Errorf("%s: %w: %w", st.name, ErrCancelled, context.Cause(ctx))
			}
			metrics.RecordStageError(st.name, "capability")
			return fmt.Errorf("%s: %w: %w", st.name, ErrCapability, err)
		}
		if err := st.apply(state, reply); err != nil {
			metrics.RecordStageError(st.name, "parse")
			return fmt.Errorf("%s: %w", st.name, err)
		}
		log.Debug(ctx, "stage finished", logger.String("stage", st.name), logger.Duration("took", time.Since(began)))

		if err := e.progress(ctx, id, st.name, st.after); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) progress(ctx context.Context, id, stage string, percent int) error {
	payload := model.MustPayload(model.ProgressPayload{Stage: stage, Percent: percent})
	if _, err := e.store.AppendEvent(ctx, id, model.EventProgress, payload); err != nil {
		if errors.Is(err, model.ErrTerminal) {
			return fmt.Errorf("%s progress: %w", stage, ErrAbandoned)
		}
		metrics.RecordStageError(stage, "store")
		return fmt.Errorf("%s progress: %w", stage, err)
	}
	return nil
}

// finish performs the single terminal write for the run. It uses a context that
// survives cancellation of the run itself.
func (e *Executor) finish(ctx context.Context, job model.Job, state *runState, runErr error, start time.Time, log logger.Logger) error {
	wctx := context.WithoutCancel(ctx)
	id := job.AssessmentID
	defer func() {
		metrics.RecordRunDuration(float64(time.Since(start).Milliseconds()))
	}()

	if errors.Is(runErr, ErrAbandoned) {
		log.Warn(ctx, "run stopped, assessment already terminal", logger.Error(runErr))
		metrics.RecordRunOutcome(metrics.OutcomeAbandoned)
		return runErr
	}

	if runErr == nil {
		_, err := e.store.Complete(wctx, id, state.result())
		switch {
		case err == nil:
			metrics.RecordRunOutcome(metrics.OutcomeSucceeded)
			log.Info(ctx, "assessment succeeded", logger.Duration("took", time.Since(start)))
			e.charge(wctx, job, log)
			return nil
		case errors.Is(err, model.ErrTerminal):
			log.Warn(ctx, "run finished after assessment became terminal")
			metrics.RecordRunOutcome(metrics.OutcomeAbandoned)
			return fmt.Errorf("complete: %w", ErrAbandoned)
		default:
			log.Error(ctx, "could not persist result", logger.Error(err))
			runErr = fmt.Errorf("complete: %w", err)
		}
	}

	log.Error(ctx, "assessment failed", logger.Error(runErr))
	applied, err := MarkFailed(wctx, e.store, id)
	switch {
	case err != nil:
		log.Error(ctx, "could not mark assessment failed", logger.Error(err))
		metrics.RecordErrorByComponent("executor", "store")
		metrics.RecordRunOutcome(metrics.OutcomeFailed)
	case !applied:
		metrics.RecordRunOutcome(metrics.OutcomeAbandoned)
	default:
		metrics.RecordRunOutcome(metrics.OutcomeFailed)
	}
	return runErr
}

// charge deducts the credit for a successful run. Failures are logged only and
// never change the assessment's outcome.
func (e *Executor) charge(ctx context.Context, job model.Job, log logger.Logger) {
	if e.credits == nil {
		return
	}
	if err := e.credits.DeductCredit(ctx, job.OwnerID, credit.ReasonAssessment, job.AssessmentID); err != nil {
		log.Error(ctx, "credit deduction failed", logger.String("user_id", job.OwnerID), logger.Error(err))
		metrics.RecordErrorByComponent("credit", "deduct")
	}
}
