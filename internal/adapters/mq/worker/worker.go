// Package worker runs queued assessment jobs on a fixed pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/pkg/logger"
	"github.com/okian/fluentops/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	poolShutdownTimeout     = 30 * time.Second
)

// Handler runs one job. In the service it is the timeout guard around the executor.
type Handler interface {
	Run(ctx context.Context, job model.Job) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.Job
	Len(ctx context.Context) int
	Close() error
}

// Worker handles jobs until the queue is closed and drained.
type Worker struct {
	queue   Queue
	handler Handler
	name    string
	busy    *atomic.Int64
	done    chan struct{}
	logger  logger.Logger
}

// NewWorker creates a worker.
func NewWorker(queue Queue, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		queue:   queue,
		handler: handler,
		name:    "worker",
		busy:    new(atomic.Int64),
		done:    make(chan struct{}),
		logger:  logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run consumes jobs until the queue channel closes. Cancelling ctx does not
// stop the loop: remaining jobs are still handed to the handler with the
// cancelled context so each one reaches a terminal state quickly.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for job := range w.queue.Dequeue(ctx) {
		metrics.RecordQueueDequeue()
		w.queue.Len(ctx)
		w.process(ctx, job)
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) process(ctx context.Context, job model.Job) { //nolint:gocritic // hugeParam: received by value from the channel
	start := time.Now()
	w.busy.Add(1)
	metrics.WorkerBusy()
	defer func() {
		w.busy.Add(-1)
		metrics.WorkerIdle()
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("worker", "panic")
			w.logger.Error(ctx, "job handler panicked",
				logger.String("assessment_id", job.AssessmentID),
				logger.Any("panic", r),
			)
		}
	}()

	if err := w.handler.Run(ctx, job); err != nil {
		w.logger.Debug(ctx, "job finished with error",
			logger.String("assessment_id", job.AssessmentID),
			logger.String("trace_id", job.TraceID),
			logger.Error(err),
		)
	}
}

// Pool manages a fixed set of workers sharing one queue.
type Pool struct {
	workers []*Worker
	queue   Queue
	busy    atomic.Int64
	cancel  context.CancelFunc
	once    sync.Once
	logger  logger.Logger
}

// NewPool creates a pool. workerCount < 1 picks a multiple of the CPU count.
func NewPool(workerCount int, queue Queue, handler Handler) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		workers: make([]*Worker, workerCount),
		queue:   queue,
		logger:  logger.Named("worker-pool"),
	}
	for i := range p.workers {
		w := NewWorker(queue, handler, WithName("worker-"+strconv.Itoa(i)))
		w.busy = &p.busy
		p.workers[i] = w
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Busy returns how many workers are handling a job right now.
func (p *Pool) Busy() int64 { return p.busy.Load() }

// Start launches every worker. Jobs run under a context derived from ctx that
// Shutdown cancels.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		go w.Run(runCtx)
	}
}

// Shutdown closes the queue, cancels in-flight runs so they fail fast, and
// waits for the workers to drain what is left.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if cerr := p.queue.Close(); cerr != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
		}
		if p.cancel != nil {
			p.cancel()
		}

		waitCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()
		for i, w := range p.workers {
			select {
			case <-w.Done():
			case <-waitCtx.Done():
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = fmt.Errorf("worker shutdown: %w", waitCtx.Err())
				return
			}
		}
	})
	return err
}
