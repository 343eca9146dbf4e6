// Package service composes the store, credit gate, workflow executor, timeout
// guard, stream reader and worker pool into the operations the HTTP API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/fluentops/internal/adapters/mq/queue"
	workerpool "github.com/okian/fluentops/internal/adapters/mq/worker"
	"github.com/okian/fluentops/internal/adapters/repository"
	"github.com/okian/fluentops/internal/domain/capability"
	"github.com/okian/fluentops/internal/domain/credit"
	"github.com/okian/fluentops/internal/domain/dedupe"
	"github.com/okian/fluentops/internal/domain/model"
	"github.com/okian/fluentops/internal/domain/stream"
	"github.com/okian/fluentops/internal/domain/workflow"
	"github.com/okian/fluentops/pkg/logger"
	"github.com/okian/fluentops/pkg/metrics"
)

// Defaults for the tunables exposed through options.
const (
	DefaultQueueSize       = 1024
	DefaultPageSize        = 20
	DefaultMaxPageSize     = 100
	SeedReason             = "seed"
	streamPathFormat       = "/v1/assessments/%s/stream"
	defaultWorkerMultipler = 2
)

// SubmitRequest is a new assessment as received from a caller.
type SubmitRequest struct {
	InputKind    string
	Text         string
	RecordingRef string
	Goals        []string
}

// Submission identifies an accepted assessment.
type Submission struct {
	AssessmentID string `json:"assessmentId"`
	TraceID      string `json:"traceId"`
	StreamURL    string `json:"streamUrl"`
}

// Stats is a point-in-time snapshot for monitoring.
type Stats struct {
	Started       bool   `json:"started"`
	Capability    string `json:"capability"`
	Workers       int    `json:"workers"`
	BusyWorkers   int64  `json:"busyWorkers"`
	QueueLength   int    `json:"queueLength"`
	QueueCapacity int    `json:"queueCapacity"`
	RunTimeoutMS  int64  `json:"runTimeoutMs"`
	DedupeSize    int64  `json:"dedupeSize"`
}

// Service implements the API dependencies for the assessment pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	backend  capability.Capability
	deduper  dedupe.Deduper
	gate     *credit.Gate
	jobs     eventqueue.Queue
	guard    *workflow.Guard
	reader   *stream.Reader
	pool     *workerpool.Pool
	newID    func() string

	// Configuration
	backendName     string
	workerCount     int
	queueSize       int
	dedupeSize      int
	runTimeout      time.Duration
	minPoll         time.Duration
	maxPoll         time.Duration
	streamBatch     int
	defaultPageSize int
	maxPageSize     int
	seedCredits     map[string]int64

	// State
	started bool

	logger logger.Logger
}

// New constructs a Service. Without WithStore it runs on an in-memory store and
// without WithCapability on the deterministic mock.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU() * defaultWorkerMultipler,
		queueSize:       DefaultQueueSize,
		dedupeSize:      dedupe.DefaultMaxSize,
		runTimeout:      workflow.DefaultTimeout,
		minPoll:         stream.DefaultMinPoll,
		maxPoll:         stream.DefaultMaxPoll,
		streamBatch:     stream.DefaultBatchSize,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     DefaultMaxPageSize,
		newID:           func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.backend == nil {
		s.backend = capability.NewMock()
		s.backendName = ProviderMock
	}
	return s
}

// Start wires the pipeline, seeds credits and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.logger.Info(ctx, "starting assessment service...")

	for user, amount := range s.seedCredits {
		applied, err := s.store.Grant(ctx, user, amount, SeedReason, user)
		if err != nil {
			return fmt.Errorf("seed credits for %s: %w", user, err)
		}
		if applied {
			s.logger.Info(ctx, "seeded credits", logger.String("user_id", user), logger.Int64("credits", amount))
		}
	}

	// Runs do not survive a restart. Anything a previous process left unfinished
	// is failed before new work is accepted.
	if _, err := s.failUnfinished(ctx); err != nil {
		return err
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.gate = credit.NewGate(s.store, credit.WithDeduper(s.deduper))
	executor := workflow.NewExecutor(s.store, s.backend, s.gate)
	s.guard = workflow.NewGuard(executor, s.store, workflow.WithTimeout(s.runTimeout))
	s.reader = stream.NewReader(s.store,
		stream.WithPollBounds(s.minPoll, s.maxPoll),
		stream.WithBatchSize(s.streamBatch),
		stream.WithNotifier(s.store),
	)
	s.jobs = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.jobs, s.guard)

	// Runs outlive the request that started them; only Stop cancels them.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "assessment service started",
		logger.String("capability", s.backendName),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("runTimeout", s.runTimeout),
	)
	return nil
}

// Stop drains the worker pool and closes the store. In-flight runs see a
// cancelled context and end Failed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping assessment service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	// Workers that outlived the shutdown deadline are still Running; fail them
	// while the store is open so no stream is left waiting.
	if _, err := s.failUnfinished(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "assessment service stopped")
	return errors.Join(errs...)
}

// failUnfinished drives every Queued or Running assessment to Failed and
// returns how many it changed.
func (s *Service) failUnfinished(ctx context.Context) (int, error) {
	ids, err := s.store.UnfinishedAssessments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished assessments: %w", err)
	}
	failed := 0
	var errs []error
	for _, id := range ids {
		applied, err := workflow.MarkFailed(ctx, s.store, id)
		if err != nil {
			s.logger.Error(ctx, "could not fail unfinished assessment", logger.String("assessment_id", id), logger.Error(err))
			errs = append(errs, fmt.Errorf("fail %s: %w", id, err))
			continue
		}
		if applied {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn(ctx, "failed unfinished assessments", logger.Int("count", failed))
	}
	return failed, errors.Join(errs...)
}

// Started reports whether Start has run and Stop has not.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// CreateAssessment validates the request, checks the caller has credits, stores a
// Queued assessment and schedules its run. No assessment is created when the
// request is invalid or the caller has no credits.
func (s *Service) CreateAssessment(ctx context.Context, ownerID string, req SubmitRequest) (Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return Submission{}, ErrNotStarted
	}

	input, err := validate(ownerID, req)
	if err != nil {
		metrics.RecordSubmissionRejected("validation")
		return Submission{}, err
	}

	ok, err := s.gate.HasCredits(ctx, ownerID)
	if err != nil {
		return Submission{}, fmt.Errorf("check credits: %w", err)
	}
	if !ok {
		metrics.RecordSubmissionRejected("insufficient_credits")
		return Submission{}, ErrInsufficientCredits
	}

	a := &model.Assessment{
		ID:           s.newID(),
		OwnerID:      ownerID,
		InputKind:    input.Kind,
		InputText:    input.Text,
		RecordingRef: input.RecordingRef,
		Goals:        input.Goals,
		Status:       model.StatusQueued,
		TraceID:      s.newID(),
	}
	if err := s.store.CreateAssessment(ctx, a); err != nil {
		return Submission{}, fmt.Errorf("create assessment: %w", err)
	}

	sub := Submission{
		AssessmentID: a.ID,
		TraceID:      a.TraceID,
		StreamURL:    fmt.Sprintf(streamPathFormat, a.ID),
	}
	log := s.logger.With(logger.String("assessment_id", a.ID), logger.String("trace_id", a.TraceID))

	// The record exists now, so the schedule must not depend on the caller staying connected.
	bg := context.WithoutCancel(ctx)
	job := model.Job{
		AssessmentID: a.ID,
		OwnerID:      ownerID,
		TraceID:      a.TraceID,
		Input:        input,
		EnqueuedAt:   time.Now(),
	}
	if err := s.jobs.Enqueue(bg, job); err != nil {
		metrics.RecordSubmissionRejected("backpressure")
		if _, ferr := workflow.MarkFailed(bg, s.store, a.ID); ferr != nil {
			log.Error(ctx, "failed to fail unscheduled assessment", logger.Error(ferr))
		}
		log.Warn(ctx, "job queue refused assessment", logger.Error(err))
		return sub, fmt.Errorf("%w: %w", ErrBackpressure, err)
	}

	metrics.RecordAssessmentSubmitted()
	log.Debug(ctx, "assessment queued", logger.String("owner_id", ownerID))
	return sub, nil
}

// GetAssessment returns one of ownerID's assessments.
func (s *Service) GetAssessment(ctx context.Context, ownerID, id string) (*model.Assessment, error) {
	return s.store.FindAssessment(ctx, ownerID, id)
}

// ListAssessments returns a page of ownerID's assessments, newest first. A
// non-positive page is the first page; limit falls back to the default and is
// capped at the maximum page size.
func (s *Service) ListAssessments(ctx context.Context, ownerID string, page, limit int) ([]model.Assessment, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = s.defaultPageSize
	case limit > s.maxPageSize:
		limit = s.maxPageSize
	}
	return s.store.ListAssessments(ctx, ownerID, model.Page{Number: page, Size: limit})
}

// StreamAssessment returns the events of one of ownerID's assessments with seq
// greater than since, tailing until the terminal event. Ownership is checked
// before returning so callers can report ErrNotFound up front.
func (s *Service) StreamAssessment(ctx context.Context, ownerID, id string, since int64) (iter.Seq[model.Event], error) {
	s.mu.RLock()
	reader := s.reader
	s.mu.RUnlock()
	if reader == nil {
		return nil, ErrNotStarted
	}
	if _, err := s.store.FindAssessment(ctx, ownerID, id); err != nil {
		return nil, err
	}
	if since < model.NoSeq {
		since = model.NoSeq
	}
	return reader.Stream(ctx, id, ownerID, since), nil
}

// Balance returns userID's remaining credits.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.store.Balance(ctx, userID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:       s.started,
		Capability:    s.backendName,
		Workers:       s.workerCount,
		QueueCapacity: s.queueSize,
		RunTimeoutMS:  s.runTimeout.Milliseconds(),
	}
	if s.started {
		stats.Workers = s.pool.Size()
		stats.BusyWorkers = s.pool.Busy()
		stats.QueueLength = s.jobs.Len(ctx)
		stats.DedupeSize = s.deduper.Size()
		metrics.UpdateQueueSize(stats.QueueLength)
	}
	return stats
}

func validate(ownerID string, req SubmitRequest) (model.Input, error) {
	if strings.TrimSpace(ownerID) == "" {
		return model.Input{}, fmt.Errorf("%w: missing user id", ErrValidation)
	}
	in := model.Input{
		Text:         strings.TrimSpace(req.Text),
		RecordingRef: strings.TrimSpace(req.RecordingRef),
	}
	for _, g := range req.Goals {
		if g = strings.TrimSpace(g); g != "" {
			in.Goals = append(in.Goals, g)
		}
	}
	switch model.InputKind(strings.ToUpper(strings.TrimSpace(req.InputKind))) {
	case model.InputText:
		if in.Text == "" {
			return model.Input{}, fmt.Errorf("%w: text is required for text input", ErrValidation)
		}
		in.Kind = model.InputText
	case model.InputRecording:
		if in.RecordingRef == "" {
			return model.Input{}, fmt.Errorf("%w: recordingRef is required for recording input", ErrValidation)
		}
		in.Kind = model.InputRecording
	default:
		return model.Input{}, fmt.Errorf("%w: inputKind must be text or recording", ErrValidation)
	}
	return in, nil
}
