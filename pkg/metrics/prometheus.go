package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels the terminal result of a workflow run.
type Outcome string

// Run outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	// OutcomeAbandoned is a run whose assessment was already terminal when it tried to finish.
	OutcomeAbandoned Outcome = "abandoned"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Submission and run lifecycle
	submissions       prometheus.Counter
	submissionRejects *prometheus.CounterVec
	runOutcomes       *prometheus.CounterVec
	runDuration       prometheus.Histogram
	stageLatency      *prometheus.HistogramVec
	stageErrors       *prometheus.CounterVec
	eventsAppended    *prometheus.CounterVec
	guardTimeouts     prometheus.Counter
	guardNoops        prometheus.Counter
	creditDeductions  *prometheus.CounterVec

	// Stream readers
	streamSessions     prometheus.Gauge
	streamPollInterval prometheus.Histogram
	streamDelivered    prometheus.Counter

	// Queue and workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueUtilization  prometheus.Gauge
	queueEnqueued     prometheus.Counter
	queueDequeued     prometheus.Counter
	queueEnqueueError *prometheus.CounterVec
	workerCount       prometheus.Gauge
	workerBusy        prometheus.Gauge
	workerLatency     prometheus.Histogram

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec
	errorsByComponent   *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fluentops",
		subsystem:        "coach",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.submissions = m.counter("assessments_submitted_total", "Assessments accepted for processing")
	m.submissionRejects = m.counterVec("assessments_rejected_total", "Submissions rejected before or at enqueue", "reason")
	m.runOutcomes = m.counterVec("runs_total", "Workflow runs by terminal outcome", "outcome")
	m.runDuration = m.histogram("run_duration_milliseconds", "Wall time of a workflow run", m.histogramBuckets)
	m.stageLatency = m.histogramVec("stage_latency_milliseconds", "Capability call latency per stage", "stage")
	m.stageErrors = m.counterVec("stage_errors_total", "Stage failures by stage and kind", "stage", "kind")
	m.eventsAppended = m.counterVec("events_appended_total", "Event log appends by kind", "kind")
	m.guardTimeouts = m.counter("guard_timeouts_total", "Runs failed by the timeout guard")
	m.guardNoops = m.counter("guard_noops_total", "Deadlines that fired after the run was already terminal")
	m.creditDeductions = m.counterVec("credit_deductions_total", "Credit deductions by result", "result")

	m.streamSessions = m.gauge("stream_sessions", "Open stream reader sessions")
	m.streamPollInterval = m.histogram("stream_poll_interval_milliseconds", "Poll interval chosen by stream readers",
		[]float64{300, 450, 675, 1012, 1518, 2278, 3000})
	m.streamDelivered = m.counter("stream_events_delivered_total", "Events yielded to stream consumers")

	m.queueSize = m.gauge("queue_size", "Jobs waiting in the run queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum run queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size / capacity")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Jobs dequeued")
	m.queueEnqueueError = m.counterVec("queue_enqueue_errors_total", "Enqueue failures by reason", "reason")
	m.workerCount = m.gauge("worker_count", "Configured workers")
	m.workerBusy = m.gauge("worker_busy", "Workers currently running a job")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Time a worker spends on one job", m.histogramBuckets)

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation failures", "op")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")
	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordAssessmentSubmitted counts an accepted submission.
func RecordAssessmentSubmitted() { globalManager.submissions.Inc() }

// RecordSubmissionRejected counts a submission refused for reason.
func RecordSubmissionRejected(reason string) {
	globalManager.submissionRejects.WithLabelValues(reason).Inc()
}

// RecordRunOutcome counts a finished run.
func RecordRunOutcome(outcome Outcome) {
	globalManager.runOutcomes.WithLabelValues(string(outcome)).Inc()
}

// RecordRunDuration observes the wall time of a run.
func RecordRunDuration(ms float64) { globalManager.runDuration.Observe(ms) }

// RecordStageLatency observes one capability call.
func RecordStageLatency(stage string, ms float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(ms)
}

// RecordStageError counts a stage failure of the given kind (parse, capability, cancelled).
func RecordStageError(stage, kind string) {
	globalManager.stageErrors.WithLabelValues(stage, kind).Inc()
}

// RecordEventAppended counts an event log append.
func RecordEventAppended(kind string) {
	globalManager.eventsAppended.WithLabelValues(kind).Inc()
}

// RecordGuardTimeout counts a run failed by its deadline.
func RecordGuardTimeout() { globalManager.guardTimeouts.Inc() }

// RecordGuardNoop counts a deadline that found the run already terminal.
func RecordGuardNoop() { globalManager.guardNoops.Inc() }

// RecordCreditDeduction counts a deduction attempt by result.
func RecordCreditDeduction(result string) {
	globalManager.creditDeductions.WithLabelValues(result).Inc()
}

// StreamSessionStarted increments the open stream gauge.
func StreamSessionStarted() { globalManager.streamSessions.Inc() }

// StreamSessionEnded decrements the open stream gauge.
func StreamSessionEnded() { globalManager.streamSessions.Dec() }

// RecordStreamPollInterval observes the interval a reader chose before its next poll.
func RecordStreamPollInterval(ms float64) { globalManager.streamPollInterval.Observe(ms) }

// RecordStreamDelivered counts events yielded to consumers.
func RecordStreamDelivered(n int) { globalManager.streamDelivered.Add(float64(n)) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(ratio float64) { globalManager.queueUtilization.Set(ratio) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a refused enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueError.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// WorkerBusy marks one worker as running a job.
func WorkerBusy() { globalManager.workerBusy.Inc() }

// WorkerIdle marks one worker as idle again.
func WorkerIdle() { globalManager.workerBusy.Dec() }

// RecordWorkerProcessingLatency observes a worker's time on one job.
func RecordWorkerProcessingLatency(ms float64) { globalManager.workerLatency.Observe(ms) }

// RecordStoreLatency observes a store operation.
func RecordStoreLatency(op string, ms float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(ms)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op string) { globalManager.storeErrors.WithLabelValues(op).Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(ms)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap allocation in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(ms float64) { globalManager.systemGCPauseTime.Observe(ms) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
