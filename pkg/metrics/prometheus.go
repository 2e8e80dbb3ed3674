// Package metrics provides Prometheus metrics for the ascent role engine.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Eligibility
	requirementEvaluations *prometheus.CounterVec
	eligibilityEvaluations *prometheus.CounterVec

	// Voting
	nominationsCreated prometheus.Counter
	votes              *prometheus.CounterVec
	threadsClosed      *prometheus.CounterVec
	voteCacheLookups   *prometheus.CounterVec

	// Grants
	grants               *prometheus.CounterVec
	grantLatency         prometheus.Histogram
	grantPartialFailures prometheus.Counter

	// Evaluation queue and workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueued     prometheus.Counter
	queueCoalesced    prometheus.Counter
	queueRejected     prometheus.Counter
	workerCount       prometheus.Gauge
	workerLatency     prometheus.Histogram
	workerErrors      prometheus.Counter
	membersEvaluated  prometheus.Counter
	membersPromoted   prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ascent",
		subsystem:        "roles",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place to declare every collector
	m.requirementEvaluations = m.counterVec("requirement_evaluations_total",
		"Requirement checks by kind and outcome (met, not_met, transient)", "kind", "outcome")
	m.eligibilityEvaluations = m.counterVec("eligibility_evaluations_total",
		"Role eligibility evaluations by role and answer", "role", "eligible")

	m.nominationsCreated = m.counter("nominations_created_total", "Nomination threads opened")
	m.votes = m.counterVec("votes_total", "Vote attempts by resulting status", "status")
	m.threadsClosed = m.counterVec("threads_closed_total", "Nomination threads closed by reason", "reason")
	m.voteCacheLookups = m.counterVec("vote_cache_lookups_total",
		"Lookups of the non-authoritative voted cache by result (hit, miss)", "result")

	m.grants = m.counterVec("grants_total", "Grant coordinator decisions by action and status code", "action", "status")
	m.grantLatency = m.histogram("grant_latency_milliseconds", "Latency of applying a grant decision", m.histogramBuckets)
	m.grantPartialFailures = m.counter("grant_partial_failures_total",
		"Grants where the old tier role was removed but the new role could not be added")

	m.queueSize = m.gauge("evaluation_queue_size", "Pending member evaluations")
	m.queueCapacity = m.gauge("evaluation_queue_capacity", "Capacity of the evaluation queue")
	m.queueEnqueued = m.counter("evaluation_queue_enqueued_total", "Member evaluations enqueued")
	m.queueCoalesced = m.counter("evaluation_queue_coalesced_total",
		"Evaluation triggers folded into an already pending evaluation")
	m.queueRejected = m.counter("evaluation_queue_rejected_total", "Evaluations rejected because the queue was full")
	m.workerCount = m.gauge("worker_count", "Number of evaluation workers")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time to evaluate and apply one member", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Member evaluations that failed")
	m.membersEvaluated = m.counter("members_evaluated_total", "Members evaluated by the pipeline")
	m.membersPromoted = m.counter("members_promoted_total", "Members granted a role by the pipeline")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type",
		"component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint",
		"endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordRequirementEvaluation counts one requirement check.
func RecordRequirementEvaluation(kind string, met, transient bool) {
	outcome := "not_met"
	switch {
	case met:
		outcome = "met"
	case transient:
		outcome = "transient"
	}
	globalManager.requirementEvaluations.WithLabelValues(kind, outcome).Inc()
}

// RecordEligibilityEvaluation counts one role evaluation.
func RecordEligibilityEvaluation(role string, eligible bool) {
	globalManager.eligibilityEvaluations.WithLabelValues(role, strconv.FormatBool(eligible)).Inc()
}

// RecordNominationCreated counts a new nomination thread.
func RecordNominationCreated() {
	globalManager.nominationsCreated.Inc()
}

// RecordVote counts a vote attempt by its resulting status.
func RecordVote(status string) {
	globalManager.votes.WithLabelValues(status).Inc()
}

// RecordThreadClosed counts a closed thread by reason.
func RecordThreadClosed(reason string) {
	globalManager.threadsClosed.WithLabelValues(reason).Inc()
}

// RecordVoteCacheLookup counts a voted-cache lookup.
func RecordVoteCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.voteCacheLookups.WithLabelValues(result).Inc()
}

// RecordGrant counts a grant coordinator decision.
func RecordGrant(action string, status int) {
	globalManager.grants.WithLabelValues(action, strconv.Itoa(status)).Inc()
}

// RecordGrantLatency records grant latency in milliseconds.
func RecordGrantLatency(latencyMs float64) {
	globalManager.grantLatency.Observe(latencyMs)
}

// RecordGrantPartialFailure counts a grant left half applied.
func RecordGrantPartialFailure() {
	globalManager.grantPartialFailures.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an enqueued evaluation.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueCoalesced counts a trigger folded into a pending evaluation.
func RecordQueueCoalesced() {
	globalManager.queueCoalesced.Inc()
}

// RecordQueueRejected counts an evaluation dropped on a full queue.
func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records per-member processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed member evaluation.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordMemberEvaluated counts a member run through the pipeline.
func RecordMemberEvaluated() {
	globalManager.membersEvaluated.Inc()
}

// RecordMemberPromoted counts a member granted a role by the pipeline.
func RecordMemberPromoted() {
	globalManager.membersPromoted.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error attributed to a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an HTTP error for an endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records an average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
