// Package metrics provides Prometheus metrics for the tournament node.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// battleBuckets spans compact test battles up to full 2048 grids, in milliseconds.
var battleBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000} //nolint:gochecknoglobals // bucket layout

// Manager manages all Prometheus metrics for the node.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Tournament sessions
	sessionsStarted   prometheus.Counter
	sessionsFinalized prometheus.Counter
	sessionsAborted   *prometheus.CounterVec
	roundsCompleted   prometheus.Counter
	sessionDuration   prometheus.Histogram

	// Battles
	battlesSimulated prometheus.Counter
	battleErrors     prometheus.Counter
	battleDuration   prometheus.Histogram
	forfeits         *prometheus.CounterVec

	// Protocol messages
	messagesAccepted  *prometheus.CounterVec
	messagesRejected  *prometheus.CounterVec
	messagesDuplicate prometheus.Counter

	// Trust ledger
	eligibleParticipants   prometheus.Gauge
	registeredParticipants prometheus.Gauge
	evidence               *prometheus.CounterVec
	bans                   prometheus.Counter
	decayEpochs            prometheus.Counter

	// Proof system and replays
	attestations      *prometheus.CounterVec
	replayCacheHits   prometheus.Counter
	replayCacheMisses prometheus.Counter

	// Archive
	archiveWrites  prometheus.Counter
	archiveLatency prometheus.Histogram

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Battle pool
	workerCount       prometheus.Gauge
	workerActiveCount prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers every metric.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "arena",
		subsystem:        "node",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
		Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place registering every metric
	auto := promauto.With(m.registry)

	m.sessionsStarted = m.counter(auto, "sessions_started_total", "Tournament sessions that entered eligibility")
	m.sessionsFinalized = m.counter(auto, "sessions_finalized_total", "Tournament sessions that produced an attested proposer")
	m.sessionsAborted = m.counterVec(auto, "sessions_aborted_total", "Tournament sessions aborted, by reason", "reason")
	m.roundsCompleted = m.counter(auto, "rounds_completed_total", "Bracket rounds completed")
	m.sessionDuration = m.histogram(auto, "session_duration_seconds", "Wall time from eligibility to a terminal phase",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120})

	m.battlesSimulated = m.counter(auto, "battles_simulated_total", "Battles run to completion")
	m.battleErrors = m.counter(auto, "battle_errors_total", "Battles that failed or were cancelled")
	m.battleDuration = m.histogram(auto, "battle_duration_milliseconds", "Battle simulation wall time in milliseconds",
		battleBuckets)
	m.forfeits = m.counterVec(auto, "forfeits_total", "Participants forfeited, by reason", "reason")

	m.messagesAccepted = m.counterVec(auto, "messages_accepted_total", "Protocol messages accepted, by kind", "kind")
	m.messagesRejected = m.counterVec(auto, "messages_rejected_total", "Protocol messages rejected, by kind and reason",
		"kind", "reason")
	m.messagesDuplicate = m.counter(auto, "messages_duplicate_total", "Inbound messages dropped as duplicates")

	m.eligibleParticipants = m.gauge(auto, "eligible_participants", "Participants currently eligible")
	m.registeredParticipants = m.gauge(auto, "registered_participants", "Participants known to the trust ledger")
	m.evidence = m.counterVec(auto, "evidence_total", "Evidence applied to the trust ledger, by kind", "kind")
	m.bans = m.counter(auto, "bans_total", "Participants banned for equivocation")
	m.decayEpochs = m.counter(auto, "decay_epochs_total", "Trust decay epochs applied")

	m.attestations = m.counterVec(auto, "attestations_total", "Attestation requests, by result", "result")
	m.replayCacheHits = m.counter(auto, "replay_cache_hits_total", "Replay requests served from cache")
	m.replayCacheMisses = m.counter(auto, "replay_cache_misses_total", "Replay requests that re-ran a battle")

	m.archiveWrites = m.counter(auto, "archive_writes_total", "Sessions written to the archive")
	m.archiveLatency = m.histogram(auto, "archive_latency_milliseconds", "Archive write latency in milliseconds",
		m.histogramBuckets)

	m.queueSize = m.gauge(auto, "queue_size", "Current number of messages in the inbound queue")
	m.queueCapacity = m.gauge(auto, "queue_capacity", "Maximum capacity of the inbound queue")
	m.queueUtilization = m.gauge(auto, "queue_utilization_ratio", "Inbound queue utilization ratio (0-1)")
	m.queueEnqueueRate = m.counter(auto, "queue_enqueue_total", "Messages enqueued")
	m.queueDequeueRate = m.counter(auto, "queue_dequeue_total", "Messages dequeued")
	m.queueEnqueueErrors = m.counter(auto, "queue_enqueue_errors_total", "Enqueue failures")

	m.workerCount = m.gauge(auto, "battle_workers", "Configured battle pool size")
	m.workerActiveCount = m.gauge(auto, "battle_workers_active", "Battle workers currently simulating")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_requests_total",
		Help: "Total HTTP requests by endpoint, method, and status", ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_seconds",
		Help: "HTTP request latency by endpoint and method", Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordSessionStarted counts a session entering eligibility.
func RecordSessionStarted() { globalManager.sessionsStarted.Inc() }

// RecordSessionFinalized counts a finalized session and its duration.
func RecordSessionFinalized(seconds float64) {
	globalManager.sessionsFinalized.Inc()
	globalManager.sessionDuration.Observe(seconds)
}

// RecordSessionAborted counts an aborted session.
func RecordSessionAborted(reason string, seconds float64) {
	globalManager.sessionsAborted.WithLabelValues(reason).Inc()
	globalManager.sessionDuration.Observe(seconds)
}

// RecordRoundCompleted counts a finished bracket round.
func RecordRoundCompleted() { globalManager.roundsCompleted.Inc() }

// RecordBattle records one finished battle.
func RecordBattle(latencyMs float64) {
	globalManager.battlesSimulated.Inc()
	globalManager.battleDuration.Observe(latencyMs)
}

// RecordBattleError counts a failed or cancelled battle.
func RecordBattleError() { globalManager.battleErrors.Inc() }

// RecordForfeit counts a forfeit.
func RecordForfeit(reason string) { globalManager.forfeits.WithLabelValues(reason).Inc() }

// RecordMessageAccepted counts an accepted protocol message.
func RecordMessageAccepted(kind string) { globalManager.messagesAccepted.WithLabelValues(kind).Inc() }

// RecordMessageRejected counts a rejected protocol message.
func RecordMessageRejected(kind, reason string) {
	globalManager.messagesRejected.WithLabelValues(kind, reason).Inc()
}

// RecordMessageDuplicate counts a duplicate inbound message.
func RecordMessageDuplicate() { globalManager.messagesDuplicate.Inc() }

// UpdateEligibleParticipants sets the eligible gauge.
func UpdateEligibleParticipants(n int) { globalManager.eligibleParticipants.Set(float64(n)) }

// UpdateRegisteredParticipants sets the registered gauge.
func UpdateRegisteredParticipants(n int) { globalManager.registeredParticipants.Set(float64(n)) }

// RecordEvidence counts applied evidence.
func RecordEvidence(kind string) { globalManager.evidence.WithLabelValues(kind).Inc() }

// RecordBan counts a ban.
func RecordBan() { globalManager.bans.Inc() }

// RecordDecayEpoch counts an applied decay epoch.
func RecordDecayEpoch() { globalManager.decayEpochs.Inc() }

// RecordAttestation counts an attestation request by result.
func RecordAttestation(result string) { globalManager.attestations.WithLabelValues(result).Inc() }

// RecordReplayCache counts a replay cache lookup.
func RecordReplayCache(hit bool) {
	if hit {
		globalManager.replayCacheHits.Inc()
		return
	}
	globalManager.replayCacheMisses.Inc()
}

// RecordArchiveWrite records a session archive write.
func RecordArchiveWrite(latencyMs float64) {
	globalManager.archiveWrites.Inc()
	globalManager.archiveLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the battle pool size.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the number of active battle workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
