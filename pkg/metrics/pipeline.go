package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records counters for the ingestion/delivery pipeline.
type PipelineMetrics struct {
	eventsAccepted   prometheus.Counter
	batchesCommitted prometheus.Counter
	eventsPersisted  prometheus.Counter
	consumerRetries  prometheus.Counter
	deadLetters      *prometheus.CounterVec
	processDuration  prometheus.Histogram
	httpRequests     *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	eventsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_accepted_total",
		Help: "Events accepted by the ingestion gate.",
	})
	batchesCommitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_batches_committed_total",
		Help: "Batches persisted by the consumer.",
	})
	eventsPersisted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_persisted_total",
		Help: "Events written through the idempotent upsert.",
	})
	consumerRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_retries_total",
		Help: "Messages re-published for a delayed retry.",
	})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dead_letters_total",
		Help: "Messages handed off to the dead-letter subject.",
	}, []string{"reason"})
	processDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "consumer_process_duration_seconds",
		Help:    "Duration of a single consumer delivery attempt.",
		Buckets: prometheus.DefBuckets,
	})
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served, by method, route and status.",
	}, []string{"method", "route", "status"})
	reg.MustRegister(
		eventsAccepted,
		batchesCommitted,
		eventsPersisted,
		consumerRetries,
		deadLetters,
		processDuration,
		httpRequests,
	)
	return &PipelineMetrics{
		eventsAccepted:   eventsAccepted,
		batchesCommitted: batchesCommitted,
		eventsPersisted:  eventsPersisted,
		consumerRetries:  consumerRetries,
		deadLetters:      deadLetters,
		processDuration:  processDuration,
		httpRequests:     httpRequests,
	}
}

// AddAccepted records events accepted at the gate.
func (m *PipelineMetrics) AddAccepted(count int) {
	if m == nil || m.eventsAccepted == nil {
		return
	}
	m.eventsAccepted.Add(float64(count))
}

// ObserveCommit records a committed batch and its event count.
func (m *PipelineMetrics) ObserveCommit(events int) {
	if m == nil || m.batchesCommitted == nil {
		return
	}
	m.batchesCommitted.Inc()
	m.eventsPersisted.Add(float64(events))
}

// IncRetry increments the retry counter.
func (m *PipelineMetrics) IncRetry() {
	if m == nil || m.consumerRetries == nil {
		return
	}
	m.consumerRetries.Inc()
}

// IncDeadLetter increments the dead-letter counter for the given reason.
func (m *PipelineMetrics) IncDeadLetter(reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.deadLetters.WithLabelValues(reason).Inc()
}

// ObserveProcess records the duration of a delivery attempt.
func (m *PipelineMetrics) ObserveProcess(d time.Duration) {
	if m == nil || m.processDuration == nil {
		return
	}
	m.processDuration.Observe(d.Seconds())
}

// IncHTTPRequest records a served HTTP request.
func (m *PipelineMetrics) IncHTTPRequest(method, route, status string) {
	if m == nil || m.httpRequests == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
