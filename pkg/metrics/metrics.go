// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal tracks ingested batches by outcome
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingestion",
			Name:      "batches_total",
			Help:      "Total number of ingested batches by outcome",
		},
		[]string{"source_id", "outcome"},
	)

	// BatchDuration tracks how long a batch takes end to end
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "ingestion",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch ingestion in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"source_id"},
	)

	// EntitiesTotal tracks entity outcomes: matched, created, merged
	EntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "entities",
			Name:      "total",
			Help:      "Entities matched, created or merged during ingestion",
		},
		[]string{"outcome"},
	)

	// TransfersTotal tracks transfer outcomes: created, merged, deleted, remerged
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "transfers",
			Name:      "total",
			Help:      "Transfers created, merged or deleted during ingestion",
		},
		[]string{"outcome"},
	)

	// FlushDuration tracks the bulk writes at phase boundaries
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "database",
			Name:      "flush_duration_seconds",
			Help:      "Duration of change set flushes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"phase"},
	)

	// JobsTotal tracks job runs by name and status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of job runs by status",
		},
		[]string{"job", "status"},
	)

	// JobsInFlight tracks jobs currently running
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Number of jobs currently running",
		},
	)

	// RateLimitGranted tracks tokens granted and denied by the registry bucket
	RateLimitGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ratelimit",
			Name:      "tokens_total",
			Help:      "Tokens requested from the rate limiter by result",
		},
		[]string{"bucket", "result"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordBatch records one batch run
func RecordBatch(sourceID, outcome string, durationSeconds float64) {
	BatchesTotal.WithLabelValues(sourceID, outcome).Inc()
	BatchDuration.WithLabelValues(sourceID).Observe(durationSeconds)
}

func RecordEntities(outcome string, n int) {
	if n > 0 {
		EntitiesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func RecordTransfers(outcome string, n int) {
	if n > 0 {
		TransfersTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

func RecordFlush(phase string, durationSeconds float64) {
	FlushDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordJob records a finished job run
func RecordJob(job, status string) {
	JobsTotal.WithLabelValues(job, status).Inc()
}

// RecordTokens records a token bucket decision
func RecordTokens(bucket string, granted, denied int) {
	if granted > 0 {
		RateLimitGranted.WithLabelValues(bucket, "granted").Add(float64(granted))
	}
	if denied > 0 {
		RateLimitGranted.WithLabelValues(bucket, "denied").Add(float64(denied))
	}
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, n int) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Add(float64(n))
}
