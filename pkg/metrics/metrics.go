// Package metrics provides Prometheus metrics for ticket ingestion,
// enrichment and retrieval.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ticketgraph"

var (
	// TicketsIngested counts ingestions by result: created, updated, stale
	// or failed.
	TicketsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "tickets_total",
			Help:      "Total number of ticket ingestions by result",
		},
		[]string{"result"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticket_duration_seconds",
			Help:      "Duration of a single ticket ingestion in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// StoreRetries counts retried store writes after ErrStoreUnavailable.
	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "store_retries_total",
			Help:      "Total number of retried graph store writes",
		},
	)

	// Reembedded counts stale tickets whose embedding was refreshed.
	Reembedded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "reembedded_total",
			Help:      "Total number of stale tickets processed by the re-embed sweep",
		},
		[]string{"result"},
	)

	// Classifications counts extraction outcomes: ok, failed or partial.
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "classifications_total",
			Help:      "Total number of ticket classifications by result",
		},
		[]string{"result"},
	)

	RetrievalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of retrieval requests by result",
		},
		[]string{"result"},
	)

	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Duration of retrieval requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// QueueJobsProcessed tracks jobs processed from the work queues.
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"queue", "status"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of analytics cache lookups by result",
		},
		[]string{"result"},
	)
)
