package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ad fetch requests per ad kind and outcome (ok, no_fill, failed, invalid)
	AdRequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempo_ad_requests_total",
			Help: "Total ad fetch requests issued",
		},
		[]string{"kind", "outcome"},
	)

	// ad fetch latency in seconds per ad kind
	AdRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tempo_ad_request_duration_seconds",
			Help:    "Histogram of ad fetch latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// session lifecycle transitions labelled by ad kind and target state
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempo_session_transitions_total",
			Help: "Total ad session state transitions",
		},
		[]string{"kind", "state"},
	)

	// messages received from rendered creative, labelled by message kind
	CreativeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempo_creative_messages_total",
			Help: "Total messages received from ad creative",
		},
		[]string{"message"},
	)

	// metric batch send attempts labelled by outcome (delivered, rejected, backup)
	MetricBatchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempo_metric_batches_total",
			Help: "Total metric batch send attempts",
		},
		[]string{"outcome"},
	)

	// metric send latency in seconds
	MetricSendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tempo_metric_send_duration_seconds",
			Help:    "Duration of metric batch sends",
			Buckets: prometheus.DefBuckets,
		},
	)

	// backup store operations labelled by operation (store, skip, expire, remove, error)
	BackupOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempo_backup_operations_total",
			Help: "Total metric backup store operations",
		},
		[]string{"op"},
	)

	// location resolutions labelled by the terminal state reached
	LocationResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempo_location_resolutions_total",
			Help: "Total location profile resolutions",
		},
		[]string{"state"},
	)

	// metric batches received by the sandbox intake, labelled by status code
	IntakeBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempo_sandbox_intake_batches_total",
			Help: "Total metric batches received by the sandbox",
		},
		[]string{"status"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		AdRequestCount,
		AdRequestLatency,
		SessionTransitions,
		CreativeMessages,
		MetricBatchCount,
		MetricSendLatency,
		BackupOperations,
		LocationResolutions,
		IntakeBatches,
	)
}
