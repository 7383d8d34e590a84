package observability

import "time"

// MetricsRegistry provides an interface for recording engine metrics.
// Components receive it by injection instead of touching the global collectors.
type MetricsRegistry interface {
	// Ad fetch metrics
	IncrementAdRequests(kind, outcome string)
	RecordAdRequestLatency(kind string, duration time.Duration)

	// Session metrics
	IncrementSessionTransitions(kind, state string)
	IncrementCreativeMessages(message string)

	// Telemetry delivery metrics
	IncrementMetricBatches(outcome string)
	RecordMetricSendLatency(duration time.Duration)
	IncrementBackupOperations(op string)

	// Location metrics
	IncrementLocationResolutions(state string)

	// Sandbox metrics
	IncrementIntakeBatches(status string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus collectors
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementAdRequests(kind, outcome string) {
	AdRequestCount.WithLabelValues(kind, outcome).Inc()
}

func (r *PrometheusRegistry) RecordAdRequestLatency(kind string, duration time.Duration) {
	AdRequestLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementSessionTransitions(kind, state string) {
	SessionTransitions.WithLabelValues(kind, state).Inc()
}

func (r *PrometheusRegistry) IncrementCreativeMessages(message string) {
	CreativeMessages.WithLabelValues(message).Inc()
}

func (r *PrometheusRegistry) IncrementMetricBatches(outcome string) {
	MetricBatchCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordMetricSendLatency(duration time.Duration) {
	MetricSendLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementBackupOperations(op string) {
	BackupOperations.WithLabelValues(op).Inc()
}

func (r *PrometheusRegistry) IncrementLocationResolutions(state string) {
	LocationResolutions.WithLabelValues(state).Inc()
}

func (r *PrometheusRegistry) IncrementIntakeBatches(status string) {
	IntakeBatches.WithLabelValues(status).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementAdRequests(kind, outcome string)                   {}
func (r *NoOpRegistry) RecordAdRequestLatency(kind string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementSessionTransitions(kind, state string)             {}
func (r *NoOpRegistry) IncrementCreativeMessages(message string)                   {}
func (r *NoOpRegistry) IncrementMetricBatches(outcome string)                      {}
func (r *NoOpRegistry) RecordMetricSendLatency(duration time.Duration)             {}
func (r *NoOpRegistry) IncrementBackupOperations(op string)                        {}
func (r *NoOpRegistry) IncrementLocationResolutions(state string)                  {}
func (r *NoOpRegistry) IncrementIntakeBatches(status string)                       {}
