package observability

import (
	"sync"
	"time"
)

var _ MetricsRegistry = (*MockMetricsRegistry)(nil)

// MockMetricsRegistry records counter increments so tests can assert on them.
// Keys are the label values joined with "/".
type MockMetricsRegistry struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewMockMetricsRegistry creates an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{counters: make(map[string]int)}
}

func (m *MockMetricsRegistry) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
}

// Count returns how many times the counter identified by key was incremented.
func (m *MockMetricsRegistry) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func (m *MockMetricsRegistry) IncrementAdRequests(kind, outcome string) {
	m.inc("ad_requests/" + kind + "/" + outcome)
}
func (m *MockMetricsRegistry) RecordAdRequestLatency(kind string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementSessionTransitions(kind, state string) {
	m.inc("transitions/" + kind + "/" + state)
}
func (m *MockMetricsRegistry) IncrementCreativeMessages(message string) {
	m.inc("creative/" + message)
}
func (m *MockMetricsRegistry) IncrementMetricBatches(outcome string) {
	m.inc("batches/" + outcome)
}
func (m *MockMetricsRegistry) RecordMetricSendLatency(duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementBackupOperations(op string) {
	m.inc("backup/" + op)
}
func (m *MockMetricsRegistry) IncrementLocationResolutions(state string) {
	m.inc("location/" + state)
}
func (m *MockMetricsRegistry) IncrementIntakeBatches(status string) {
	m.inc("intake/" + status)
}
