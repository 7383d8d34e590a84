package analytics

import (
	"context"
	"sort"
	"sync"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
)

var _ Sink = (*MemorySink)(nil)

// MemorySink keeps received metrics in memory. It backs the sandbox when no
// ClickHouse DSN is configured, and tests.
type MemorySink struct {
	mu     sync.Mutex
	events []EventRecord
	// Err, when set, is returned by RecordMetrics.
	Err error
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// RecordMetrics appends the batch.
func (m *MemorySink) RecordMetrics(_ context.Context, batch models.MetricBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, metric := range batch {
		m.events = append(m.events, recordFor(metric))
	}
	return nil
}

// MetricsBySession returns the session's metrics ordered by timestamp.
func (m *MemorySink) MetricsBySession(_ context.Context, sessionID string) ([]EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventRecord
	for _, ev := range m.events {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Len returns the number of stored metrics.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Close is a no-op.
func (m *MemorySink) Close() {}
