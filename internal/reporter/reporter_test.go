package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/backup"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

var defaultRejects = []int{400, 422, 500}

func newTestBackup(t *testing.T, clk clock.Clock) *backup.Store {
	t.Helper()
	return backup.NewStore(afero.NewMemMapFs(), backup.Options{Dir: "backups", ResendOncePerProcess: true},
		clk, zap.NewNop(), observability.NewNoOpRegistry())
}

func newTestReporter(url string, store BackupStore, clk clock.Clock, metrics observability.MetricsRegistry) *Reporter {
	return New(Options{URL: url, Timeout: 2 * time.Second, RejectStatuses: defaultRejects}, store, clk, zap.NewNop(), metrics)
}

func sampleBatch() models.MetricBatch {
	return models.MetricBatch{
		{MetricType: models.MetricLoadRequest, AppID: "app", SessionID: "s1", Timestamp: 1, CPM: 2.5},
		{MetricType: models.MetricLoadSuccess, AppID: "app", SessionID: "s1", Timestamp: 2, CPM: 2.5, CampaignID: "camp123"},
	}
}

func statusServer(t *testing.T, status int, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFlushDelivered(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	var got models.MetricBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, strconv.FormatInt(clk.Now().Unix(), 10), r.Header.Get(TimestampHeader))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestBackup(t, clk)
	metrics := observability.NewMockMetricsRegistry()
	r := newTestReporter(srv.URL, store, clk, metrics)

	outcome := r.Flush(context.Background(), sampleBatch())
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, sampleBatch(), got)
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, 1, metrics.Count("batches/delivered"))
}

func TestFlushRejectedIsDiscarded(t *testing.T) {
	var hits int32
	srv := statusServer(t, http.StatusUnprocessableEntity, &hits)
	clk := clock.NewMock()
	store := newTestBackup(t, clk)
	r := newTestReporter(srv.URL, store, clk, observability.NewNoOpRegistry())

	outcome := r.Flush(context.Background(), sampleBatch())
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, 0, store.Count(), "rejected batch must not be backed up")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "no retry may be attempted")
}

func TestFlushServerErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Outcome
	}{
		{"bad request", http.StatusBadRequest, OutcomeRejected},
		{"internal error", http.StatusInternalServerError, OutcomeRejected},
		{"unavailable", http.StatusServiceUnavailable, OutcomeBackup},
		{"bad gateway", http.StatusBadGateway, OutcomeBackup},
		{"not found", http.StatusNotFound, OutcomeBackup},
		{"accepted", http.StatusAccepted, OutcomeDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := statusServer(t, tt.status, &hits)
			clk := clock.NewMock()
			store := newTestBackup(t, clk)
			r := newTestReporter(srv.URL, store, clk, observability.NewNoOpRegistry())

			assert.Equal(t, tt.want, r.Flush(context.Background(), sampleBatch()))
			wantRecords := 0
			if tt.want == OutcomeBackup {
				wantRecords = 1
			}
			assert.Equal(t, wantRecords, store.Count())
		})
	}
}

func TestFlushTransportErrorBacksUpBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	clk := clock.NewMock()
	store := newTestBackup(t, clk)
	r := newTestReporter(url, store, clk, observability.NewNoOpRegistry())

	batch := sampleBatch()
	assert.Equal(t, OutcomeBackup, r.Flush(context.Background(), batch))

	records := store.LoadAllOnStartup()
	require.Len(t, records, 1)
	assert.Equal(t, batch, records[0].Metrics, "reloaded backup must match the sent batch field for field")
}

func TestFlushEmptyBatchSkipped(t *testing.T) {
	var hits int32
	srv := statusServer(t, http.StatusOK, &hits)
	r := newTestReporter(srv.URL, nil, clock.NewMock(), observability.NewNoOpRegistry())

	assert.Equal(t, OutcomeSkipped, r.Flush(context.Background(), nil))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestResendRemovesDeliveredRecord(t *testing.T) {
	var hits int32
	srv := statusServer(t, http.StatusOK, &hits)
	clk := clock.NewMock()
	store := newTestBackup(t, clk)
	id := store.Store(sampleBatch())
	require.NotEmpty(t, id)

	r := newTestReporter(srv.URL, store, clk, observability.NewNoOpRegistry())
	assert.Equal(t, 1, r.ResendBackups(context.Background()))
	assert.Equal(t, 0, store.Count())
}

func TestResendKeepsRecordOnFailure(t *testing.T) {
	var hits int32
	srv := statusServer(t, http.StatusServiceUnavailable, &hits)
	clk := clock.NewMock()
	store := newTestBackup(t, clk)
	store.Store(sampleBatch())

	r := newTestReporter(srv.URL, store, clk, observability.NewNoOpRegistry())
	assert.Equal(t, 0, r.ResendBackups(context.Background()))
	assert.Equal(t, 1, store.Count(), "failed resend must leave the record for a later process")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// the failing network is not retried twice in one process
	assert.Equal(t, 0, r.ResendBackups(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestResendRemovesRejectedRecord(t *testing.T) {
	var hits int32
	srv := statusServer(t, http.StatusBadRequest, &hits)
	clk := clock.NewMock()
	store := newTestBackup(t, clk)
	id := store.Store(sampleBatch())

	r := newTestReporter(srv.URL, store, clk, observability.NewNoOpRegistry())
	outcome := r.Resend(context.Background(), backup.Record{ID: id, Metrics: sampleBatch()})
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, 0, store.Count())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "delivered", OutcomeDelivered.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "backup", OutcomeBackup.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
}
