package sandbox

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/middleware"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
)

// MetricsHandler accepts POST /metrics batches.
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	status := http.StatusOK
	defer func() { s.Metrics.IncrementIntakeBatches(strconv.Itoa(status)) }()

	var batch models.MetricBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		status = http.StatusBadRequest
		logger.Warn("bad metric batch", zap.Error(err))
		http.Error(w, "invalid json", status)
		return
	}
	for i, m := range batch {
		if m.MetricType == "" || m.SessionID == "" {
			status = http.StatusUnprocessableEntity
			logger.Warn("incomplete metric", zap.Int("index", i))
			http.Error(w, "metric_type and session_id required", status)
			return
		}
	}

	if err := s.Sink.RecordMetrics(r.Context(), batch); err != nil {
		status = http.StatusInternalServerError
		logger.Error("record metrics", zap.Error(err))
		http.Error(w, "analytics error", status)
		return
	}
	if s.Counters != nil {
		day := s.now()
		for _, m := range batch {
			if _, err := s.Counters.IncrementMetric(r.Context(), string(m.MetricType), day); err != nil {
				logger.Warn("increment metric counter", zap.Error(err))
				break
			}
		}
	}
	logger.Debug("metrics received", zap.Int("count", len(batch)))
	w.WriteHeader(http.StatusOK)
}

// SessionMetricsHandler returns the stored metrics of one session.
func (s *Server) SessionMetricsHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	events, err := s.Sink.MetricsBySession(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		logger.Error("query metrics", zap.Error(err))
		http.Error(w, "analytics error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	out := struct {
		Events []eventView `json:"events"`
	}{Events: make([]eventView, 0, len(events))}
	for _, ev := range events {
		out.Events = append(out.Events, eventView{Type: ev.MetricType, Time: ev.Timestamp.Format(time.RFC3339Nano), CampaignID: ev.CampaignID})
	}
	_ = json.NewEncoder(w).Encode(out)
}

type eventView struct {
	Type       string `json:"metric_type"`
	Time       string `json:"timestamp"`
	CampaignID string `json:"campaign_id,omitempty"`
}
