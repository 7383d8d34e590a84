package sandbox

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/middleware"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
)

// AdHandler answers GET /ad with an OK or NO_FILL decision.
func (s *Server) AdHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	q := r.URL.Query()

	appID := q.Get("appId")
	if appID == "" {
		http.Error(w, "appId required", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(q.Get("uuid"))
	if err != nil {
		http.Error(w, "invalid uuid", http.StatusBadRequest)
		return
	}
	floor := decimal.Zero
	if v := q.Get("cpm_floor"); v != "" {
		if floor, err = decimal.NewFromString(v); err != nil {
			http.Error(w, "invalid cpm_floor", http.StatusBadRequest)
			return
		}
	}
	interstitial, _ := strconv.ParseBool(q.Get("is_interstitial"))

	resp := models.AdResponse{Status: models.AdStatusNoFill}
	if s.fills() {
		resp = models.AdResponse{Status: models.AdStatusOK, ID: s.pickCampaign()}
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("ad.status", string(resp.Status)),
		attribute.String("session.id", sessionID.String()),
	)
	logger.Info("ad decision",
		zap.String("app_id", appID),
		zap.String("session_id", sessionID.String()),
		zap.Bool("interstitial", interstitial),
		zap.String("cpm_floor", floor.String()),
		zap.String("status", string(resp.Status)),
		zap.String("campaign_id", resp.ID),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("write ad response", zap.Error(err))
	}
}

// CampaignHandler serves a placeholder creative page for a campaign.
func (s *Server) CampaignHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<!doctype html><title>sandbox creative</title><p>sandbox creative</p>"))
}
