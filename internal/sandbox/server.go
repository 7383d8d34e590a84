// Package sandbox is a local stand-in for the ads, metrics and creative
// backends the engine talks to.
package sandbox

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/analytics"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/middleware"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

// Counters tracks per-day totals of received metrics.
type Counters interface {
	IncrementMetric(ctx context.Context, metricType string, day time.Time) (int64, error)
}

// Options configure the sandbox responses.
type Options struct {
	Campaigns []string
	FillRate  float64
	// AutoClose makes the creative simulator send CLOSE_AD after the timer.
	AutoClose bool
	// Seed fixes the fill decisions. Zero seeds from the clock.
	Seed uint64
}

// Server groups dependencies for the sandbox handlers.
type Server struct {
	Logger   *zap.Logger
	Sink     analytics.Sink
	Counters Counters
	Metrics  observability.MetricsRegistry
	Options  Options

	upgrader websocket.Upgrader
	randMu   sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
}

// NewServer constructs a Server. counters may be nil.
func NewServer(logger *zap.Logger, sink analytics.Sink, counters Counters, metrics observability.MetricsRegistry, opts Options) *Server {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Server{
		Logger:   logger.Named("sandbox"),
		Sink:     sink,
		Counters: counters,
		Metrics:  metrics,
		Options:  opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rng: rand.New(rand.NewPCG(seed, seed>>1)),
		now: time.Now,
	}
}

// Router wires the sandbox routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ad", s.AdHandler).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.MetricsHandler).Methods(http.MethodPost)
	r.HandleFunc("/metrics/{session}", s.SessionMetricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/campaign/{id}/{kind}", s.CampaignHandler).Methods(http.MethodGet)
	r.HandleFunc("/creative/ws", s.CreativeHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/internal/metrics", promhttp.Handler())
	r.Use(middleware.WithTraceLogger(s.Logger), middleware.AccessLog(s.Logger))
	return otelhttp.NewHandler(r, "sandbox")
}

// HealthHandler responds with a simple status check.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) fills() bool {
	if len(s.Options.Campaigns) == 0 || s.Options.FillRate <= 0 {
		return false
	}
	if s.Options.FillRate >= 1 {
		return true
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rng.Float64() < s.Options.FillRate
}

func (s *Server) pickCampaign() string {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.Options.Campaigns[s.rng.IntN(len(s.Options.Campaigns))]
}
