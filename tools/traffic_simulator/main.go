// Command traffic_simulator drives simulated devices through full ad
// sessions against the sandbox backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/config"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/creative"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/db"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/geoip"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/location"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/mediation"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

var (
	server        string
	sessions      int
	conc          int
	appID         string
	cpmFloor      string
	rewardedShare float64
	debug         bool
	label         string
	sessionWait   time.Duration
)

var logger *zap.Logger

var (
	userAgents = []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
	accuracies = []location.Accuracy{
		location.AccuracyFull,
		location.AccuracyReduced,
		location.AccuracyDenied,
	}
)

var (
	countSessions uint64
	countShown    uint64
	countNoFill   uint64
	countErrors   uint64
	countRewards  uint64
)

type permission location.Accuracy

func (p permission) Query(context.Context) (location.Accuracy, error) {
	return location.Accuracy(p), nil
}

// simDelegate turns adapter callbacks into a channel of terminal events.
type simDelegate struct {
	events chan string
}

func (d *simDelegate) DidLoad(models.AdKind) { d.events <- "loaded" }
func (d *simDelegate) DidFailToLoad(_ models.AdKind, code mediation.ErrorCode, msg string) {
	if code == mediation.CodeNoFill {
		d.events <- "no_fill"
		return
	}
	d.events <- "load_failed: " + msg
}
func (d *simDelegate) DidOpen(models.AdKind) {}
func (d *simDelegate) DidFailToShow(_ models.AdKind, _ mediation.ErrorCode, msg string) {
	d.events <- "show_failed: " + msg
}
func (d *simDelegate) DidClose(models.AdKind)  { d.events <- "closed" }
func (d *simDelegate) DidClick(models.AdKind)  {}
func (d *simDelegate) DidReward(models.AdKind) { atomic.AddUint64(&countRewards, 1) }

func (d *simDelegate) wait(ctx context.Context) string {
	select {
	case ev := <-d.events:
		return ev
	case <-ctx.Done():
		return "timeout"
	}
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "sandbox base URL")
	flag.IntVar(&sessions, "sessions", 100, "total ad sessions to run")
	flag.IntVar(&conc, "concurrency", 10, "concurrent devices")
	flag.StringVar(&appID, "app-id", "sim-app", "publisher app id")
	flag.StringVar(&cpmFloor, "cpm-floor", "1.25", "cpm floor passed at init")
	flag.Float64Var(&rewardedShare, "rewarded", 0.5, "share of rewarded sessions")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.DurationVar(&sessionWait, "session-timeout", 30*time.Second, "max duration of one session")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	cfg := config.Load()
	base := strings.TrimRight(server, "/")
	cfg.AdsURL = base + "/ad"
	cfg.MetricsURL = base + "/metrics"
	cfg.CreativeURL = base
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/creative/ws"

	var geo *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		if geo, err = geoip.Init(cfg.GeoIPDB); err != nil {
			logger.Fatal("load geoip db", zap.Error(err))
		}
		defer func() { _ = geo.Close() }()
	}

	var cache location.Cache
	if cfg.LocationCache == "redis" {
		store, err := db.InitRedis(context.Background(), cfg.RedisAddr)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer store.Close()
		cache = store
	}

	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 7))
	var rmu sync.Mutex
	pick := func(n int) int {
		rmu.Lock()
		defer rmu.Unlock()
		return r.IntN(n)
	}
	rewarded := func() bool {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Float64() < rewardedShare
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSessions, 1)

			ip := net.ParseIP(userIPs[pick(len(userIPs))])
			kind := models.AdKindInterstitial
			if rewarded() {
				kind = models.AdKindRewarded
			}
			locDeps := location.Deps{
				Permission: permission(accuracies[pick(len(accuracies))]),
				Cache:      cache,
				Timeout:    5 * time.Second,
			}
			if geo != nil {
				loc := geoip.NewLocator(geo, geoip.StaticIP(ip))
				locDeps.Locator, locDeps.Geocoder = loc, loc
			}

			delegate := &simDelegate{events: make(chan string, 4)}
			adapter := mediation.NewAdapter(mediation.Deps{
				Engine:   cfg,
				Fs:       afero.NewMemMapFs(),
				Logger:   logger,
				Surfaces: creative.RemoteFactory(wsURL, logger),
				Location: locDeps,
			}, delegate)
			defer func() { _ = adapter.Close() }()

			ctx, cancel := context.WithTimeout(context.Background(), sessionWait)
			defer cancel()
			if err := adapter.Init(ctx, mediation.Config{
				AppID:    appID,
				CPMFloor: cpmFloor,
				Device: models.DeviceInfo{
					BundleID:  "com.tempo.simulator",
					UserAgent: userAgents[pick(len(userAgents))],
					Country:   "US",
				},
				Consent: true,
			}); err != nil {
				atomic.AddUint64(&countErrors, 1)
				logger.Error("adapter init", zap.Error(err))
				return
			}

			adapter.LoadAd(ctx, kind, fmt.Sprintf("placement-%d", i%3))
			switch ev := delegate.wait(ctx); ev {
			case "loaded":
			case "no_fill":
				atomic.AddUint64(&countNoFill, 1)
				return
			default:
				atomic.AddUint64(&countErrors, 1)
				logger.Warn("load", zap.String("outcome", ev))
				return
			}

			adapter.ShowAd(ctx, kind, "simulator")
			if ev := delegate.wait(ctx); ev != "closed" {
				atomic.AddUint64(&countErrors, 1)
				logger.Warn("show", zap.String("outcome", ev))
				return
			}
			atomic.AddUint64(&countShown, 1)
			logger.Debug("session", zap.Int("n", i), zap.String("kind", string(kind)), zap.String("ip", ip.String()))
		}(i)
	}
	wg.Wait()
	printStats()
}

func printStats() {
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sessions", atomic.LoadUint64(&countSessions)),
		zap.Uint64("shown", atomic.LoadUint64(&countShown)),
		zap.Uint64("no_fill", atomic.LoadUint64(&countNoFill)),
		zap.Uint64("rewards", atomic.LoadUint64(&countRewards)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)))
}
