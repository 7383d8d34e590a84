// Package mediation adapts the engine to a mediation platform: it validates
// the platform's configuration, wires the engine components and forwards the
// platform's lifecycle hooks to one session controller per ad kind.
package mediation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/adserver"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/backup"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/config"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/creative"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/location"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/reporter"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/session"
)

var (
	ErrMissingAppID   = errors.New("missing app id")
	ErrNotInitialized = errors.New("adapter not initialized")
)

// Config is the configuration handed over by the mediation platform.
type Config struct {
	AppID string
	// CPMFloor is a decimal string. Invalid or absent values mean zero.
	CPMFloor    string
	Device      models.DeviceInfo
	GeoTag      string
	Consent     bool
	ConsentType string
}

// Deps holds everything the adapter needs from its host process.
type Deps struct {
	Engine   config.Config
	Fs       afero.Fs
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  observability.MetricsRegistry
	Surfaces creative.Factory
	// Fetcher overrides the HTTP ads client.
	Fetcher session.Fetcher
	// Location supplies the resolver's platform collaborators. A nil Cache
	// falls back to a file cache on Fs and a zero Timeout to
	// Engine.LocationTimeout.
	Location location.Deps
	// Backup is the process-wide backup store. Adapters sharing a host
	// process should share it; nil builds one from Engine.
	Backup *backup.Store
}

// NewBackupStore builds the backup store described by cfg.
func NewBackupStore(cfg config.Config, fs afero.Fs, clk clock.Clock, logger *zap.Logger, metrics observability.MetricsRegistry) *backup.Store {
	return backup.NewStore(fs, backup.Options{
		Dir:                  cfg.BackupDir,
		MaxRecords:           cfg.BackupMaxRecords,
		Retention:            cfg.BackupRetention,
		ResendOncePerProcess: cfg.BackupResendOnce,
	}, clk, logger, metrics)
}

// ParseCPMFloor parses a cpm floor string. Invalid, negative or empty input
// yields zero.
func ParseCPMFloor(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Adapter implements the mediation platform hooks.
type Adapter struct {
	deps     Deps
	delegate Delegate
	logger   *zap.Logger

	mu          sync.Mutex
	initErr     error
	cpmFloor    decimal.Decimal
	controllers map[models.AdKind]*session.Controller
	store       *backup.Store
	reporter    *reporter.Reporter
	resolver    *location.Resolver
	bg          sync.WaitGroup
}

// NewAdapter creates an adapter reporting to delegate.
func NewAdapter(deps Deps, delegate Delegate) *Adapter {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpRegistry()
	}
	if deps.Backup == nil {
		deps.Backup = NewBackupStore(deps.Engine, deps.Fs, deps.Clock, deps.Logger, deps.Metrics)
	}
	return &Adapter{
		deps:     deps,
		delegate: delegate,
		logger:   deps.Logger.Named("mediation"),
		initErr:  ErrNotInitialized,
	}
}

// Init validates cfg and starts the engine: location resolution and the
// one-shot resend of backed up metrics run in the background.
func (a *Adapter) Init(ctx context.Context, cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.controllers != nil {
		return nil
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		a.initErr = ErrMissingAppID
		a.logger.Error("init failed", zap.Error(ErrMissingAppID))
		return ErrMissingAppID
	}

	eng := a.deps.Engine
	a.cpmFloor = ParseCPMFloor(cfg.CPMFloor)
	a.store = a.deps.Backup
	a.reporter = reporter.New(reporter.Options{
		URL:            eng.MetricsURL,
		Timeout:        eng.MetricsTimeout,
		RejectStatuses: eng.MetricsRejectStatuses,
	}, a.store, a.deps.Clock, a.deps.Logger, a.deps.Metrics)

	locDeps := a.deps.Location
	if locDeps.Cache == nil {
		locDeps.Cache = location.NewFileCache(a.deps.Fs, eng.LocationFile)
	}
	if locDeps.Timeout <= 0 {
		locDeps.Timeout = eng.LocationTimeout
	}
	a.resolver = location.NewResolver(locDeps, a.deps.Logger, a.deps.Metrics)

	fetcher := a.deps.Fetcher
	if fetcher == nil {
		fetcher = adserver.NewClient(eng.AdsURL, eng.FetchTimeout, a.deps.Logger, a.deps.Metrics)
	}

	a.controllers = make(map[models.AdKind]*session.Controller, 2)
	for _, kind := range []models.AdKind{models.AdKindInterstitial, models.AdKindRewarded} {
		a.controllers[kind] = session.New(session.Options{
			Kind:           kind,
			AppID:          cfg.AppID,
			CreativeURL:    eng.CreativeURL,
			SDKVersion:     eng.SDKVersion,
			AdapterVersion: eng.AdapterVersion,
			AdapterType:    eng.AdapterType,
			Device:         cfg.Device,
			GeoTag:         cfg.GeoTag,
			Consent:        cfg.Consent,
			ConsentType:    cfg.ConsentType,
			FetchTimeout:   eng.FetchTimeout,
			MetricsTimeout: eng.MetricsTimeout,
		}, session.Deps{
			Fetcher:  fetcher,
			Surfaces: a.deps.Surfaces,
			Reporter: a.reporter,
			Location: a.resolver,
			Listener: &kindListener{kind: kind, delegate: a.delegate},
			Clock:    a.deps.Clock,
			Logger:   a.deps.Logger,
			Metrics:  a.deps.Metrics,
		})
	}
	a.initErr = nil

	if eng.LocationEnabled {
		a.resolver.Resolve(context.WithoutCancel(ctx), nil)
	} else {
		a.resolver.Disable()
	}
	if eng.BackupResendOnLaunch {
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			cleared := a.reporter.ResendBackups(context.WithoutCancel(ctx))
			a.logger.Info("backup resend finished", zap.Int("cleared", cleared))
		}()
	}

	a.logger.Info("adapter initialized",
		zap.String("app_id", cfg.AppID),
		zap.String("cpm_floor", a.cpmFloor.String()),
		zap.String("environment", string(eng.Environment)))
	return nil
}

func (a *Adapter) controller(kind models.AdKind) (*session.Controller, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initErr != nil {
		return nil, a.initErr
	}
	c, ok := a.controllers[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported ad kind %q", kind)
	}
	return c, nil
}

// LoadAd starts loading an ad of kind. The outcome is reported to the delegate.
func (a *Adapter) LoadAd(ctx context.Context, kind models.AdKind, placementID string) {
	c, err := a.controller(kind)
	if err != nil {
		a.delegate.DidFailToLoad(kind, codeFor(err), err.Error())
		return
	}
	a.mu.Lock()
	floor := a.cpmFloor
	a.mu.Unlock()

	err = c.LoadAd(ctx, session.LoadRequest{CPMFloor: floor, PlacementID: placementID})
	// other load errors were already delivered through the listener
	if errors.Is(err, session.ErrSessionActive) || errors.Is(err, session.ErrClosed) {
		a.delegate.DidFailToLoad(kind, codeFor(err), err.Error())
	}
}

// IsAdAvailable reports whether an ad of kind is ready to show.
func (a *Adapter) IsAdAvailable(kind models.AdKind) bool {
	c, err := a.controller(kind)
	if err != nil {
		return false
	}
	return c.IsAdAvailable()
}

// ShowAd presents the ready ad of kind in host.
func (a *Adapter) ShowAd(ctx context.Context, kind models.AdKind, host creative.Host) {
	c, err := a.controller(kind)
	if err != nil {
		a.delegate.DidFailToShow(kind, codeFor(err), err.Error())
		return
	}
	err = c.ShowAd(ctx, host)
	if errors.Is(err, session.ErrNotReady) || errors.Is(err, session.ErrClosed) {
		a.delegate.DidFailToShow(kind, codeFor(err), err.Error())
	}
}

// Close stops every controller and waits for background work.
func (a *Adapter) Close() error {
	a.mu.Lock()
	controllers := a.controllers
	a.controllers = nil
	a.initErr = ErrNotInitialized
	a.mu.Unlock()

	for _, c := range controllers {
		_ = c.Close()
	}
	a.bg.Wait()
	return nil
}

// Resolver exposes the location resolver, e.g. to disable tracking at runtime.
func (a *Adapter) Resolver() *location.Resolver {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolver
}
