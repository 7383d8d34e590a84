// Package location resolves the device's location consent level and coarse
// region, and caches the last good profile for future sessions.
package location

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
)

// State is the progress of location resolution.
type State int

const (
	StateUnchecked State = iota
	StateChecking
	StateChecked
	StateFailed
	StateUnavailable
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUnchecked:
		return "unchecked"
	case StateChecking:
		return "checking"
	case StateChecked:
		return "checked"
	case StateFailed:
		return "failed"
	case StateUnavailable:
		return "unavailable"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// Terminal reports whether no resolution is in progress or outstanding.
func (s State) Terminal() bool {
	return s != StateUnchecked && s != StateChecking
}

// Accuracy is the platform's answer to a location permission query.
type Accuracy int

const (
	AccuracyUndetermined Accuracy = iota
	AccuracyDenied
	AccuracyRestricted
	AccuracyUnsupported
	AccuracyReduced
	AccuracyFull
)

// ErrCacheMiss is returned by a Cache holding no profile.
var ErrCacheMiss = errors.New("location profile not cached")

// Permission queries the platform's location authorization.
type Permission interface {
	Query(ctx context.Context) (Accuracy, error)
}

// Fix is a one-shot coordinate fix. IP is set by locators that derive the
// position from the device's public address.
type Fix struct {
	Latitude  float64
	Longitude float64
	IP        net.IP
}

// Locator obtains a single coordinate fix.
type Locator interface {
	Fix(ctx context.Context) (Fix, error)
}

// Geocoder turns a fix into region fields.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, fix Fix) (models.Placemark, error)
}

// Cache is the single-slot durable store of the last good snapshot.
type Cache interface {
	Load(ctx context.Context) (models.LocationSnapshot, error)
	Save(ctx context.Context, snapshot models.LocationSnapshot) error
}

// SettledFunc is called with the latest snapshot once resolution reaches a
// terminal state.
type SettledFunc func(snapshot models.LocationSnapshot, state State)

// Deps groups the platform collaborators of a Resolver. Locator and Geocoder
// may be nil, in which case only the consent level is resolved.
type Deps struct {
	Permission Permission
	Locator    Locator
	Geocoder   Geocoder
	Cache      Cache
	// Timeout bounds a whole resolution. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Resolver owns the location profile state machine. It is safe for use from
// multiple goroutines.
type Resolver struct {
	deps    Deps
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu       sync.Mutex
	state    State
	snapshot models.LocationSnapshot
	loaded   bool
	waiters  []SettledFunc
}

// NewResolver creates a Resolver in the unchecked state.
func NewResolver(deps Deps, logger *zap.Logger, metrics observability.MetricsRegistry) *Resolver {
	return &Resolver{
		deps:     deps,
		logger:   logger.Named("location"),
		metrics:  metrics,
		snapshot: models.EmptySnapshot(),
	}
}

// Snapshot returns the current profile, loading the cached one on first use.
func (r *Resolver) Snapshot() models.LocationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadCachedLocked(context.Background())
	return r.snapshot
}

// State returns the current resolution state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Timeout returns the bound applied to each resolution.
func (r *Resolver) Timeout() time.Duration {
	return r.deps.Timeout
}

// Pending reports whether resolution has not reached a terminal state yet.
func (r *Resolver) Pending() bool {
	return !r.State().Terminal()
}

// OnSettled registers fn to be called once a terminal state is reached. If the
// resolver is already terminal fn is called immediately on the caller's goroutine.
func (r *Resolver) OnSettled(fn SettledFunc) {
	r.mu.Lock()
	if r.state.Terminal() {
		snap, state := r.snapshot, r.state
		r.mu.Unlock()
		fn(snap, state)
		return
	}
	r.waiters = append(r.waiters, fn)
	r.mu.Unlock()
}

// Disable stops all location work for the lifetime of the resolver and
// redacts the profile. Held waiters are released.
func (r *Resolver) Disable() {
	r.mu.Lock()
	if r.state == StateDisabled {
		r.mu.Unlock()
		return
	}
	r.state = StateDisabled
	r.loaded = true
	r.snapshot = models.EmptySnapshot()
	waiters := r.takeWaitersLocked()
	snap := r.snapshot
	r.mu.Unlock()

	r.logger.Info("location resolution disabled")
	r.metrics.IncrementLocationResolutions(StateDisabled.String())
	notify(waiters, snap, StateDisabled)
}

// Resolve queries consent and accuracy in a new goroutine and, when consent is
// granted, geocodes a one-shot fix. completion (which may be nil) runs once
// the resolver settles. A call made while a resolution is in flight only
// registers completion.
func (r *Resolver) Resolve(ctx context.Context, completion SettledFunc) {
	r.mu.Lock()
	switch r.state {
	case StateDisabled:
		snap := r.snapshot
		r.mu.Unlock()
		if completion != nil {
			completion(snap, StateDisabled)
		}
		return
	case StateChecking:
		if completion != nil {
			r.waiters = append(r.waiters, completion)
		}
		r.mu.Unlock()
		return
	}
	r.loadCachedLocked(ctx)
	r.state = StateChecking
	if completion != nil {
		r.waiters = append(r.waiters, completion)
	}
	r.mu.Unlock()

	go r.run(ctx)
}

func (r *Resolver) run(ctx context.Context) {
	if r.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deps.Timeout)
		defer cancel()
	}

	if r.deps.Permission == nil {
		r.settle(ctx, StateUnavailable, models.EmptySnapshot(), true)
		return
	}
	accuracy, err := r.deps.Permission.Query(ctx)
	if err != nil {
		r.logger.Warn("location permission query failed", zap.Error(err))
		r.settle(ctx, StateFailed, r.current(), false)
		return
	}

	var consent models.ConsentLevel
	switch accuracy {
	case AccuracyFull:
		consent = models.ConsentPrecise
	case AccuracyReduced:
		consent = models.ConsentGeneral
	default:
		r.settle(ctx, StateUnavailable, models.EmptySnapshot(), true)
		return
	}

	snap := r.current()
	snap.Consent = consent
	if r.deps.Locator == nil || r.deps.Geocoder == nil {
		r.settle(ctx, StateChecked, snap, true)
		return
	}

	fix, err := r.deps.Locator.Fix(ctx)
	if err != nil {
		r.logger.Warn("location fix failed", zap.Error(err))
		r.settle(ctx, StateFailed, snap, false)
		return
	}
	placemark, err := r.deps.Geocoder.ReverseGeocode(ctx, fix)
	if err != nil {
		r.logger.Warn("reverse geocode failed", zap.Error(err))
		r.settle(ctx, StateFailed, snap, false)
		return
	}
	r.settle(ctx, StateChecked, snap.WithPlacemark(placemark), true)
}

func (r *Resolver) current() models.LocationSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// settle records the outcome of a resolution and releases waiters. A resolver
// disabled in the meantime stays disabled and keeps its redacted snapshot.
func (r *Resolver) settle(ctx context.Context, state State, snap models.LocationSnapshot, persist bool) {
	snap = snap.Redacted()

	r.mu.Lock()
	if r.state == StateDisabled {
		r.mu.Unlock()
		return
	}
	r.state = state
	r.snapshot = snap
	waiters := r.takeWaitersLocked()
	r.mu.Unlock()

	if persist && r.deps.Cache != nil {
		if err := r.deps.Cache.Save(ctx, snap); err != nil {
			r.logger.Warn("failed to cache location profile", zap.Error(err))
		}
	}

	r.logger.Debug("location resolved",
		zap.String("state", state.String()),
		zap.String("consent", string(snap.Consent)))
	r.metrics.IncrementLocationResolutions(state.String())
	notify(waiters, snap, state)
}

func (r *Resolver) loadCachedLocked(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true
	if r.deps.Cache == nil {
		return
	}
	snap, err := r.deps.Cache.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn("failed to load cached location profile", zap.Error(err))
		}
		return
	}
	r.snapshot = snap.Redacted()
}

func (r *Resolver) takeWaitersLocked() []SettledFunc {
	w := r.waiters
	r.waiters = nil
	return w
}

func notify(waiters []SettledFunc, snap models.LocationSnapshot, state State) {
	for _, fn := range waiters {
		fn(snap, state)
	}
}
