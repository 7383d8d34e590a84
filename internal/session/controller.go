// Package session implements the ad session controller: the state machine
// driving one ad from fetch through render, show and close, and the metric
// buffer that records each transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/adserver"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/creative"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/location"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/observability"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/reporter"
)

var (
	ErrSessionActive      = errors.New("session already active")
	ErrNotReady           = errors.New("ad not ready")
	ErrSurfaceUnavailable = errors.New("render surface unavailable")
	ErrNoFill             = errors.New("no fill")
	ErrClosed             = errors.New("controller closed")
	ErrInvalidResponse    = adserver.ErrInvalidResponse
)

// State is the externally visible controller state.
type State string

const (
	StateDormant State = "dormant"
	StateLoading State = "loading"
	StateShowing State = "showing"
)

// Fetcher requests ad decisions.
type Fetcher interface {
	Fetch(ctx context.Context, req adserver.Request) (models.AdResponse, error)
}

// Flusher delivers metric batches, backing them up when delivery fails.
type Flusher interface {
	Flush(ctx context.Context, batch models.MetricBatch) reporter.Outcome
}

// LocationSource supplies the location profile attached to each metric.
type LocationSource interface {
	Snapshot() models.LocationSnapshot
	Pending() bool
	OnSettled(fn location.SettledFunc)
}

// Listener receives session callbacks in order on a dedicated goroutine.
// Callbacks may call back into the controller.
type Listener interface {
	OnLoadSucceeded()
	OnLoadFailed(err error)
	OnDisplayed()
	OnShowFailed(err error)
	OnClosed()
	OnClicked()
	// OnRewarded fires for rewarded sessions when the creative's timer completes.
	OnRewarded()
}

// Options configures a Controller.
type Options struct {
	Kind           models.AdKind
	AppID          string
	CreativeURL    string
	SDKVersion     string
	AdapterVersion string
	AdapterType    string
	Device         models.DeviceInfo
	GeoTag         string
	// Consent is the host's data-use consent flag reported with each metric.
	Consent     bool
	ConsentType string
	// FetchTimeout bounds the ad fetch. Zero means no bound.
	FetchTimeout time.Duration
	// MetricsTimeout bounds each metrics flush. Zero means no bound.
	MetricsTimeout time.Duration
	NewSessionID   func() string
}

// Deps groups the collaborators of a Controller. Location and Listener may be nil.
type Deps struct {
	Fetcher  Fetcher
	Surfaces creative.Factory
	Reporter Flusher
	Location LocationSource
	Listener Listener
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  observability.MetricsRegistry
}

// LoadRequest holds the per-load parameters.
type LoadRequest struct {
	CPMFloor    decimal.Decimal
	PlacementID string
}

type phase int

const (
	phaseNone phase = iota
	phaseLoading
	phaseReady
	phaseShowing
)

type adSession struct {
	id          string
	campaignID  string
	placementID string
	cpm         decimal.Decimal
}

// sessionState is the tagged session variant. session and surface are set
// exactly when phase is not phaseNone.
type sessionState struct {
	phase   phase
	session *adSession
	surface creative.Surface
}

// Controller owns one ad session at a time. All state lives on a single loop
// goroutine; exported methods post to it and wait for the result.
type Controller struct {
	opts    Options
	deps    Deps
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	ops     chan func()
	quit    chan struct{}
	done    chan struct{}
	sends   chan models.MetricBatch
	sent    chan struct{}
	notices chan func(Listener)

	closeOnce sync.Once

	// owned by the loop goroutine
	st             sessionState
	buffer         models.MetricBatch
	held           models.MetricBatch
	awaitingSettle bool
	cancelFetch    context.CancelFunc
}

// New creates a controller and starts its loop.
func New(opts Options, deps Deps) *Controller {
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
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
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:    opts,
		deps:    deps,
		logger:  deps.Logger.Named("session").With(zap.String("kind", string(opts.Kind))),
		ctx:     ctx,
		cancel:  cancel,
		ops:     make(chan func(), 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		sends:   make(chan models.MetricBatch, 64),
		sent:    make(chan struct{}),
		notices: make(chan func(Listener), 64),
	}
	go c.loop()
	go c.sender()
	go c.dispatch()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) sender() {
	defer close(c.sent)
	for batch := range c.sends {
		ctx, cancel := c.flushContext()
		outcome := c.deps.Reporter.Flush(ctx, batch)
		cancel()
		c.logger.Debug("metrics flushed",
			zap.Int("count", len(batch)),
			zap.String("outcome", outcome.String()))
	}
}

func (c *Controller) flushContext() (context.Context, context.CancelFunc) {
	if c.opts.MetricsTimeout > 0 {
		return context.WithTimeout(context.Background(), c.opts.MetricsTimeout)
	}
	return context.WithCancel(context.Background())
}

func (c *Controller) dispatch() {
	for fn := range c.notices {
		if c.deps.Listener != nil {
			fn(c.deps.Listener)
		}
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.ops <- func() { fn(); close(finished) }:
	case <-c.quit:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post queues fn on the loop without waiting. It is a no-op after Close.
func (c *Controller) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.quit:
	}
}

func (c *Controller) notify(fn func(Listener)) {
	c.notices <- fn
}

// LoadAd starts a new session. It fails with ErrSessionActive unless the
// controller is dormant, and with ErrSurfaceUnavailable (after the failure
// callback) when no rendering surface can be built. Fetch outcomes are
// reported through the Listener.
func (c *Controller) LoadAd(ctx context.Context, req LoadRequest) error {
	var err error
	if derr := c.do(func() { err = c.load(ctx, req) }); derr != nil {
		return derr
	}
	return err
}

// IsAdAvailable reports whether a loaded ad is waiting to be shown.
func (c *Controller) IsAdAvailable() bool {
	var ready bool
	_ = c.do(func() { ready = c.st.phase == phaseReady })
	c.logger.Debug("ad availability checked", zap.Bool("ready", ready))
	return ready
}

// State returns the externally visible state.
func (c *Controller) State() State {
	var s State
	if err := c.do(func() { s = c.st.phase.external() }); err != nil {
		return StateDormant
	}
	return s
}

// ShowAd presents the ready ad in host.
func (c *Controller) ShowAd(_ context.Context, host creative.Host) error {
	var err error
	if derr := c.do(func() { err = c.show(host) }); derr != nil {
		return derr
	}
	return err
}

// CloseAd ends the current session. It is a no-op when dormant.
func (c *Controller) CloseAd() error {
	return c.do(c.closeAd)
}

// Buffered returns the number of metrics waiting for a flush and the number
// held until location resolution settles.
func (c *Controller) Buffered() (buffered, held int) {
	_ = c.do(func() { buffered, held = len(c.buffer), len(c.held) })
	return buffered, held
}

// Close tears down any active session, cancels in-flight work, flushes
// buffered metrics and stops the controller. Held metrics are flushed with
// the current location profile.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		_ = c.do(func() {
			if c.st.phase != phaseNone {
				c.teardown()
			}
			if len(c.held) > 0 {
				c.release(c.currentSnapshot())
			}
			c.flush()
		})
		c.cancel()
		close(c.quit)
		<-c.done
		close(c.sends)
		<-c.sent
		close(c.notices)
	})
	return nil
}

func (p phase) external() State {
	switch p {
	case phaseLoading, phaseReady:
		return StateLoading
	case phaseShowing:
		return StateShowing
	}
	return StateDormant
}

func (c *Controller) transition(p phase) {
	c.st.phase = p
	c.deps.Metrics.IncrementSessionTransitions(string(c.opts.Kind), string(p.external()))
}

func (c *Controller) load(ctx context.Context, req LoadRequest) error {
	if c.st.phase != phaseNone {
		return ErrSessionActive
	}
	id := c.opts.NewSessionID()
	surface, err := c.newSurface(ctx, id)
	if err != nil {
		c.logger.Warn("render surface unavailable", zap.Error(err))
		failure := fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
		c.notify(func(l Listener) { l.OnLoadFailed(failure) })
		return failure
	}

	s := &adSession{id: id, placementID: req.PlacementID, cpm: req.CPMFloor}
	c.st = sessionState{session: s, surface: surface}
	c.transition(phaseLoading)
	c.logger.Info("loading ad",
		zap.String("session_id", id),
		zap.String("cpm_floor", req.CPMFloor.String()))
	c.record(models.MetricLoadRequest)

	var fetchCtx context.Context
	if c.opts.FetchTimeout > 0 {
		fetchCtx, c.cancelFetch = context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	} else {
		fetchCtx, c.cancelFetch = context.WithCancel(c.ctx)
	}
	fetchReq := adserver.Request{
		SessionID:      id,
		AdID:           c.opts.Device.AdID,
		AppID:          c.opts.AppID,
		CPMFloor:       req.CPMFloor,
		GeoTag:         c.opts.GeoTag,
		Kind:           c.opts.Kind,
		SDKVersion:     c.opts.SDKVersion,
		AdapterVersion: c.opts.AdapterVersion,
		AdapterType:    c.opts.AdapterType,
	}
	go func() {
		resp, err := c.deps.Fetcher.Fetch(fetchCtx, fetchReq)
		c.post(func() { c.onFetched(id, resp, err) })
	}()
	return nil
}

// newSurface runs the factory on the loop goroutine, bounded by the fetch
// timeout so a slow dial cannot stall other controller calls indefinitely.
func (c *Controller) newSurface(ctx context.Context, id string) (creative.Surface, error) {
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}
	return c.deps.Surfaces(ctx, &surfaceEvents{c: c, sessionID: id})
}

func (c *Controller) current(id string) bool {
	return c.st.session != nil && c.st.session.id == id
}

func (c *Controller) onFetched(id string, resp models.AdResponse, err error) {
	if !c.current(id) || c.st.phase != phaseLoading {
		c.logger.Debug("discarding stale fetch result", zap.String("session_id", id))
		return
	}
	c.stopFetch()

	switch {
	case errors.Is(err, ErrInvalidResponse):
		c.logger.Error("invalid response from ad server", zap.String("session_id", id), zap.Error(err))
		c.failLoad(err, models.MetricLoadFailed)
	case err != nil:
		c.logger.Warn("ad fetch failed", zap.String("session_id", id), zap.Error(err))
		c.failLoad(err, models.MetricLoadFailed)
	case resp.Status == models.AdStatusNoFill:
		c.logger.Info("no fill", zap.String("session_id", id))
		c.failLoad(ErrNoFill, models.MetricNoFill)
	default:
		c.st.session.campaignID = resp.ID
		url := c.opts.CreativeURL + "/campaign/" + resp.ID + "/" + string(c.opts.Kind)
		if err := c.st.surface.Load(c.ctx, url); err != nil {
			c.failLoad(fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err), models.MetricLoadFailed)
			return
		}
		c.logger.Debug("rendering campaign",
			zap.String("session_id", id),
			zap.String("campaign_id", resp.ID))
	}
}

// failLoad ends a session that never reached showing.
func (c *Controller) failLoad(err error, metric models.MetricType) {
	c.record(metric)
	c.teardown()
	c.notify(func(l Listener) { l.OnLoadFailed(err) })
}

func (c *Controller) show(host creative.Host) error {
	if c.st.phase != phaseReady {
		return ErrNotReady
	}
	if err := c.st.surface.Attach(host); err != nil {
		c.failShow(err)
		return fmt.Errorf("attach surface: %w", err)
	}
	c.transition(phaseShowing)
	c.record(models.MetricShow)
	c.notify(func(l Listener) { l.OnDisplayed() })
	if err := c.st.surface.Play(); err != nil {
		c.failShow(err)
		return fmt.Errorf("play creative: %w", err)
	}
	return nil
}

func (c *Controller) failShow(err error) {
	c.logger.Warn("ad show failed", zap.String("session_id", c.st.session.id), zap.Error(err))
	c.record(models.MetricShowFailed)
	c.notify(func(l Listener) { l.OnShowFailed(err) })
	c.closeAd()
}

func (c *Controller) closeAd() {
	if c.st.phase == phaseNone {
		return
	}
	c.record(models.MetricClose)
	c.teardown()
	c.flush()
	c.notify(func(l Listener) { l.OnClosed() })
}

// teardown releases the surface and returns to dormant.
func (c *Controller) teardown() {
	c.stopFetch()
	if err := c.st.surface.Close(); err != nil {
		c.logger.Debug("surface close failed", zap.Error(err))
	}
	c.st = sessionState{}
	c.transition(phaseNone)
}

func (c *Controller) stopFetch() {
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
}

func (c *Controller) onMessage(id string, msg creative.Message, raw string) {
	c.deps.Metrics.IncrementCreativeMessages(msg.String())
	if !c.current(id) {
		c.logger.Debug("discarding message for stale session", zap.String("message", raw))
		return
	}

	switch {
	case msg.IsReadySignal():
		c.record(models.MetricType(msg.String()))
		if c.st.phase == phaseLoading {
			c.transition(phaseReady)
			c.record(models.MetricLoadSuccess)
			c.notify(func(l Listener) { l.OnLoadSucceeded() })
		}
	case msg == creative.CloseAd:
		c.closeAd()
	case msg == creative.TimerCompleted:
		c.record(models.MetricTimerCompleted)
		if c.opts.Kind == models.AdKindRewarded && c.st.phase == phaseShowing {
			c.notify(func(l Listener) { l.OnRewarded() })
		}
	case msg == creative.Click:
		c.record(models.MetricClicked)
		c.notify(func(l Listener) { l.OnClicked() })
	default:
		c.logger.Warn("unknown creative message",
			zap.String("session_id", id),
			zap.String("message", raw))
	}
}

func (c *Controller) onSurfaceFailure(id string, err error) {
	if !c.current(id) {
		return
	}
	if c.st.phase == phaseShowing {
		c.failShow(err)
		return
	}
	c.logger.Warn("creative failed to load", zap.String("session_id", id), zap.Error(err))
	c.failLoad(fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err), models.MetricLoadFailed)
}

func (c *Controller) currentSnapshot() models.LocationSnapshot {
	if c.deps.Location == nil {
		return models.EmptySnapshot()
	}
	return c.deps.Location.Snapshot().Redacted()
}

func (c *Controller) newMetric(t models.MetricType) models.Metric {
	s := c.st.session
	loc := c.currentSnapshot()
	consentType := c.opts.ConsentType
	if !c.opts.Consent {
		consentType = ""
	}
	return models.Metric{
		MetricType:     t,
		AdID:           c.opts.Device.AdID,
		AppID:          c.opts.AppID,
		Timestamp:      c.deps.Clock.Now().UnixMilli(),
		IsInterstitial: c.opts.Kind.IsInterstitial(),
		BundleID:       c.opts.Device.BundleID,
		CampaignID:     s.campaignID,
		SessionID:      s.id,
		GeoTag:         c.opts.GeoTag,
		CountryCode:    c.opts.Device.Country,
		PlacementID:    s.placementID,
		OS:             models.DeviceString(c.opts.Device.UserAgent),
		SDKVersion:     c.opts.SDKVersion,
		AdapterVersion: c.opts.AdapterVersion,
		CPM:            s.cpm.InexactFloat64(),
		AdapterType:    c.opts.AdapterType,
		Consent:        c.opts.Consent,
		ConsentType:    consentType,
		LocationData:   loc,
	}
}

// record appends a metric for the current session. Metrics captured while
// location resolution is pending with a non-none profile are held until it
// settles, and so is everything recorded after them until they are released;
// lifecycle metrics flush the buffer immediately.
func (c *Controller) record(t models.MetricType) {
	m := c.newMetric(t)
	pending := c.deps.Location != nil && c.deps.Location.Pending() && m.LocationData.Consent != models.ConsentNone
	if pending || len(c.held) > 0 {
		c.held = append(c.held, m)
		c.awaitSettle()
		return
	}
	c.buffer = append(c.buffer, m)
	if t.SendsImmediately() {
		c.flush()
	}
}

func (c *Controller) awaitSettle() {
	if c.awaitingSettle {
		return
	}
	c.awaitingSettle = true
	c.deps.Location.OnSettled(func(snap models.LocationSnapshot, state location.State) {
		// may run on the loop goroutine when already settled
		go c.post(func() {
			c.logger.Debug("location settled, releasing held metrics",
				zap.String("state", state.String()),
				zap.Int("held", len(c.held)))
			c.release(snap)
		})
	})
}

// release rewrites the location of held metrics with snap and flushes them.
func (c *Controller) release(snap models.LocationSnapshot) {
	c.awaitingSettle = false
	snap = snap.Redacted()
	for _, m := range c.held {
		m.LocationData = snap
		c.buffer = append(c.buffer, m)
	}
	c.held = nil
	c.flush()
}

// flush hands the buffer to the sender and starts a new one.
func (c *Controller) flush() {
	if len(c.buffer) == 0 {
		return
	}
	batch := c.buffer
	c.buffer = nil
	c.sends <- batch
}

// surfaceEvents binds surface callbacks to the session that created the surface.
type surfaceEvents struct {
	c         *Controller
	sessionID string
}

func (e *surfaceEvents) OnMessage(msg creative.Message, raw string) {
	e.c.post(func() { e.c.onMessage(e.sessionID, msg, raw) })
}

func (e *surfaceEvents) OnFailure(err error) {
	e.c.post(func() { e.c.onSurfaceFailure(e.sessionID, err) })
}
