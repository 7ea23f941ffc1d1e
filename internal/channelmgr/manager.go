// Package channelmgr implements ChannelManager: the per-channel boundary
// state machine that governs a channel's lifecycle, coordinates
// planning-before-execution lead times during startup convergence, issues
// rate-limited engine RPCs, and arbitrates teardown against transient
// states.
package channelmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/retrovue/core/internal/clock"
	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
	"github.com/retrovue/core/pkg/logger"
)

// Engine is the boundary's RPC surface toward the playout engine. Every
// method corresponds 1:1 to an External Interfaces RPC; success semantics
// are enforced by Manager, not by Engine implementations.
type Engine interface {
	StartChannel(ctx context.Context, channelID model.ID, planHandle string, port int) (success bool, err error)
	LoadPreview(ctx context.Context, channelID model.ID, assetRef model.ID, startOffsetMs, hardStopTimeMs int64) (success bool, err error)
	SwitchToLive(ctx context.Context, channelID model.ID) (success bool, ptsContiguous bool, err error)
	StopChannel(ctx context.Context, channelID model.ID) (success bool, err error)
}

// Config holds the retrovueconfig.Config values the manager consumes, plus
// RPCRateLimitPerSecond and RPCBurst, which have no key in
// retrovueconfig.Config.
type Config struct {
	StartupLatency        time.Duration
	MinPrefeedLeadTime    time.Duration
	TeardownGraceTimeout  time.Duration
	MaxStartupConvergence time.Duration
	RPCTimeout            time.Duration

	// RPCRateLimitPerSecond / RPCBurst bound how often a single channel
	// may issue engine RPCs, guarding against storms during rapid
	// boundary churn. Zero RPCRateLimitPerSecond disables limiting.
	RPCRateLimitPerSecond float64
	RPCBurst              int
}

// Boundary describes the ExecutionEntry a PLANNED state is aiming at.
type Boundary struct {
	AssetRef       model.ID
	StartUTCMs     int64
	HardStopUTCMs  int64
	StartOffsetMs  int64
}

// Manager is the per-channel ChannelManager.
type Manager struct {
	channelID model.ID
	clk       clock.Clock
	engine    Engine
	limiter   *rate.Limiter
	cfg       Config
	log       *logger.Logger

	mu               sync.Mutex
	state            model.BoundaryState
	boundary         *Boundary
	sessionStartedAt int64
	convergenceOpen  bool
	viewerCount      int

	teardownPending     bool
	teardownReason      string
	teardownRequestedAt int64
	teardownCancel      chan struct{}

	started bool
}

// New constructs a Manager for one channel, in state NONE.
func New(channelID model.ID, clk clock.Clock, engine Engine, cfg Config, log *logger.Logger) *Manager {
	var limiter *rate.Limiter
	if cfg.RPCRateLimitPerSecond > 0 {
		burst := cfg.RPCBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPCRateLimitPerSecond), burst)
	}
	if log == nil {
		log = logger.NewDefault("channelmgr")
	}
	return &Manager{
		channelID: channelID,
		clk:       clk,
		engine:    engine,
		limiter:   limiter,
		cfg:       cfg,
		log:       log,
		state:     model.StateNone,
	}
}

// State returns the current boundary state.
func (m *Manager) State() model.BoundaryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsLive reports whether the channel is currently LIVE; external health
// checks may report "up" in any state but "live" only here.
func (m *Manager) IsLive() bool {
	return m.State() == model.StateLive
}

// limitRPC blocks until the channel's RPC rate limiter admits one call, or
// ctx is cancelled first.
func (m *Manager) limitRPC(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	return m.limiter.Wait(ctx)
}

func (m *Manager) rpcContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := m.cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

// Start issues StartChannel, idempotently, and sets the session's MasterClock
// epoch via try_set_epoch_once(..., LIVE). Call once per playout session
// before any boundary work.
func (m *Manager) Start(ctx context.Context, planHandle string, port int) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.sessionStartedAt = m.clk.NowUTCMs()
	m.convergenceOpen = true
	m.mu.Unlock()

	m.clk.TrySetEpochOnce(m.clk.NowUTCMs(), clock.RoleLive)

	if err := m.limitRPC(ctx); err != nil {
		return err
	}
	rctx, cancel := m.rpcContext(ctx)
	defer cancel()
	ok, err := m.engine.StartChannel(rctx, m.channelID, planHandle, port)
	if err != nil || !ok {
		return m.forceFailedTerminal(fmt.Sprintf("StartChannel failed: ok=%v err=%v", ok, err))
	}
	return nil
}

// convergenceDeadline returns the absolute UTC ms after which startup
// infeasibility becomes fatal rather than skip-and-log.
func (m *Manager) convergenceDeadline() int64 {
	window := m.cfg.MaxStartupConvergence
	if window <= 0 {
		window = 30 * time.Second
	}
	return m.sessionStartedAt + int64(window/time.Millisecond)
}

// feasible reports whether boundaryUTCMs satisfies
// INV-SCHED-PLAN-BEFORE-EXEC-001: boundary_time >= now + startup_latency +
// min_prefeed_lead_time.
func (m *Manager) feasible(boundaryUTCMs int64) bool {
	now := m.clk.NowUTCMs()
	lead := int64((m.cfg.StartupLatency + m.cfg.MinPrefeedLeadTime) / time.Millisecond)
	return boundaryUTCMs >= now+lead
}

// ChooseBoundary transitions NONE|LIVE -> PLANNED, selecting the next
// ExecutionEntry to prefeed. An infeasible boundary is skipped (logged,
// non-fatal) during startup convergence; after the convergence window
// closes with no feasible boundary ever chosen, it is fatal.
func (m *Manager) ChooseBoundary(ctx context.Context, b Boundary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !model.CanTransition(from, model.StatePlanned) {
		return m.illegalLocked(from, model.StatePlanned)
	}

	if !m.feasible(b.StartUTCMs) {
		now := m.clk.NowUTCMs()
		if m.convergenceOpen && now < m.convergenceDeadline() {
			m.log.WithField("channel_id", m.channelID).
				WithField("boundary_utc_ms", b.StartUTCMs).
				Info("skipping infeasible boundary during startup convergence")
			return nil
		}
		return m.forceFailedTerminalLocked("no feasible boundary within startup convergence window")
	}

	m.convergenceOpen = false
	m.boundary = &b
	m.state = model.StatePlanned
	return nil
}

// IssuePreload transitions PLANNED -> PRELOAD_ISSUED by calling LoadPreview.
func (m *Manager) IssuePreload(ctx context.Context) error {
	m.mu.Lock()
	from := m.state
	if !model.CanTransition(from, model.StatePreloadIssued) {
		err := m.illegalLocked(from, model.StatePreloadIssued)
		m.mu.Unlock()
		return err
	}
	b := *m.boundary
	m.mu.Unlock()

	if err := m.limitRPC(ctx); err != nil {
		return err
	}
	rctx, cancel := m.rpcContext(ctx)
	defer cancel()
	ok, err := m.engine.LoadPreview(rctx, m.channelID, b.AssetRef, b.StartOffsetMs, b.HardStopUTCMs)
	if err != nil || !ok {
		return m.forceFailedTerminal(fmt.Sprintf("LoadPreview failed: ok=%v err=%v", ok, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !model.CanTransition(m.state, model.StatePreloadIssued) {
		return m.illegalLocked(m.state, model.StatePreloadIssued)
	}
	m.state = model.StatePreloadIssued
	return nil
}

// AckPreviewReady transitions PRELOAD_ISSUED -> SWITCH_SCHEDULED on the
// engine's preview-ready acknowledgment.
func (m *Manager) AckPreviewReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.state
	if !model.CanTransition(from, model.StateSwitchScheduled) {
		return m.illegalLocked(from, model.StateSwitchScheduled)
	}
	m.state = model.StateSwitchScheduled
	return nil
}

// IssueSwitch transitions SWITCH_SCHEDULED -> SWITCH_ISSUED by calling
// SwitchToLive at the boundary deadline.
func (m *Manager) IssueSwitch(ctx context.Context) error {
	m.mu.Lock()
	from := m.state
	if !model.CanTransition(from, model.StateSwitchIssued) {
		err := m.illegalLocked(from, model.StateSwitchIssued)
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if err := m.limitRPC(ctx); err != nil {
		return err
	}
	rctx, cancel := m.rpcContext(ctx)
	defer cancel()
	ok, _, err := m.engine.SwitchToLive(rctx, m.channelID)
	if err != nil || !ok {
		return m.forceFailedTerminal(fmt.Sprintf("SwitchToLive failed: ok=%v err=%v", ok, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !model.CanTransition(m.state, model.StateSwitchIssued) {
		return m.illegalLocked(m.state, model.StateSwitchIssued)
	}
	m.state = model.StateSwitchIssued
	return nil
}

// ConfirmLive transitions SWITCH_ISSUED -> LIVE on the engine's confirmed
// swap (via evidence or RPC response). Any teardown that arrived while the
// boundary was mid-transition executes immediately now that the state is
// stable again.
func (m *Manager) ConfirmLive(ctx context.Context) error {
	m.mu.Lock()
	from := m.state
	if !model.CanTransition(from, model.StateLive) {
		err := m.illegalLocked(from, model.StateLive)
		m.mu.Unlock()
		return err
	}
	m.state = model.StateLive
	pending := m.teardownPending
	reason := m.teardownReason
	m.mu.Unlock()

	if pending {
		return m.executeTeardown(ctx, reason)
	}
	return nil
}

// NextBoundary transitions LIVE -> PLANNED once the following boundary has
// been identified.
func (m *Manager) NextBoundary(ctx context.Context, b Boundary) error {
	return m.ChooseBoundary(ctx, b)
}

// ViewerCountChanged records the channel's current viewer count. Reaching
// zero requests teardown advisorily; it never forces teardown during a
// transient state.
func (m *Manager) ViewerCountChanged(ctx context.Context, count int) error {
	m.mu.Lock()
	m.viewerCount = count
	m.mu.Unlock()
	if count == 0 {
		return m.RequestTeardown(ctx, "viewer_count_zero")
	}
	return nil
}

// RequestTeardown executes teardown immediately in a stable state, or marks
// it pending in a transient state (arbitrated against in-flight boundary
// work). A grace timer forces FAILED_TERMINAL if the state is still
// transient after TeardownGraceTimeout.
func (m *Manager) RequestTeardown(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.state.Stable() {
		m.mu.Unlock()
		return m.executeTeardown(ctx, reason)
	}
	if m.teardownPending {
		m.mu.Unlock()
		return nil
	}
	m.teardownPending = true
	m.teardownReason = reason
	m.teardownRequestedAt = m.clk.NowUTCMs()
	cancel := make(chan struct{})
	m.teardownCancel = cancel
	m.mu.Unlock()

	go m.watchTeardownGrace(cancel)
	return nil
}

func (m *Manager) watchTeardownGrace(cancel chan struct{}) {
	grace := m.cfg.TeardownGraceTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	m.mu.Lock()
	deadline := m.teardownRequestedAt + int64(grace/time.Millisecond)
	m.mu.Unlock()

	if !m.clk.WaitUntilUTCMs(deadline, cancel) {
		return // cancelled: the state became stable (or FAILED_TERMINAL) before grace expired
	}

	m.mu.Lock()
	stillTransient := m.state.Transient() && m.teardownPending
	m.mu.Unlock()
	if stillTransient {
		m.forceFailedTerminal("teardown grace timeout exceeded while boundary state remained transient")
	}
}

// executeTeardown stops the channel at the engine and clears teardown
// bookkeeping. It does not itself change BoundaryState: a torn-down
// channel's next lifecycle event is a fresh Start/ChooseBoundary sequence.
func (m *Manager) executeTeardown(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.teardownPending = false
	m.teardownReason = ""
	if m.teardownCancel != nil {
		close(m.teardownCancel)
		m.teardownCancel = nil
	}
	m.mu.Unlock()

	if err := m.limitRPC(ctx); err != nil {
		return err
	}
	rctx, cancel := m.rpcContext(ctx)
	defer cancel()
	_, err := m.engine.StopChannel(rctx, m.channelID)
	if err != nil {
		m.log.WithField("channel_id", m.channelID).WithError(err).Warn("StopChannel RPC failed during teardown")
	}
	m.log.WithField("channel_id", m.channelID).WithField("reason", reason).Info("teardown executed")
	return nil
}

// illegalLocked records a boundary_transition_violation and forces
// FAILED_TERMINAL; callers must hold m.mu.
func (m *Manager) illegalLocked(from, to model.BoundaryState) error {
	err := retrovueerr.New(retrovueerr.CodeBoundaryTransition, "Manager.transition",
		fmt.Sprintf("illegal transition %s -> %s", from, to))
	m.log.WithField("channel_id", m.channelID).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Warn("rejected illegal boundary transition")
	return m.forceFailedTerminalLocked(err.Error())
}

// forceFailedTerminal forces the channel into FAILED_TERMINAL, cancelling
// every transient timer (currently: the teardown grace watcher).
func (m *Manager) forceFailedTerminal(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forceFailedTerminalLocked(reason)
}

func (m *Manager) forceFailedTerminalLocked(reason string) error {
	if m.state == model.StateFailedTerminal {
		return retrovueerr.New(retrovueerr.CodeBoundaryTransition, "Manager.transition", reason)
	}
	m.state = model.StateFailedTerminal
	m.teardownPending = false
	if m.teardownCancel != nil {
		close(m.teardownCancel)
		m.teardownCancel = nil
	}
	m.log.WithField("channel_id", m.channelID).WithField("reason", reason).Error("channel entered FAILED_TERMINAL")
	return retrovueerr.New(retrovueerr.CodeBoundaryTransition, "Manager.transition", reason)
}

// TeardownPending reports whether a teardown request is waiting on a
// transient state to resolve.
func (m *Manager) TeardownPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teardownPending
}
