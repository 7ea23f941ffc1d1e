// Package horizon implements HorizonManager: the rolling-window extension
// controller for one channel. It measures the depth of committed
// ExecutionEntries against configured minima, builds and commits further
// ResolvedScheduleDay/TransmissionLog/ExecutionEntry material as clock
// progression erodes that depth, and re-verifies asset eligibility on
// every extension, replacing anything that went stale with declared
// filler rather than silently airing it.
package horizon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/core/internal/bday"
	"github.com/retrovue/core/internal/clock"
	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
	"github.com/retrovue/core/pkg/logger"
)

// ReasonCode is the (closed) set of reasons an extension attempt fires.
// clock_progression is the only legal value; anything else — most
// pointedly consumer_demand — is itself a specification violation.
type ReasonCode string

const ReasonClockProgression ReasonCode = "clock_progression"

// ExtensionAttempt records the outcome of one _extend_execution iteration.
type ExtensionAttempt struct {
	Success    bool
	ReasonCode ReasonCode
	ErrorCode  retrovueerr.Code
	Detail     string
	AtUTCMs    int64
}

// HorizonHealthReport is HorizonManager's externally observable output.
type HorizonHealthReport struct {
	ChannelID             model.ID
	ExecutionCompliant    bool
	ExtensionAttemptCount int
	ExtensionSuccessCount int
	RecentAttempts        []ExtensionAttempt
	ExecDepth             time.Duration
}

// ScheduleDayBuilder is the subset of ResolvedScheduleDayBuilder the
// manager depends on.
type ScheduleDayBuilder interface {
	Build(ctx context.Context, channelID model.ID, broadcastDate time.Time) (*model.ResolvedScheduleDay, error)
}

// TransmissionLogBuilder is the subset of TransmissionLogBuilder the
// manager depends on.
type TransmissionLogBuilder interface {
	Build(ctx context.Context, day *model.ResolvedScheduleDay, carryIn *model.TransmissionLogEntry) ([]model.TransmissionLogEntry, error)
}

// ExecutionStore is the subset of ExecutionWindowStore the manager depends
// on.
type ExecutionStore interface {
	AddEntries(ctx context.Context, channelID model.ID, entries []model.ExecutionEntry, enforceDerivation bool) error
	TailEndUTCMs(ctx context.Context, channelID model.ID) (int64, bool)
}

// Config holds the retrovueconfig.Config values the manager consumes, plus
// DayCacheTTL and HistorySize, which have no key in retrovueconfig.Config.
type Config struct {
	MinExecutionHorizon      time.Duration
	ProactiveExtendThreshold time.Duration
	EPGHorizonDays           int
	DayStartHour             int
	DayStartMinute           int
	DayCacheTTL              time.Duration
	HistorySize              int
}

// Manager is the per-channel HorizonManager.
type Manager struct {
	channelID model.ID
	clock     clock.Clock
	days      ScheduleDayBuilder
	translog  TransmissionLogBuilder
	store     ExecutionStore
	content   model.ContentStore
	cache     DayCache
	cfg       Config
	log       *logger.Logger

	mu       sync.Mutex
	history  []ExtensionAttempt
	attempts int
	success  int

	// lastCarry is the synthesized carry-in record used when stitching
	// the next built day's head onto the prior day's tail.
	lastCarry *model.TransmissionLogEntry
}

// New constructs a Manager for one channel.
func New(channelID model.ID, clk clock.Clock, days ScheduleDayBuilder, translog TransmissionLogBuilder, store ExecutionStore, content model.ContentStore, cache DayCache, cfg Config, log *logger.Logger) *Manager {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	if cfg.DayCacheTTL <= 0 {
		cfg.DayCacheTTL = 48 * time.Hour
	}
	if log == nil {
		log = logger.NewDefault("horizon")
	}
	return &Manager{
		channelID: channelID,
		clock:     clk,
		days:      days,
		translog:  translog,
		store:     store,
		content:   content,
		cache:     cache,
		cfg:       cfg,
		log:       log,
	}
}

// EvaluateOnce is the heartbeat: call it on any trigger (a ≥4 Hz tick,
// BLOCK_COMPLETE, or prime completion). It measures depth and extends as
// many times as necessary to satisfy the configured minimum, or until the
// plan has no further material.
func (m *Manager) EvaluateOnce(ctx context.Context) HorizonHealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	depth := m.execDepthLocked(ctx)
	if depth > m.cfg.ProactiveExtendThreshold || depth >= m.cfg.MinExecutionHorizon {
		return m.reportLocked(depth)
	}

	for depth < m.cfg.MinExecutionHorizon {
		attempt := m.extendOnceLocked(ctx)
		m.record(attempt)
		if !attempt.Success {
			break
		}
		depth = m.execDepthLocked(ctx)
	}
	return m.reportLocked(depth)
}

func (m *Manager) execDepthLocked(ctx context.Context) time.Duration {
	now := m.clock.NowUTCMs()
	tail, ok := m.store.TailEndUTCMs(ctx, m.channelID)
	if !ok {
		return 0
	}
	if tail <= now {
		return 0
	}
	return time.Duration(tail-now) * time.Millisecond
}

// extendOnceLocked builds the next broadcast day past the current tail (if
// not already cached), expands it to a TransmissionLog, slices off the
// portion past the tail, re-verifies eligibility of every referenced
// asset, and commits the result. Every failure path is captured in the
// returned ExtensionAttempt rather than propagated, so evaluate_once's
// retry loop can classify and log it without crashing the heartbeat.
func (m *Manager) extendOnceLocked(ctx context.Context) ExtensionAttempt {
	now := m.clock.NowUTCMs()
	at := ExtensionAttempt{ReasonCode: ReasonClockProgression, AtUTCMs: now}

	tail, hasTail := m.store.TailEndUTCMs(ctx, m.channelID)
	anchor := time.UnixMilli(now).UTC()
	if hasTail {
		anchor = time.UnixMilli(tail).UTC()
	}
	broadcastDate := bday.ContainingDate(anchor, m.cfg.DayStartHour, m.cfg.DayStartMinute)
	if hasTail {
		// tail sits exactly on the boundary between two broadcast days;
		// the next day to build is the one the tail opens into.
		dayStart := bday.Start(broadcastDate, m.cfg.DayStartHour, m.cfg.DayStartMinute)
		if tail >= dayStart.Add(24*time.Hour).UnixMilli() {
			broadcastDate = broadcastDate.AddDate(0, 0, 1)
		}
	}

	day, ok := m.cache.Get(ctx, m.channelID, broadcastDate)
	if !ok {
		built, err := m.days.Build(ctx, m.channelID, broadcastDate)
		if err != nil {
			at.ErrorCode = retrovueerr.CodeHorizonExtension
			at.Detail = fmt.Sprintf("build resolved schedule day: %v", err)
			return at
		}
		day = built
		m.cache.Set(ctx, m.channelID, broadcastDate, day, m.cfg.DayCacheTTL)
	}

	entries, err := m.translog.Build(ctx, day, m.lastCarry)
	if err != nil {
		at.ErrorCode = retrovueerr.CodeHorizonExtension
		at.Detail = fmt.Sprintf("build transmission log: %v", err)
		return at
	}

	var sliced []model.TransmissionLogEntry
	for _, e := range entries {
		if hasTail {
			if e.EndUTCMs <= tail {
				continue
			}
			if e.StartUTCMs < tail {
				e.StartUTCMs = tail
			}
		}
		sliced = append(sliced, e)
	}
	if len(sliced) == 0 {
		at.ErrorCode = retrovueerr.CodeHorizonExtension
		at.Detail = "no transmission log material past the current tail"
		return at
	}
	execEntries := make([]model.ExecutionEntry, len(sliced))
	for i, e := range sliced {
		assetRef := m.reverifyEligibility(ctx, e)
		ref := model.ID(uuid.NewString())
		execEntries[i] = model.ExecutionEntry{
			ID:                 model.ID(uuid.NewString()),
			ChannelID:          e.ChannelID,
			StartUTCMs:         e.StartUTCMs,
			EndUTCMs:           e.EndUTCMs,
			AssetRef:           assetRef,
			TransmissionLogRef: &ref,
		}
	}

	if err := m.store.AddEntries(ctx, m.channelID, execEntries, true); err != nil {
		at.ErrorCode, _ = retrovueerr.CodeOf(err)
		if at.ErrorCode == "" {
			at.ErrorCode = retrovueerr.CodeHorizonExtension
		}
		at.Detail = err.Error()
		return at
	}

	last := sliced[len(sliced)-1]
	m.lastCarry = &model.TransmissionLogEntry{
		ChannelID:  last.ChannelID,
		StartUTCMs: last.StartUTCMs,
		EndUTCMs:   last.EndUTCMs,
		AssetRef:   last.AssetRef,
		SourceDay:  last.SourceDay,
		CarriesIn:  true,
	}

	at.Success = true
	return at
}

// reverifyEligibility re-checks the content store's admission predicate
// for the asset a TransmissionLogEntry references. An ineligible asset is
// replaced with declared filler — the violation is logged, never
// swallowed, per the specification's unconditional prohibition on airing
// ineligible content.
func (m *Manager) reverifyEligibility(ctx context.Context, e model.TransmissionLogEntry) model.ID {
	if m.content == nil {
		return e.AssetRef
	}
	elig, err := m.content.EligibilityOf(ctx, e.AssetRef)
	if err != nil || elig.Eligible() {
		return e.AssetRef
	}
	m.log.WithField("asset_id", e.AssetRef).
		WithField("channel_id", e.ChannelID).
		WithField("reason", elig.IneligibilityReason()).
		Warn("asset became ineligible before admission; replacing with declared filler")
	return model.ID("synthetic:color_bars")
}

func (m *Manager) record(attempt ExtensionAttempt) {
	m.attempts++
	if attempt.Success {
		m.success++
	}
	m.history = append(m.history, attempt)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
}

func (m *Manager) reportLocked(depth time.Duration) HorizonHealthReport {
	return HorizonHealthReport{
		ChannelID:             m.channelID,
		ExecutionCompliant:    depth >= m.cfg.MinExecutionHorizon,
		ExtensionAttemptCount: m.attempts,
		ExtensionSuccessCount: m.success,
		RecentAttempts:        append([]ExtensionAttempt(nil), m.history...),
		ExecDepth:             depth,
	}
}

// RecentAttempts returns the last N ExtensionAttempts without re-running
// EvaluateOnce, for diagnostics and tests.
func (m *Manager) RecentAttempts() []ExtensionAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExtensionAttempt(nil), m.history...)
}
