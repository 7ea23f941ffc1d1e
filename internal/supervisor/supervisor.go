// Package supervisor implements Supervisor/ProgramDirector: the top-level
// owner of the per-channel runtime set and the single MasterClock instance
// every component shares. It does not assemble plans or pick content; its
// only direct lever over scheduling is the emergency-mode override.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/retrovue/core/internal/channelmgr"
	"github.com/retrovue/core/internal/clock"
	"github.com/retrovue/core/internal/horizon"
	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
	"github.com/retrovue/core/pkg/logger"
)

// Runtime bundles the per-channel components the supervisor owns.
type Runtime struct {
	ChannelManager *channelmgr.Manager
	HorizonManager *horizon.Manager
}

// Supervisor holds the set of channel runtimes and the shared clock.
type Supervisor struct {
	clk clock.Clock
	log *logger.Logger

	mu       sync.RWMutex
	channels map[model.ID]*Runtime

	emergencyArmed    bool
	emergencyAssetRef model.ID
}

// New constructs a Supervisor anchored to clk. Every component registered
// under it shares this one clock instance. The supervisor itself neither
// sets nor resets the epoch: ChannelManager.Start makes the single-shot
// LIVE epoch set on this shared clock.
func New(clk clock.Clock, log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.NewDefault("supervisor")
	}
	return &Supervisor{
		clk:      clk,
		log:      log,
		channels: make(map[model.ID]*Runtime),
	}
}

// Clock returns the shared clock instance to inject into newly constructed
// per-channel components.
func (sup *Supervisor) Clock() clock.Clock {
	return sup.clk
}

// Register adds a channel's runtime to the supervisor's managed set.
func (sup *Supervisor) Register(channelID model.ID, rt *Runtime) error {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if _, exists := sup.channels[channelID]; exists {
		return retrovueerr.New(retrovueerr.CodeBoundaryTransition, "Supervisor.Register",
			fmt.Sprintf("channel %s is already registered", channelID))
	}
	sup.channels[channelID] = rt
	return nil
}

// Unregister drops a channel from the managed set. It does not itself
// issue a teardown; callers tear down the ChannelManager first.
func (sup *Supervisor) Unregister(channelID model.ID) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	delete(sup.channels, channelID)
}

// Runtime returns the registered runtime for a channel, if any.
func (sup *Supervisor) Runtime(channelID model.ID) (*Runtime, bool) {
	sup.mu.RLock()
	defer sup.mu.RUnlock()
	rt, ok := sup.channels[channelID]
	return rt, ok
}

// Channels returns every currently registered channel id.
func (sup *Supervisor) Channels() []model.ID {
	sup.mu.RLock()
	defer sup.mu.RUnlock()
	ids := make([]model.ID, 0, len(sup.channels))
	for id := range sup.channels {
		ids = append(ids, id)
	}
	return ids
}

// ArmEmergency arms the reserved synthetic override asset for every channel
// under this supervisor: while armed, each ResolvedScheduleDay built through
// OverrideScheduleDayBuilder resolves to that asset. Days already built or
// cached, and ExecutionEntries already committed, are not replaced. It is a
// global toggle, not a per-channel one.
func (sup *Supervisor) ArmEmergency(assetRef model.ID) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.emergencyArmed = true
	sup.emergencyAssetRef = assetRef
	sup.log.WithField("asset_ref", assetRef).Warn("emergency mode armed: every channel will override to this asset")
}

// DisarmEmergency returns scheduling to ordinary plan resolution.
func (sup *Supervisor) DisarmEmergency() {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	if sup.emergencyArmed {
		sup.log.Info("emergency mode disarmed")
	}
	sup.emergencyArmed = false
	sup.emergencyAssetRef = ""
}

// EmergencyOverride reports whether emergency mode is armed and, if so,
// the asset every channel should short-circuit to.
func (sup *Supervisor) EmergencyOverride() (model.ID, bool) {
	sup.mu.RLock()
	defer sup.mu.RUnlock()
	return sup.emergencyAssetRef, sup.emergencyArmed
}

// EvaluateHorizons runs one EvaluateOnce cycle across every registered
// channel's HorizonManager. Callers drive this from a per-supervisor
// ticker. Channels are evaluated one after another, so a slow channel
// delays the rest; a failing channel does not stop them, since each
// HorizonManager only logs and retries its own failures.
func (sup *Supervisor) EvaluateHorizons(ctx context.Context) map[model.ID]horizon.HorizonHealthReport {
	sup.mu.RLock()
	runtimes := make(map[model.ID]*Runtime, len(sup.channels))
	for id, rt := range sup.channels {
		runtimes[id] = rt
	}
	sup.mu.RUnlock()

	reports := make(map[model.ID]horizon.HorizonHealthReport, len(runtimes))
	for id, rt := range runtimes {
		if rt.HorizonManager == nil {
			continue
		}
		reports[id] = rt.HorizonManager.EvaluateOnce(ctx)
	}
	return reports
}

// OverrideScheduleDayBuilder wraps a ScheduleDayBuilder so that while
// emergency mode is armed, every build call short-circuits to a single
// all-day entry of the reserved override asset instead of resolving the
// plan normally. It is an override of the builder, not a new invariant:
// the resulting ResolvedScheduleDay still flows through the ordinary
// TransmissionLog/ExecutionEntry pipeline.
type OverrideScheduleDayBuilder struct {
	Underlying horizon.ScheduleDayBuilder
	Supervisor *Supervisor
}

func (b *OverrideScheduleDayBuilder) Build(ctx context.Context, channelID model.ID, broadcastDate time.Time) (*model.ResolvedScheduleDay, error) {
	if assetRef, armed := b.Supervisor.EmergencyOverride(); armed {
		return &model.ResolvedScheduleDay{
			ChannelID:     channelID,
			BroadcastDate: broadcastDate,
			Entries: []model.ResolvedScheduleEntry{
				{
					FromOffset: 0,
					ToOffset:   24 * time.Hour,
					Asset: model.SchedulableAsset{
						Kind:             model.KindSyntheticAsset,
						ID:               assetRef,
						PhysicalAssetRef: assetRef,
						SyntheticKind:    string(assetRef),
					},
				},
			},
		}, nil
	}
	return b.Underlying.Build(ctx, channelID, broadcastDate)
}
