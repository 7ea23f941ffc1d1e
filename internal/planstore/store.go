// Package planstore holds SchedulePlans, Zones, and SchedulableAssets, and
// validates every write against the invariants in the specification: name
// uniqueness, date-range monotonicity, cron syntax, non-negative priority,
// zone overlap, and full-day zone coverage.
package planstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
)

// Store is the in-memory PlanStore. Reads are read-only projections: callers
// receive copies of the slice, never a reference into the store's internal
// state, so PlanStore remains the sole writer.
type Store struct {
	mu    sync.RWMutex
	plans map[model.ID]*model.SchedulePlan
}

// New constructs an empty PlanStore.
func New() *Store {
	return &Store{plans: make(map[model.ID]*model.SchedulePlan)}
}

// Put validates and inserts or replaces a SchedulePlan.
func (s *Store) Put(ctx context.Context, plan *model.SchedulePlan) error {
	_ = ctx
	if err := Validate(plan); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.plans {
		if id == plan.ID || existing.ChannelID != plan.ChannelID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(existing.Name), strings.TrimSpace(plan.Name)) {
			return retrovueerr.New(retrovueerr.CodePlanValidation, "Store.Put",
				"plan name must be unique per channel (case-insensitive)").
				WithOffending([]string{string(plan.ID), string(id)}, "")
		}
	}

	s.plans[plan.ID] = clonePlan(plan)
	return nil
}

// Delete removes a plan if present.
func (s *Store) Delete(ctx context.Context, id model.ID) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, id)
	return nil
}

// Get returns a copy of the plan with the given id.
func (s *Store) Get(ctx context.Context, id model.ID) (*model.SchedulePlan, bool) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, false
	}
	return clonePlan(p), true
}

// PlansForChannel returns every plan for a channel, in no particular order.
func (s *Store) PlansForChannel(ctx context.Context, channelID model.ID) []*model.SchedulePlan {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.SchedulePlan
	for _, p := range s.plans {
		if p.ChannelID == channelID {
			out = append(out, clonePlan(p))
		}
	}
	return out
}

// AssetsFor resolves the set of SchedulableAssets active for a channel at a
// given local day and time-of-day offset, per the layering rule in
// ResolvedScheduleDayBuilder's algorithm: among plans active on the day,
// layered by descending priority, the highest-priority zone whose window
// covers the offset and whose day mask includes the day wins.
func (s *Store) AssetsFor(ctx context.Context, channelID model.ID, day time.Time, offset time.Duration) (model.ZoneMatch, bool) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*model.SchedulePlan
	for _, p := range s.plans {
		if p.ChannelID != channelID || !p.Active {
			continue
		}
		if !PlanActiveOn(p, day) {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if candidates[i].Name != candidates[j].Name {
			return candidates[i].Name < candidates[j].Name
		}
		return candidates[i].ID < candidates[j].ID
	})

	weekday := day.Weekday()
	for _, plan := range candidates {
		for _, z := range plan.Zones {
			if !z.DayMask.Includes(weekday) {
				continue
			}
			if offset >= z.From && offset < z.To {
				return model.ZoneMatch{
					ZoneID:        z.ID,
					SelectionMode: z.SelectionMode,
					Assets:        append([]model.SchedulableAsset(nil), z.Assets...),
				}, true
			}
		}
	}
	return model.ZoneMatch{}, false
}

func clonePlan(p *model.SchedulePlan) *model.SchedulePlan {
	cp := *p
	cp.Zones = make([]*model.Zone, len(p.Zones))
	for i, z := range p.Zones {
		zc := *z
		zc.Assets = append([]model.SchedulableAsset(nil), z.Assets...)
		cp.Zones[i] = &zc
	}
	return &cp
}
