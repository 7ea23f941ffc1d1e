// Package scheduleday implements ResolvedScheduleDayBuilder: it tiles one
// channel's 24h programming day onto the scheduling grid, picks one
// SchedulableAsset per slot from PlanStore's layered Zones, and coalesces
// consecutive identical picks into a contiguous, gap-free lineup.
package scheduleday

import (
	"context"
	"time"

	"github.com/retrovue/core/internal/model"
)

// PlanQuerier is the subset of PlanStore the builder depends on.
type PlanQuerier interface {
	AssetsFor(ctx context.Context, channelID model.ID, day time.Time, offset time.Duration) (model.ZoneMatch, bool)
}

// RotationCursors tracks the per-(channel, zone) rotation index for zones
// whose SelectionMode is PlaySequential, so repeated builds advance rather
// than restart the rotation.
type RotationCursors interface {
	Next(channelID, zoneID model.ID, cardinality int) int
}

// Builder produces ResolvedScheduleDays.
type Builder struct {
	plans   PlanQuerier
	content model.ContentStore
	cursors RotationCursors
	grid    time.Duration
	filler  model.SchedulableAsset
}

// Option configures a Builder.
type Option func(*Builder)

// WithGrid overrides the default 30-minute grid.
func WithGrid(d time.Duration) Option {
	return func(b *Builder) { b.grid = d }
}

// WithCursors installs a rotation cursor tracker; without one, sequential
// zones behave as manual (always index 0).
func WithCursors(c RotationCursors) Option {
	return func(b *Builder) { b.cursors = c }
}

// WithFiller overrides the declared SyntheticAsset used to patch gaps and
// ineligible picks.
func WithFiller(a model.SchedulableAsset) Option {
	return func(b *Builder) { b.filler = a }
}

// New constructs a Builder. filler defaults to a generic color-bars
// SyntheticAsset if WithFiller is not supplied.
func New(plans PlanQuerier, content model.ContentStore, opts ...Option) *Builder {
	b := &Builder{
		plans:   plans,
		content: content,
		grid:    30 * time.Minute,
		filler:  model.SchedulableAsset{Kind: model.KindSyntheticAsset, ID: "filler.color-bars", SyntheticKind: "color_bars"},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build produces the ResolvedScheduleDay for channelID on the given local
// broadcast date (midnight-anchored).
func (b *Builder) Build(ctx context.Context, channelID model.ID, broadcastDate time.Time) (*model.ResolvedScheduleDay, error) {
	day := time.Date(broadcastDate.Year(), broadcastDate.Month(), broadcastDate.Day(), 0, 0, 0, 0, broadcastDate.Location())

	slots := int(24 * time.Hour / b.grid)
	picks := make([]model.SchedulableAsset, slots)

	for i := 0; i < slots; i++ {
		offset := time.Duration(i) * b.grid
		picks[i] = b.pickSlot(ctx, channelID, day, offset, i)
	}

	entries := coalesce(picks, b.grid)
	return &model.ResolvedScheduleDay{
		ChannelID:     channelID,
		BroadcastDate: day,
		Entries:       entries,
	}, nil
}

func (b *Builder) pickSlot(ctx context.Context, channelID model.ID, day time.Time, offset time.Duration, slotIndex int) model.SchedulableAsset {
	match, ok := b.plans.AssetsFor(ctx, channelID, day, offset)
	if !ok || len(match.Assets) == 0 {
		return b.filler
	}

	asset := b.selectFromZone(channelID, day, match, slotIndex)

	if !b.eligible(ctx, asset) {
		return b.filler
	}
	return asset
}

func (b *Builder) selectFromZone(channelID model.ID, day time.Time, match model.ZoneMatch, slotIndex int) model.SchedulableAsset {
	if len(match.Assets) == 1 {
		return match.Assets[0]
	}
	switch match.SelectionMode {
	case model.PlayRandom:
		rng := slotPRNG(channelID, day, slotIndex)
		return match.Assets[rng.Intn(len(match.Assets))]
	case model.PlaySequential:
		if b.cursors == nil {
			return match.Assets[0]
		}
		idx := b.cursors.Next(channelID, match.ZoneID, len(match.Assets))
		return match.Assets[idx]
	default: // manual
		return match.Assets[0]
	}
}

// eligible reports whether a selected SchedulableAsset may stand at exit
// time. Programs defer eligibility to physical-asset resolution in
// TransmissionLogBuilder; synthetic filler is always eligible.
func (b *Builder) eligible(ctx context.Context, asset model.SchedulableAsset) bool {
	if asset.Kind == model.KindSyntheticAsset || asset.Kind == model.KindProgram || asset.Kind == model.KindVirtualAsset {
		return true
	}
	if b.content == nil {
		return true
	}
	elig, err := b.content.EligibilityOf(ctx, asset.PhysicalAssetRef)
	if err != nil {
		return false
	}
	return elig.Eligible()
}

// coalesce merges consecutive slots referencing the same SchedulableAsset
// (compared by Kind+ID) into single ResolvedScheduleEntry records.
func coalesce(picks []model.SchedulableAsset, grid time.Duration) []model.ResolvedScheduleEntry {
	if len(picks) == 0 {
		return nil
	}
	var entries []model.ResolvedScheduleEntry
	start := 0
	for i := 1; i <= len(picks); i++ {
		if i < len(picks) && sameAsset(picks[i], picks[start]) {
			continue
		}
		entries = append(entries, model.ResolvedScheduleEntry{
			FromOffset: time.Duration(start) * grid,
			ToOffset:   time.Duration(i) * grid,
			Asset:      picks[start],
		})
		start = i
	}
	return entries
}

func sameAsset(a, b model.SchedulableAsset) bool {
	return a.Kind == b.Kind && a.ID == b.ID
}
