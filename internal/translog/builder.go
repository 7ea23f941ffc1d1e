// Package translog implements TransmissionLogBuilder: it expands a
// ResolvedScheduleDay's SchedulableAsset-level lineup into a contiguous
// sequence of physical-Asset-resolved TransmissionLogEntries, resolving
// Programs via their play_mode and VirtualAssets via a jsonpath-evaluated
// resolution rule, and preserving cross-midnight carry-in as a single
// entry rather than splitting it at the grid.
package translog

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/retrovue/core/internal/bday"
	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
)

// slotRNG returns a deterministic generator keyed on (channel, broadcast
// date, slot start), mirroring scheduleday's per-slot PRNG seeding rule at
// the physical-asset resolution layer.
func slotRNG(channelID model.ID, broadcastDate time.Time, startUTCMs int64) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", channelID, broadcastDate.Format("2006-01-02"), startUTCMs)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// SequentialCursors persists the Program asset_chain rotation index across
// airings for channels using play_mode=sequential.
type SequentialCursors interface {
	Next(channelID, programID model.ID, cardinality int) int
}

// VirtualAssetContext is the input-driven resolution context a
// VirtualAsset's rule is evaluated against: date, day-of-week, and rotation
// state (opaque to the builder, supplied by the caller per channel).
type VirtualAssetContext struct {
	Date         time.Time
	DayOfWeek    time.Weekday
	RotationState map[string]any
}

// Builder expands ResolvedScheduleDays into TransmissionLogEntries.
type Builder struct {
	cursors            SequentialCursors
	dayStartHour       int
	dayStartMinute     int
	grid               time.Duration
	rotationStateForCh func(channelID model.ID) map[string]any
}

// Option configures a Builder.
type Option func(*Builder)

// WithCursors installs a sequential rotation cursor tracker; without one,
// sequential Programs behave as manual (always index 0 of asset_chain).
func WithCursors(c SequentialCursors) Option {
	return func(b *Builder) { b.cursors = c }
}

// WithProgrammingDayStart sets the broadcast-day anchor used to detect
// cross-midnight carry-in.
func WithProgrammingDayStart(hour, minute int) Option {
	return func(b *Builder) { b.dayStartHour, b.dayStartMinute = hour, minute }
}

// WithGrid overrides the default 30-minute grid setting. Build neither
// re-slices entries to the grid nor checks alignment against it, so the
// value has no effect on Build's output.
func WithGrid(d time.Duration) Option {
	return func(b *Builder) { b.grid = d }
}

// WithRotationState supplies a per-channel rotation-state lookup consulted
// when building the VirtualAssetContext; without one, rotation_state is
// empty.
func WithRotationState(f func(channelID model.ID) map[string]any) Option {
	return func(b *Builder) { b.rotationStateForCh = f }
}

// New constructs a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{dayStartHour: 6, dayStartMinute: 0, grid: 30 * time.Minute}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build expands day into a contiguous TransmissionLogEntry sequence, given
// optional carryIn — an entry begun on the prior broadcast day whose
// interval extends into day. carryIn, when non-nil, becomes the first
// emitted entry verbatim (its end extended to cover any further
// same-asset slots at the head of day), per the cross-midnight
// single-entry rule.
func (b *Builder) Build(ctx context.Context, day *model.ResolvedScheduleDay, carryIn *model.TransmissionLogEntry) ([]model.TransmissionLogEntry, error) {
	dayStart := bday.Start(day.BroadcastDate, b.dayStartHour, b.dayStartMinute)

	var out []model.TransmissionLogEntry
	idx := 0

	if carryIn != nil {
		out = append(out, *carryIn)
		for idx < len(day.Entries) && sameUnderlying(day.Entries[idx].Asset, carryIn.AssetRef) {
			out[0].EndUTCMs = dayStart.Add(day.Entries[idx].ToOffset).UnixMilli()
			idx++
		}
	}

	for ; idx < len(day.Entries); idx++ {
		entry := day.Entries[idx]
		expanded, err := b.expand(ctx, day.ChannelID, day.BroadcastDate, dayStart, entry)
		if err != nil {
			return nil, err
		}
		out = mergeAdjacent(out, expanded)
	}

	if err := validateContiguous(out); err != nil {
		return nil, err
	}
	return out, nil
}

func sameUnderlying(a model.SchedulableAsset, ref model.ID) bool {
	return a.PhysicalAssetRef == ref || a.ID == ref
}

// expand resolves one ResolvedScheduleEntry into one or more physical-asset
// TransmissionLogEntries.
func (b *Builder) expand(ctx context.Context, channelID model.ID, broadcastDate, dayStart time.Time, entry model.ResolvedScheduleEntry) ([]model.TransmissionLogEntry, error) {
	start := dayStart.Add(entry.FromOffset).UnixMilli()
	end := dayStart.Add(entry.ToOffset).UnixMilli()

	switch entry.Asset.Kind {
	case model.KindAsset:
		return []model.TransmissionLogEntry{{
			ChannelID:  channelID,
			StartUTCMs: start,
			EndUTCMs:   end,
			AssetRef:   entry.Asset.PhysicalAssetRef,
			SourceDay:  broadcastDate,
		}}, nil

	case model.KindSyntheticAsset:
		return []model.TransmissionLogEntry{{
			ChannelID:  channelID,
			StartUTCMs: start,
			EndUTCMs:   end,
			AssetRef:   model.ID("synthetic:" + entry.Asset.SyntheticKind),
			SourceDay:  broadcastDate,
		}}, nil

	case model.KindProgram:
		return b.expandProgram(channelID, broadcastDate, start, end, entry.Asset)

	case model.KindVirtualAsset:
		refs, err := b.resolveVirtual(ctx, channelID, broadcastDate, entry.Asset)
		if err != nil {
			return nil, err
		}
		return b.sliceEvenly(channelID, broadcastDate, start, end, refs), nil

	default:
		return nil, retrovueerr.New(retrovueerr.CodeDerivationViolation, "translog.expand",
			fmt.Sprintf("unknown schedulable asset kind %v", entry.Asset.Kind))
	}
}

// expandProgram resolves a Program's asset_chain to the single physical
// Asset that airs this slot, per play_mode: sequential persists a rotation
// cursor across airings, random draws from the slot PRNG, manual always
// takes asset_chain[0].
func (b *Builder) expandProgram(channelID model.ID, broadcastDate time.Time, start, end int64, program model.SchedulableAsset) ([]model.TransmissionLogEntry, error) {
	chain := program.AssetChain
	if len(chain) == 0 {
		return nil, retrovueerr.New(retrovueerr.CodeDerivationViolation, "translog.expandProgram",
			fmt.Sprintf("program %s has an empty asset_chain", program.ID))
	}

	idx := 0
	switch program.PlayMode {
	case model.PlaySequential:
		if b.cursors != nil {
			idx = b.cursors.Next(channelID, program.ID, len(chain))
		}
	case model.PlayRandom:
		rng := slotRNG(channelID, broadcastDate, start)
		idx = rng.Intn(len(chain))
	}

	return []model.TransmissionLogEntry{{
		ChannelID:  channelID,
		StartUTCMs: start,
		EndUTCMs:   end,
		AssetRef:   chain[idx].PhysicalAssetRef,
		SourceDay:  broadcastDate,
	}}, nil
}

// sliceEvenly divides [start, end) into len(refs) contiguous, equal-width
// entries (the last entry absorbs any millisecond remainder).
func (b *Builder) sliceEvenly(channelID model.ID, broadcastDate time.Time, start, end int64, refs []model.ID) []model.TransmissionLogEntry {
	if len(refs) == 1 {
		return []model.TransmissionLogEntry{{
			ChannelID:  channelID,
			StartUTCMs: start,
			EndUTCMs:   end,
			AssetRef:   refs[0],
			SourceDay:  broadcastDate,
		}}
	}

	total := end - start
	share := total / int64(len(refs))
	out := make([]model.TransmissionLogEntry, len(refs))
	cursor := start
	for i, ref := range refs {
		entryEnd := cursor + share
		if i == len(refs)-1 {
			entryEnd = end
		}
		out[i] = model.TransmissionLogEntry{
			ChannelID:  channelID,
			StartUTCMs: cursor,
			EndUTCMs:   entryEnd,
			AssetRef:   ref,
			SourceDay:  broadcastDate,
		}
		cursor = entryEnd
	}
	return out
}

// resolveVirtual evaluates a VirtualAsset's resolution rule — a JSON
// document mapping an output key to a jsonpath expression — against the
// input context (date, day-of-week, rotation_state), returning the
// physical Asset refs it selects in document order.
func (b *Builder) resolveVirtual(ctx context.Context, channelID model.ID, broadcastDate time.Time, asset model.SchedulableAsset) ([]model.ID, error) {
	_ = ctx
	var rule map[string]string
	if err := json.Unmarshal([]byte(asset.ResolutionRule), &rule); err != nil {
		return nil, retrovueerr.Wrap(retrovueerr.CodeDerivationViolation, "translog.resolveVirtual", err)
	}

	rotation := map[string]any{}
	if b.rotationStateForCh != nil {
		rotation = b.rotationStateForCh(channelID)
	}
	input := map[string]any{
		"date":           broadcastDate.Format("2006-01-02"),
		"day_of_week":    int(broadcastDate.Weekday()),
		"rotation_state": rotation,
	}

	paths, ok := rule["asset_refs"]
	if !ok {
		return nil, retrovueerr.New(retrovueerr.CodeDerivationViolation, "translog.resolveVirtual",
			fmt.Sprintf("virtual asset %s resolution rule missing asset_refs jsonpath", asset.ID))
	}
	result, err := jsonpath.Get(paths, input)
	if err != nil {
		return nil, retrovueerr.Wrap(retrovueerr.CodeDerivationViolation, "translog.resolveVirtual", err)
	}

	switch v := result.(type) {
	case string:
		return []model.ID{model.ID(v)}, nil
	case []any:
		refs := make([]model.ID, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				refs = append(refs, model.ID(s))
			}
		}
		if len(refs) == 0 {
			return nil, retrovueerr.New(retrovueerr.CodeDerivationViolation, "translog.resolveVirtual",
				fmt.Sprintf("virtual asset %s resolution rule produced no physical assets", asset.ID))
		}
		return refs, nil
	default:
		return nil, retrovueerr.New(retrovueerr.CodeDerivationViolation, "translog.resolveVirtual",
			fmt.Sprintf("virtual asset %s resolution rule produced an unsupported type %T", asset.ID, result))
	}
}

// mergeAdjacent appends expanded entries to out, coalescing the boundary
// if the new head is contiguous with the same asset as out's tail (the
// builder's own grid slots never do this, but Program/VirtualAsset
// expansion of adjacent slots into the same physical asset can).
func mergeAdjacent(out []model.TransmissionLogEntry, expanded []model.TransmissionLogEntry) []model.TransmissionLogEntry {
	for _, e := range expanded {
		if n := len(out); n > 0 && out[n-1].AssetRef == e.AssetRef && out[n-1].EndUTCMs == e.StartUTCMs {
			out[n-1].EndUTCMs = e.EndUTCMs
			continue
		}
		out = append(out, e)
	}
	return out
}

// validateContiguous enforces the builder's exit invariant: the emitted
// sequence is temporally contiguous with no overlap.
func validateContiguous(entries []model.TransmissionLogEntry) error {
	for i := 1; i < len(entries); i++ {
		if entries[i].StartUTCMs != entries[i-1].EndUTCMs {
			return retrovueerr.New(retrovueerr.CodeDerivationViolation, "translog.validateContiguous",
				fmt.Sprintf("gap or overlap between entry %d (end %d) and entry %d (start %d)",
					i-1, entries[i-1].EndUTCMs, i, entries[i].StartUTCMs))
		}
	}
	return nil
}
