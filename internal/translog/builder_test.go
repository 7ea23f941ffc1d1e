package translog

import (
	"context"
	"testing"
	"time"

	"github.com/retrovue/core/internal/model"
)

func TestBuild_DirectAssetsStayGridAligned(t *testing.T) {
	day := &model.ResolvedScheduleDay{
		ChannelID:     "chan-1",
		BroadcastDate: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		Entries: []model.ResolvedScheduleEntry{
			{FromOffset: 0, ToOffset: 30 * time.Minute, Asset: model.SchedulableAsset{Kind: model.KindAsset, PhysicalAssetRef: "a1"}},
			{FromOffset: 30 * time.Minute, ToOffset: time.Hour, Asset: model.SchedulableAsset{Kind: model.KindAsset, PhysicalAssetRef: "a2"}},
		},
	}

	b := New(WithProgrammingDayStart(6, 0))
	entries, err := b.Build(context.Background(), day, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	dayStart := time.Date(2026, 7, 30, 6, 0, 0, 0, time.UTC)
	if entries[0].StartUTCMs != dayStart.UnixMilli() {
		t.Fatalf("expected first entry to start at the broadcast day anchor")
	}
	if entries[0].EndUTCMs != entries[1].StartUTCMs {
		t.Fatalf("expected contiguous entries, got end=%d next start=%d", entries[0].EndUTCMs, entries[1].StartUTCMs)
	}
}

func TestBuild_CarryInExtendsAcrossHead(t *testing.T) {
	day := &model.ResolvedScheduleDay{
		ChannelID:     "chan-1",
		BroadcastDate: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		Entries: []model.ResolvedScheduleEntry{
			{FromOffset: 0, ToOffset: 30 * time.Minute, Asset: model.SchedulableAsset{Kind: model.KindAsset, ID: "movie-1", PhysicalAssetRef: "movie-1"}},
			{FromOffset: 30 * time.Minute, ToOffset: time.Hour, Asset: model.SchedulableAsset{Kind: model.KindAsset, PhysicalAssetRef: "a2"}},
		},
	}
	dayStart := time.Date(2026, 7, 30, 6, 0, 0, 0, time.UTC)
	carryIn := &model.TransmissionLogEntry{
		ChannelID:  "chan-1",
		StartUTCMs: dayStart.Add(-time.Hour).UnixMilli(),
		EndUTCMs:   dayStart.UnixMilli(),
		AssetRef:   "movie-1",
		CarriesIn:  true,
	}

	b := New(WithProgrammingDayStart(6, 0))
	entries, err := b.Build(context.Background(), day, carryIn)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 entries, got %d", len(entries))
	}
	// the carried-in entry absorbs the first (same-asset) grid slot into
	// one continuous record rather than splitting at the boundary.
	if entries[0].StartUTCMs != dayStart.Add(-time.Hour).UnixMilli() {
		t.Fatalf("expected carry-in entry to keep its original start")
	}
	if entries[0].EndUTCMs != dayStart.Add(30*time.Minute).UnixMilli() {
		t.Fatalf("expected carry-in entry to absorb the matching head slot, got end=%d", entries[0].EndUTCMs)
	}
}

func TestBuild_VirtualAssetResolvesViaJSONPath(t *testing.T) {
	day := &model.ResolvedScheduleDay{
		ChannelID:     "chan-1",
		BroadcastDate: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		Entries: []model.ResolvedScheduleEntry{
			{
				FromOffset: 0,
				ToOffset:   30 * time.Minute,
				Asset: model.SchedulableAsset{
					Kind:           model.KindVirtualAsset,
					ID:             "virtual-1",
					ResolutionRule: `{"asset_refs": "$.date"}`,
				},
			},
		},
	}

	b := New(WithProgrammingDayStart(6, 0))
	entries, err := b.Build(context.Background(), day, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].AssetRef != "2026-07-30" {
		t.Fatalf("expected jsonpath-resolved asset ref, got %q", entries[0].AssetRef)
	}
}

func TestBuild_ProgramSequentialAdvancesCursor(t *testing.T) {
	cursors := &fakeCursors{}
	day := &model.ResolvedScheduleDay{
		ChannelID:     "chan-1",
		BroadcastDate: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		Entries: []model.ResolvedScheduleEntry{
			{
				FromOffset: 0,
				ToOffset:   30 * time.Minute,
				Asset: model.SchedulableAsset{
					Kind:     model.KindProgram,
					ID:       "prog-1",
					PlayMode: model.PlaySequential,
					AssetChain: []model.SchedulableAsset{
						{Kind: model.KindAsset, PhysicalAssetRef: "ep1"},
						{Kind: model.KindAsset, PhysicalAssetRef: "ep2"},
					},
				},
			},
		},
	}

	b := New(WithProgrammingDayStart(6, 0), WithCursors(cursors))
	entries, err := b.Build(context.Background(), day, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry for a single Program airing, got %d", len(entries))
	}
	if entries[0].AssetRef != "ep1" {
		t.Fatalf("expected cursor index 0 to resolve ep1, got %s", entries[0].AssetRef)
	}
	if cursors.calls != 1 {
		t.Fatalf("expected the sequential cursor to be consulted once, got %d calls", cursors.calls)
	}
}

type fakeCursors struct{ calls int }

func (f *fakeCursors) Next(channelID, programID model.ID, cardinality int) int {
	f.calls++
	return 0
}
