package planstore

import (
	"context"
	"testing"
	"time"

	"github.com/retrovue/core/internal/model"
)

func fullDayZones() []*model.Zone {
	return []*model.Zone{
		{ID: "z1", Name: "Morning", From: 0, To: 12 * time.Hour, DayMask: model.AllDays,
			Assets: []model.SchedulableAsset{{Kind: model.KindAsset, ID: "a1"}}},
		{ID: "z2", Name: "Evening", From: 12 * time.Hour, To: 24 * time.Hour, DayMask: model.AllDays,
			Assets: []model.SchedulableAsset{{Kind: model.KindAsset, ID: "a2"}}},
	}
}

func TestValidateAcceptsFullDayCoverage(t *testing.T) {
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Default", Active: true, Zones: fullDayZones()}
	if err := Validate(plan); err != nil {
		t.Fatalf("expected valid plan, got %v", err)
	}
}

func TestValidateRejectsGap(t *testing.T) {
	zones := fullDayZones()
	zones[1].From = 13 * time.Hour // leaves [12h,13h) uncovered
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Default", Active: true, Zones: zones}
	if err := Validate(plan); err == nil {
		t.Fatal("expected a gap validation error")
	}
}

func TestValidateRejectsOverlap(t *testing.T) {
	zones := fullDayZones()
	zones[1].From = 11 * time.Hour // overlaps zone 1's tail
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Default", Active: true, Zones: zones}
	if err := Validate(plan); err == nil {
		t.Fatal("expected an overlap validation error")
	}
}

func TestValidateRejectsNegativePriority(t *testing.T) {
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Default", Active: true, Priority: -1, Zones: fullDayZones()}
	if err := Validate(plan); err == nil {
		t.Fatal("expected negative priority rejection")
	}
}

func TestValidateRejectsBadCronFields(t *testing.T) {
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Default", Active: true, Zones: fullDayZones(), CronDayFilter: "0 6 * * MON-FRI"}
	if err := Validate(plan); err == nil {
		t.Fatal("expected rejection: hour field must be \"*\"")
	}
}

func TestValidateAcceptsWeekdayOnlyCron(t *testing.T) {
	plan := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Default", Active: true, Zones: fullDayZones(), CronDayFilter: "* * * * MON-FRI"}
	if err := Validate(plan); err != nil {
		t.Fatalf("expected valid plan, got %v", err)
	}
}

func TestStorePutRejectsDuplicateNameCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()
	p1 := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Weekday Grid", Active: true, Zones: fullDayZones()}
	if err := s.Put(ctx, p1); err != nil {
		t.Fatalf("first put: %v", err)
	}
	p2 := &model.SchedulePlan{ID: "p2", ChannelID: "c1", Name: "  weekday grid  ", Active: true, Zones: fullDayZones()}
	if err := s.Put(ctx, p2); err == nil {
		t.Fatal("expected duplicate-name rejection")
	}
}

func TestStorePutAllowsSameNameOnDifferentChannels(t *testing.T) {
	s := New()
	ctx := context.Background()
	p1 := &model.SchedulePlan{ID: "p1", ChannelID: "c1", Name: "Grid", Active: true, Zones: fullDayZones()}
	p2 := &model.SchedulePlan{ID: "p2", ChannelID: "c2", Name: "Grid", Active: true, Zones: fullDayZones()}
	if err := s.Put(ctx, p1); err != nil {
		t.Fatalf("put p1: %v", err)
	}
	if err := s.Put(ctx, p2); err != nil {
		t.Fatalf("put p2 on a different channel should succeed: %v", err)
	}
}

func TestAssetsForPicksHighestPriorityZone(t *testing.T) {
	s := New()
	ctx := context.Background()
	low := &model.SchedulePlan{ID: "low", ChannelID: "c1", Name: "Low", Active: true, Priority: 1, Zones: []*model.Zone{
		{ID: "z", Name: "All day", From: 0, To: 24 * time.Hour, DayMask: model.AllDays,
			Assets: []model.SchedulableAsset{{Kind: model.KindAsset, ID: "filler"}}},
	}}
	high := &model.SchedulePlan{ID: "high", ChannelID: "c1", Name: "High", Active: true, Priority: 10, Zones: []*model.Zone{
		{ID: "z", Name: "Mondays", From: 0, To: 24 * time.Hour, DayMask: model.WeekdayBit(time.Monday),
			Assets: []model.SchedulableAsset{{Kind: model.KindAsset, ID: "primary"}}},
	}}
	if err := s.Put(ctx, low); err != nil {
		t.Fatalf("put low: %v", err)
	}
	if err := s.Put(ctx, high); err != nil {
		t.Fatalf("put high: %v", err)
	}

	day := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // Monday
	match, ok := s.AssetsFor(ctx, "c1", day, 1*time.Hour)
	if !ok || len(match.Assets) != 1 || match.Assets[0].ID != "primary" {
		t.Fatalf("expected the high-priority zone's asset, got %#v ok=%v", match, ok)
	}

	tuesday := time.Date(2026, 8, 4, 0, 0, 0, 0, time.UTC)
	match, ok = s.AssetsFor(ctx, "c1", tuesday, 18*time.Hour)
	if !ok || len(match.Assets) != 1 || match.Assets[0].ID != "filler" {
		t.Fatalf("expected the low-priority zone's asset outside high's day mask, got %#v ok=%v", match, ok)
	}
}
