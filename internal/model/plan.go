// Package model holds the data types shared across the RetroVue control
// plane: operator-defined intent (SchedulePlan, Zone, SchedulableAsset) and
// the runtime records derived from it (ResolvedScheduleDay,
// TransmissionLogEntry, ExecutionEntry, AsRun, evidence envelopes).
package model

import "time"

// ID is a stable opaque identifier for any entity in the control plane.
type ID string

// WeekdayMask is a bitmask over time.Weekday (Sunday = bit 0).
type WeekdayMask uint8

// AllDays matches every day of the week.
const AllDays WeekdayMask = 0b1111111

// WeekdayBit returns the mask bit for a single weekday.
func WeekdayBit(d time.Weekday) WeekdayMask {
	return 1 << WeekdayMask(d)
}

// Includes reports whether the mask covers the given weekday.
func (m WeekdayMask) Includes(d time.Weekday) bool {
	return m&WeekdayBit(d) != 0
}

// SchedulePlan is operator-defined recurring intent for one channel.
type SchedulePlan struct {
	ID        ID
	ChannelID ID
	Name      string

	// CronDayFilter, when non-empty, is a 5-field cron expression
	// (minute hour dom month dow) in which only the dom/month/dow fields
	// are honored; minute and hour MUST be "*". Empty means "every day".
	CronDayFilter string

	// StartDate/EndDate are inclusive calendar-date bounds, or nil for
	// unbounded.
	StartDate *time.Time
	EndDate   *time.Time

	Priority int
	Active   bool

	Zones []*Zone
}

// Zone is a named half-open time window within the programming day.
type Zone struct {
	ID   ID
	Name string

	// From/To are offsets from the programming-day start (00:00 of the
	// broadcast day), snapped to the channel grid. To is exclusive. A
	// zone that wraps past 24h is not supported; zones never straddle
	// the programming-day boundary (the plan's zone set spans exactly
	// one 24h day).
	From time.Duration
	To   time.Duration

	DayMask WeekdayMask

	// Assets is the zone's candidate set. A single-entry zone is the
	// common case and needs no selection policy. SelectionMode governs
	// how a multi-entry zone picks one SchedulableAsset per grid slot
	// (reusing the Program PlayMode vocabulary at the zone level):
	// random draws from the seeded per-slot PRNG, sequential advances a
	// persistent rotation cursor, manual always takes index 0.
	Assets        []SchedulableAsset
	SelectionMode PlayMode
}

// Duration reports the zone's span.
func (z *Zone) Duration() time.Duration {
	return z.To - z.From
}

// AssetKind tags the SchedulableAsset variant.
type AssetKind int

const (
	KindProgram AssetKind = iota
	KindAsset
	KindVirtualAsset
	KindSyntheticAsset
)

func (k AssetKind) String() string {
	switch k {
	case KindProgram:
		return "program"
	case KindAsset:
		return "asset"
	case KindVirtualAsset:
		return "virtual_asset"
	case KindSyntheticAsset:
		return "synthetic_asset"
	default:
		return "unknown"
	}
}

// PlayMode governs how a Program selects one Asset per airing.
type PlayMode int

const (
	PlayRandom PlayMode = iota
	PlaySequential
	PlayManual
)

// SchedulableAsset is the abstract, tagged variant operators schedule into a
// Zone. Only the fields relevant to Kind are populated.
type SchedulableAsset struct {
	Kind AssetKind
	ID   ID
	Name string

	// Program
	AssetChain []SchedulableAsset
	PlayMode   PlayMode

	// Asset: PhysicalAssetRef identifies the physical media asset owned
	// by the external content store.
	PhysicalAssetRef ID

	// VirtualAsset: ResolutionRule is a small JSON document of jsonpath
	// expressions evaluated against an input context at TransmissionLog
	// time (date, day_of_week, rotation_state) to pick physical Assets.
	ResolutionRule string

	// SyntheticAsset: SyntheticKind names the generated content (e.g.
	// "test_pattern", "color_bars"). Synthetic assets are always
	// eligible.
	SyntheticKind string
}

// IsSynthetic reports whether the asset is always-eligible filler.
func (a SchedulableAsset) IsSynthetic() bool {
	return a.Kind == KindSyntheticAsset
}

// ZoneMatch is the winning zone for a given (channel, day, offset) query,
// carrying enough of the zone's identity and policy for the caller to
// perform slot-level asset selection.
type ZoneMatch struct {
	ZoneID        ID
	SelectionMode PlayMode
	Assets        []SchedulableAsset
}
