package model

import "time"

// ResolvedScheduleEntry is one contiguous interval within a
// ResolvedScheduleDay, referencing exactly one SchedulableAsset.
type ResolvedScheduleEntry struct {
	// FromOffset/ToOffset are durations from the broadcast day's local
	// start (programming_day_start_local), grid-aligned.
	FromOffset time.Duration
	ToOffset   time.Duration
	Asset      SchedulableAsset
}

// Duration reports the entry's span.
func (e ResolvedScheduleEntry) Duration() time.Duration {
	return e.ToOffset - e.FromOffset
}

// ResolvedScheduleDay is a per-channel, per-broadcast-day lineup of
// SchedulableAsset references, contiguous and gap-free over the 24h
// programming day.
type ResolvedScheduleDay struct {
	ChannelID     ID
	BroadcastDate time.Time // local calendar date anchor (midnight local)
	Entries       []ResolvedScheduleEntry
}

// TransmissionLogEntry is a grid-aligned, physical-asset-resolved entry
// derived from a ResolvedScheduleDay.
type TransmissionLogEntry struct {
	ID         ID
	ChannelID  ID
	StartUTCMs int64
	EndUTCMs   int64
	AssetRef   ID

	// SourceDay is the broadcast date (local midnight) of the
	// ResolvedScheduleDay this entry was expanded from. CarriesIn is
	// true when the entry's underlying SchedulableAsset began on the
	// prior broadcast day and was carried across the boundary.
	SourceDay time.Time
	CarriesIn bool
}

// Duration reports the entry's wall-clock span.
func (e TransmissionLogEntry) Duration() time.Duration {
	return time.Duration(e.EndUTCMs-e.StartUTCMs) * time.Millisecond
}

// ExecutionEntry is the runtime authority: the sole source of truth for
// what a channel airs at any instant within the committed horizon.
type ExecutionEntry struct {
	ID         ID
	ChannelID  ID
	StartUTCMs int64
	EndUTCMs   int64
	AssetRef   ID

	// TransmissionLogRef is set unless IsOperatorOverride is true; at
	// least one of the two MUST hold (derivation invariant).
	TransmissionLogRef *ID
	IsOperatorOverride bool

	Locked bool
}

// Derived reports whether the entry satisfies the derivation invariant.
func (e ExecutionEntry) Derived() bool {
	return e.TransmissionLogRef != nil || e.IsOperatorOverride
}

// AsRun is a read-only projection of an ExecutionEntry that actually aired
// within a broadcast-day window.
type AsRun struct {
	ExecutionEntryID ID
	ChannelID        ID
	StartUTCMs       int64
	EndUTCMs         int64
	AssetRef         ID

	// RuntimeRecovery marks a segment injected by the engine with no
	// planning origin (no matching ExecutionEntry), surfaced by
	// reconciliation rather than planning.
	RuntimeRecovery bool
}
