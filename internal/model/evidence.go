package model

import "encoding/json"

// SchemaVersion is the current evidence envelope wire version.
const SchemaVersion uint32 = 1

// PayloadType enumerates the structural playout events the engine reports.
type PayloadType string

const (
	BlockStart        PayloadType = "BLOCK_START"
	SegmentStart      PayloadType = "SEGMENT_START"
	SegmentEnd        PayloadType = "SEGMENT_END"
	BlockFence        PayloadType = "BLOCK_FENCE"
	ChannelTerminated PayloadType = "CHANNEL_TERMINATED"
)

// Envelope is the append-only evidence record: produced by the engine,
// owned by the spool on disk once appended.
type Envelope struct {
	SchemaVersion    uint32          `json:"schema_version"`
	ChannelID        string          `json:"channel_id"`
	PlayoutSessionID string          `json:"playout_session_id"`
	Sequence         uint64          `json:"sequence"`
	EventUUID        string          `json:"event_uuid"`
	EmittedUTC       string          `json:"emitted_utc"`
	PayloadType      PayloadType     `json:"payload_type"`
	Payload          json.RawMessage `json:"payload"`
}

// SegmentStartPayload is the payload body for a SEGMENT_START event.
type SegmentStartPayload struct {
	ExecutionEntryID string `json:"execution_entry_id,omitempty"`
	AssetRef         string `json:"asset_ref"`
	StartUTCMs       int64  `json:"start_utc_ms"`
}

// SegmentEndPayload is the payload body for a SEGMENT_END event.
type SegmentEndPayload struct {
	ExecutionEntryID string `json:"execution_entry_id,omitempty"`
	AssetRef         string `json:"asset_ref"`
	EndUTCMs         int64  `json:"end_utc_ms"`
}

// BlockFencePayload marks a structural boundary between blocks (e.g. a
// broadcast-day seam) without itself starting or ending a segment.
type BlockFencePayload struct {
	AtUTCMs int64 `json:"at_utc_ms"`
}

// ChannelTerminatedPayload reports the channel entering degraded mode or a
// terminal stop.
type ChannelTerminatedPayload struct {
	Reason string `json:"reason"`
}
