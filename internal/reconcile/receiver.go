// Package reconcile implements ReconciliationReceiver: the server side of
// the evidence pipeline. It ingests streamed envelopes, persists a
// monotonic per-session ack, and projects AsRun records by closing
// SEGMENT_START/SEGMENT_END pairs. BLOCK_FENCE events are deduplicated and
// acked like any other envelope but are not attributed to any AsRun record.
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
	"github.com/retrovue/core/pkg/logger"
)

// ExecutionLookup is the subset of ExecutionWindowStore the receiver uses
// to decide whether an aired segment has a planning origin.
type ExecutionLookup interface {
	EntryAt(ctx context.Context, channelID model.ID, utcMs int64) (model.ExecutionEntry, bool)
}

// AckPersister durably records a session's last-acknowledged sequence so
// a restarted receiver resumes acknowledging from where it left off
// instead of regressing.
type AckPersister interface {
	Load(sessionID string) (uint64, bool)
	Save(sessionID string, seq uint64) error
}

type openSegment struct {
	assetRef   model.ID
	entryID    model.ID
	startUTCMs int64
	recovery   bool
}

type sessionState struct {
	mu       sync.Mutex
	ackedSeq uint64
	seen     map[uint64]bool
	open     *openSegment
	asRuns   []model.AsRun
}

// Receiver is the per-process ReconciliationReceiver. It is safe for
// concurrent use by multiple session streams.
type Receiver struct {
	lookup ExecutionLookup
	acks   AckPersister
	log    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New constructs a Receiver. lookup may be nil, in which case every
// segment is classified as RUNTIME_RECOVERY (no planning data available).
func New(lookup ExecutionLookup, acks AckPersister, log *logger.Logger) *Receiver {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	return &Receiver{
		lookup:   lookup,
		acks:     acks,
		log:      log,
		sessions: make(map[string]*sessionState),
	}
}

func sessionKey(channelID model.ID, playoutSessionID string) string {
	return fmt.Sprintf("%s/%s", channelID, playoutSessionID)
}

func (r *Receiver) session(channelID model.ID, playoutSessionID string) *sessionState {
	key := sessionKey(channelID, playoutSessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if ok {
		return s
	}
	s = &sessionState{seen: make(map[uint64]bool)}
	if r.acks != nil {
		if seq, ok := r.acks.Load(key); ok {
			s.ackedSeq = seq
		}
	}
	r.sessions[key] = s
	return s
}

// Ack returns the current persisted ack for a session (0 if unknown).
func (r *Receiver) Ack(channelID model.ID, playoutSessionID string) uint64 {
	s := r.session(channelID, playoutSessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackedSeq
}

// AsRuns returns every AsRun record projected for a session so far.
func (r *Receiver) AsRuns(channelID model.ID, playoutSessionID string) []model.AsRun {
	s := r.session(channelID, playoutSessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AsRun(nil), s.asRuns...)
}

// Ingest applies one envelope to its session: dedups by sequence,
// projects AsRun records on SEGMENT_END, and advances the ack only
// forward. It returns the ack value to send back to the transport.
func (r *Receiver) Ingest(ctx context.Context, env model.Envelope) (uint64, error) {
	if env.SchemaVersion != model.SchemaVersion {
		return 0, retrovueerr.New(retrovueerr.CodeEvidenceSequenceGap, "Receiver.Ingest",
			fmt.Sprintf("schema_version %d not supported", env.SchemaVersion))
	}

	s := r.session(model.ID(env.ChannelID), env.PlayoutSessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[env.Sequence] {
		// at-least-once delivery: duplicates are expected, not an error.
		return s.ackedSeq, nil
	}
	s.seen[env.Sequence] = true

	switch env.PayloadType {
	case model.SegmentStart:
		r.handleSegmentStart(ctx, s, env)
	case model.SegmentEnd:
		r.handleSegmentEnd(s, env)
	case model.BlockFence, model.BlockStart, model.ChannelTerminated:
		// structural markers: no AsRun projection of their own.
	}

	if env.Sequence > s.ackedSeq {
		s.ackedSeq = env.Sequence
		if r.acks != nil {
			key := sessionKey(model.ID(env.ChannelID), env.PlayoutSessionID)
			if err := r.acks.Save(key, s.ackedSeq); err != nil {
				r.log.WithField("channel_id", env.ChannelID).WithError(err).Error("failed to persist evidence ack")
			}
		}
	}
	return s.ackedSeq, nil
}

func (r *Receiver) handleSegmentStart(ctx context.Context, s *sessionState, env model.Envelope) {
	var payload model.SegmentStartPayload
	if err := unmarshalPayload(env, &payload); err != nil {
		r.log.WithField("channel_id", env.ChannelID).WithError(err).Error("malformed SEGMENT_START payload")
		return
	}

	recovery := true
	if r.lookup != nil {
		if entry, ok := r.lookup.EntryAt(ctx, model.ID(env.ChannelID), payload.StartUTCMs); ok {
			if string(entry.AssetRef) == payload.AssetRef {
				recovery = false
			}
		}
	}

	s.open = &openSegment{
		assetRef:   model.ID(payload.AssetRef),
		entryID:    model.ID(payload.ExecutionEntryID),
		startUTCMs: payload.StartUTCMs,
		recovery:   recovery,
	}
}

func (r *Receiver) handleSegmentEnd(s *sessionState, env model.Envelope) {
	var payload model.SegmentEndPayload
	if err := unmarshalPayload(env, &payload); err != nil {
		r.log.WithField("channel_id", env.ChannelID).WithError(err).Error("malformed SEGMENT_END payload")
		return
	}

	open := s.open
	s.open = nil

	asRun := model.AsRun{
		ChannelID:  model.ID(env.ChannelID),
		AssetRef:   model.ID(payload.AssetRef),
		EndUTCMs:   payload.EndUTCMs,
		RuntimeRecovery: true,
	}
	if open != nil {
		asRun.ExecutionEntryID = open.entryID
		asRun.StartUTCMs = open.startUTCMs
		asRun.RuntimeRecovery = open.recovery
	}
	s.asRuns = append(s.asRuns, asRun)
}
