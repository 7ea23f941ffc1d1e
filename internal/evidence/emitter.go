package evidence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/core/internal/clock"
	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/pkg/logger"
)

// Emitter is the typed, fire-and-forget producer side of the spool: it
// stamps event ids and sequence numbers, marshals typed payloads, and
// tracks degraded-mode (spool_full) entry/exit so it is logged exactly
// once per transition rather than once per rejected event.
type Emitter struct {
	channelID        model.ID
	playoutSessionID string
	clk              clock.Clock
	spool            *Spool
	log              *logger.Logger

	mu       sync.Mutex
	lastSeq  uint64 // last sequence number the spool actually accepted
	degraded bool
}

// NewEmitter constructs an Emitter bound to one channel/session's spool.
func NewEmitter(channelID model.ID, playoutSessionID string, clk clock.Clock, spool *Spool, log *logger.Logger) *Emitter {
	if log == nil {
		log = logger.NewDefault("evidence")
	}
	return &Emitter{
		channelID:        channelID,
		playoutSessionID: playoutSessionID,
		clk:              clk,
		spool:            spool,
		log:              log,
		lastSeq:          spool.LastAppendedSequence(),
	}
}

func (e *Emitter) nowUTC() string {
	return time.UnixMilli(e.clk.NowUTCMs()).UTC().Format("2006-01-02T15:04:05.000Z")
}

// emit allocates the next sequence number, attempts to append, and only
// advances the counter on success. A rejected append (spool_full) leaves
// the counter where it was, so the next call — including a forced
// CHANNEL_TERMINATED announcing the rejection — retries the same sequence
// number the spool is still expecting, rather than drifting ahead of it.
func (e *Emitter) emit(payloadType model.PayloadType, payload interface{}, force bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		e.log.WithField("channel_id", e.channelID).WithError(err).Error("failed to marshal evidence payload")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.lastSeq + 1
	env := model.Envelope{
		SchemaVersion:    model.SchemaVersion,
		ChannelID:        string(e.channelID),
		PlayoutSessionID: e.playoutSessionID,
		Sequence:         seq,
		EventUUID:        uuid.NewString(),
		EmittedUTC:       e.nowUTC(),
		PayloadType:      payloadType,
		Payload:          body,
	}

	if err := e.spool.Append(env, force); err != nil {
		if !e.degraded {
			e.degraded = true
			e.spool.setDegraded(true)
			e.log.WithField("channel_id", e.channelID).WithError(err).Error("entering degraded mode: spool rejected an evidence event")
		}
		return
	}
	e.lastSeq = seq
	if e.degraded {
		e.degraded = false
		e.spool.setDegraded(false)
		e.log.WithField("channel_id", e.channelID).Info("exiting degraded mode: spool is accepting evidence again")
	}
}

// Degraded reports whether the most recent Append failed.
func (e *Emitter) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// EmitBlockStart records the structural start of a block. Blocks carry no
// typed payload fields beyond the envelope's timestamp and type.
func (e *Emitter) EmitBlockStart() {
	e.emit(model.BlockStart, struct{}{}, false)
}

// EmitSegmentStart records a segment beginning to air.
func (e *Emitter) EmitSegmentStart(executionEntryID, assetRef model.ID, startUTCMs int64) {
	e.emit(model.SegmentStart, model.SegmentStartPayload{
		ExecutionEntryID: string(executionEntryID),
		AssetRef:         string(assetRef),
		StartUTCMs:       startUTCMs,
	}, false)
}

// EmitSegmentEnd records a segment ending.
func (e *Emitter) EmitSegmentEnd(executionEntryID, assetRef model.ID, endUTCMs int64) {
	e.emit(model.SegmentEnd, model.SegmentEndPayload{
		ExecutionEntryID: string(executionEntryID),
		AssetRef:         string(assetRef),
		EndUTCMs:         endUTCMs,
	}, false)
}

// EmitBlockFence records a structural boundary between blocks.
func (e *Emitter) EmitBlockFence(atUTCMs int64) {
	e.emit(model.BlockFence, model.BlockFencePayload{AtUTCMs: atUTCMs}, false)
}

// EmitChannelTerminated announces the channel entering degraded mode or a
// terminal stop. It forces past the spool's pending-bytes cap: a channel
// that cannot report why it stopped is worse than a spool briefly over
// budget.
func (e *Emitter) EmitChannelTerminated(reason string) {
	e.emit(model.ChannelTerminated, model.ChannelTerminatedPayload{Reason: reason}, true)
}
