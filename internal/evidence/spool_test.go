package evidence

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/retrovue/core/internal/model"
)

func mustEnvelope(t *testing.T, seq uint64) model.Envelope {
	t.Helper()
	payload, err := json.Marshal(model.BlockFencePayload{AtUTCMs: int64(seq) * 1000})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return model.Envelope{
		SchemaVersion:    model.SchemaVersion,
		ChannelID:        "chan-1",
		PlayoutSessionID: "session-1",
		Sequence:         seq,
		EventUUID:        "00000000-0000-0000-0000-000000000000",
		EmittedUTC:       "2026-07-30T08:00:00.000Z",
		PayloadType:      model.BlockFence,
		Payload:          payload,
	}
}

func TestAppend_RejectsSequenceGap(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "chan-1", "session-1", Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Append(mustEnvelope(t, 1), false); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.Append(mustEnvelope(t, 3), false); err == nil {
		t.Fatal("expected a sequence-gap error, got nil")
	}
}

func TestAppend_EnforcesPendingBytesCapUnlessForced(t *testing.T) {
	dir := t.TempDir()
	env1 := mustEnvelope(t, 1)
	encoded, _ := json.Marshal(env1)
	cfg := Config{MaxSpoolBytes: int64(len(encoded) + 1)} // room for exactly one record and its newline
	s, err := New(dir, "chan-1", "session-1", cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Append(env1, false); err != nil {
		t.Fatalf("first append should fit the cap: %v", err)
	}
	if err := s.Append(mustEnvelope(t, 2), false); err == nil {
		t.Fatal("expected spool_full once the pending-bytes cap is exceeded")
	}
	if err := s.Append(mustEnvelope(t, 2), true); err != nil {
		t.Fatalf("forced append should bypass the cap: %v", err)
	}
}

func TestUpdateAck_RecoversPendingBytes(t *testing.T) {
	dir := t.TempDir()
	env1 := mustEnvelope(t, 1)
	encoded, _ := json.Marshal(env1)
	cfg := Config{MaxSpoolBytes: int64(len(encoded) + 1)}
	s, err := New(dir, "chan-1", "session-1", cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Append(env1, false); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.UpdateAck(1); err != nil {
		t.Fatalf("UpdateAck: %v", err)
	}
	if s.PendingBytes() != 0 {
		t.Fatalf("expected pending bytes to drain to zero after ack, got %d", s.PendingBytes())
	}
	if err := s.Append(mustEnvelope(t, 2), false); err != nil {
		t.Fatalf("expected the cap to have recovered: %v", err)
	}
}

// Scenario E: evidence crash-recovery. Emit 1..100, ack 0..60, simulate a
// restart against the same on-disk files, and confirm replay streams
// 61..100 while new appends continue the sequence from 101.
func TestScenarioE_CrashRecoveryReplaysUnackedAndResumesSequence(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(dir, "chan-1", "session-1", Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for seq := uint64(1); seq <= 100; seq++ {
		if err := s1.Append(mustEnvelope(t, seq), false); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	if err := s1.UpdateAck(60); err != nil {
		t.Fatalf("UpdateAck: %v", err)
	}
	s1.Flush()
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := New(dir, "chan-1", "session-1", Config{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if got := s2.AckedSequence(); got != 60 {
		t.Fatalf("expected recovered acked sequence 60, got %d", got)
	}

	replayed, err := s2.Replay(s2.AckedSequence())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 40 {
		t.Fatalf("expected 40 unacked records (61..100), got %d", len(replayed))
	}
	if replayed[0].Sequence != 61 || replayed[len(replayed)-1].Sequence != 100 {
		t.Fatalf("expected replay range 61..100, got %d..%d", replayed[0].Sequence, replayed[len(replayed)-1].Sequence)
	}

	if err := s2.Append(mustEnvelope(t, 101), false); err != nil {
		t.Fatalf("append 101 after recovery: %v", err)
	}
	if got := s2.LastAppendedSequence(); got != 101 {
		t.Fatalf("expected sequence to continue from 101, got %d", got)
	}
}

func TestReplay_IgnoresTrailingPartialLine(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "chan-1", "session-1", Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for seq := uint64(1); seq <= 5; seq++ {
		if err := s.Append(mustEnvelope(t, seq), false); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	s.Flush()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.OpenFile(s.dataPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteString(`{"sequence":6,"schema_vers`); err != nil {
		t.Fatalf("write partial line: %v", err)
	}
	f.Close()

	s2, err := New(dir, "chan-1", "session-1", Config{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	replayed, err := s2.Replay(0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(replayed) != 5 {
		t.Fatalf("expected the 5 well-formed records and the trailing partial ignored, got %d", len(replayed))
	}
}
