// Package evidence implements the EvidenceSpool + Emitter + Transport
// trio: a durable, append-only, crash-safe JSONL spool with an acked
// cursor; a writer thread draining an in-memory queue; and a resumable
// streaming client to the reconciliation service.
package evidence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
	"github.com/retrovue/core/pkg/logger"
)

// Config is the subset of retrovueconfig.Config the spool consumes.
type Config struct {
	MaxSpoolBytes   int64 // 0 = unlimited
	FlushInterval   time.Duration
	FlushRecordsMax int
}

type pendingRecord struct {
	seq   uint64
	bytes int
}

// Spool owns one channel/session's on-disk JSONL file and companion .ack
// file. Exactly one writer goroutine drains the in-memory append queue.
type Spool struct {
	channelID        model.ID
	playoutSessionID string
	dataPath         string
	ackPath          string

	cfg Config
	log *logger.Logger

	mu              sync.Mutex
	file            *os.File
	writer          *bufio.Writer
	queue           []model.Envelope
	lastAppendedSeq uint64
	pending         []pendingRecord
	pendingBytes    int64
	ackedSeq        uint64
	degraded        bool

	flushSignal chan struct{}
	closeCh     chan struct{}
	doneCh      chan struct{}
}

// New opens (creating if absent) the spool directory for one
// channel/session, recovers the last acked sequence from the .ack file if
// present, recovers the last appended sequence and the unacked pending
// records from the data file, and starts the writer goroutine.
func New(spoolRoot string, channelID model.ID, playoutSessionID string, cfg Config, log *logger.Logger) (*Spool, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 250 * time.Millisecond
	}
	if cfg.FlushRecordsMax <= 0 {
		cfg.FlushRecordsMax = 50
	}
	if log == nil {
		log = logger.NewDefault("evidence")
	}

	dir := filepath.Join(spoolRoot, string(channelID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, retrovueerr.Wrap(retrovueerr.CodeSpoolFull, "evidence.New", err)
	}
	dataPath := filepath.Join(dir, playoutSessionID+".spool.jsonl")
	ackPath := filepath.Join(dir, playoutSessionID+".ack")

	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, retrovueerr.Wrap(retrovueerr.CodeSpoolFull, "evidence.New", err)
	}

	s := &Spool{
		channelID:        channelID,
		playoutSessionID: playoutSessionID,
		dataPath:         dataPath,
		ackPath:          ackPath,
		cfg:              cfg,
		log:              log,
		file:             f,
		writer:           bufio.NewWriter(f),
		flushSignal:      make(chan struct{}, 1),
		closeCh:          make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	s.ackedSeq = readAckFile(ackPath)
	if data, err := os.ReadFile(dataPath); err == nil {
		for _, line := range bytes.Split(data, []byte("\n")) {
			var env model.Envelope
			if json.Unmarshal(line, &env) != nil {
				continue // empty or partial trailing line
			}
			s.lastAppendedSeq = env.Sequence
			if env.Sequence > s.ackedSeq {
				s.pending = append(s.pending, pendingRecord{seq: env.Sequence, bytes: len(line) + 1})
				s.pendingBytes += int64(len(line) + 1)
			}
		}
	}

	go s.runWriter()
	return s, nil
}

func readAckFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var seq uint64
	_, _ = fmt.Sscanf(string(data), "acked_sequence=%d", &seq)
	return seq
}

// Append validates and enqueues one envelope. A gap in strict sequence
// monotonicity is a fatal internal error (evidence_sequence_gap). If
// pending (appended-but-unacked) bytes would exceed MaxSpoolBytes, Append
// returns spool_full unless force is true (reserved for the emitter's own
// degraded-mode CHANNEL_TERMINATED announcement).
func (s *Spool) Append(env model.Envelope, force bool) error {
	if env.SchemaVersion != model.SchemaVersion {
		return retrovueerr.New(retrovueerr.CodeEvidenceSequenceGap, "Spool.Append",
			fmt.Sprintf("schema_version %d does not match current envelope version %d", env.SchemaVersion, model.SchemaVersion))
	}

	data, err := json.Marshal(env)
	if err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeEvidenceSequenceGap, "Spool.Append", err)
	}
	size := len(data) + 1 // newline

	s.mu.Lock()
	defer s.mu.Unlock()

	if env.Sequence != s.lastAppendedSeq+1 {
		return retrovueerr.New(retrovueerr.CodeEvidenceSequenceGap, "Spool.Append",
			fmt.Sprintf("sequence gap: expected %d, got %d", s.lastAppendedSeq+1, env.Sequence))
	}

	if !force && s.cfg.MaxSpoolBytes > 0 && s.pendingBytes+int64(size) > s.cfg.MaxSpoolBytes {
		return retrovueerr.New(retrovueerr.CodeSpoolFull, "Spool.Append", "pending spool bytes cap exceeded")
	}

	s.lastAppendedSeq = env.Sequence
	s.pendingBytes += int64(size)
	s.pending = append(s.pending, pendingRecord{seq: env.Sequence, bytes: size})
	s.queue = append(s.queue, env)

	if len(s.queue) >= s.cfg.FlushRecordsMax {
		select {
		case s.flushSignal <- struct{}{}:
		default:
		}
	}
	return nil
}

// PendingBytes reports the current appended-but-unacked byte count.
func (s *Spool) PendingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingBytes
}

// LastAppendedSequence reports the highest sequence accepted so far.
func (s *Spool) LastAppendedSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAppendedSeq
}

// AckedSequence reports the last persisted ack.
func (s *Spool) AckedSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackedSeq
}

// UpdateAck atomically rewrites the .ack file (tmp+rename) only if seq is
// greater than the currently persisted ack, and frees the corresponding
// pending-byte accounting so the cap can recover as delivery catches up.
func (s *Spool) UpdateAck(seq uint64) error {
	s.mu.Lock()
	if seq <= s.ackedSeq {
		s.mu.Unlock()
		return nil
	}
	s.ackedSeq = seq
	for len(s.pending) > 0 && s.pending[0].seq <= seq {
		s.pendingBytes -= int64(s.pending[0].bytes)
		s.pending = s.pending[1:]
	}
	s.mu.Unlock()

	tmp := s.ackPath + ".tmp"
	content := fmt.Sprintf("acked_sequence=%d\nupdated_utc=%s\n", seq, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeSpoolFull, "Spool.UpdateAck", err)
	}
	if err := os.Rename(tmp, s.ackPath); err != nil {
		return retrovueerr.Wrap(retrovueerr.CodeSpoolFull, "Spool.UpdateAck", err)
	}
	return nil
}

// Flush forces the writer to drain the current queue to disk immediately.
func (s *Spool) Flush() {
	select {
	case s.flushSignal <- struct{}{}:
	default:
	}
	s.waitForEmpty()
}

func (s *Spool) waitForEmpty() {
	for {
		s.mu.Lock()
		empty := len(s.queue) == 0
		s.mu.Unlock()
		if empty {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *Spool) runWriter() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closeCh:
			s.drain()
			return
		case <-ticker.C:
			s.drain()
		case <-s.flushSignal:
			s.drain()
		}
	}
}

func (s *Spool) drain() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, env := range batch {
		data, err := json.Marshal(env)
		if err != nil {
			s.log.WithField("channel_id", s.channelID).WithError(err).Error("failed to marshal evidence envelope")
			continue
		}
		if _, err := s.writer.Write(data); err != nil {
			s.log.WithField("channel_id", s.channelID).WithError(err).Error("evidence writer thread failed to write")
			continue
		}
		_ = s.writer.WriteByte('\n')
	}
	if err := s.writer.Flush(); err != nil {
		s.log.WithField("channel_id", s.channelID).WithError(err).Error("evidence writer thread failed to flush")
		return
	}
	_ = s.file.Sync()
}

// Replay returns every record with sequence > ackedSequence from the
// on-disk spool, in order. A partial trailing line left by a crash mid-
// write is ignored rather than causing re-sequencing.
func (s *Spool) Replay(ackedSequence uint64) ([]model.Envelope, error) {
	s.Flush()

	f, err := os.Open(s.dataPath)
	if err != nil {
		return nil, retrovueerr.Wrap(retrovueerr.CodeSpoolFull, "Spool.Replay", err)
	}
	defer f.Close()

	var out []model.Envelope
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines [][]byte
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, retrovueerr.Wrap(retrovueerr.CodeSpoolFull, "Spool.Replay", err)
	}

	for i, line := range lines {
		var env model.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			if i == len(lines)-1 {
				// trailing partial line from a crash mid-write: ignored.
				break
			}
			return nil, retrovueerr.New(retrovueerr.CodeEvidenceSequenceGap, "Spool.Replay",
				fmt.Sprintf("corrupt non-trailing spool line %d: %v", i, err))
		}
		if env.Sequence > ackedSequence {
			out = append(out, env)
		}
	}
	return out, nil
}

// Close stops the writer goroutine after a final drain and closes the file.
func (s *Spool) Close() error {
	close(s.closeCh)
	<-s.doneCh
	return s.file.Close()
}

// Degraded reports whether the spool is in spool_full degraded mode (the
// emitter owns the transition log, this flag is its bookkeeping mirror for
// callers that only hold the spool).
func (s *Spool) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Spool) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}
