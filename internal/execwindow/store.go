// Package execwindow implements ExecutionWindowStore: the runtime
// authority holding committed ExecutionEntries per channel in time order.
// It enforces derivation, contiguity, single-authority-at-time, and
// immutability on every write, and projects broadcast-day windows
// read-only.
package execwindow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/retrovue/core/internal/bday"
	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
)

// channelWindow is one channel's committed entries, kept sorted by
// StartUTCMs and written under its own mutex so channels never contend.
type channelWindow struct {
	mu      sync.Mutex
	entries []*model.ExecutionEntry
	byID    map[model.ID]*model.ExecutionEntry
}

// Store is the in-memory ExecutionWindowStore.
type Store struct {
	mu       sync.RWMutex
	channels map[model.ID]*channelWindow
}

// New constructs an empty Store.
func New() *Store {
	return &Store{channels: make(map[model.ID]*channelWindow)}
}

func (s *Store) windowFor(channelID model.ID) *channelWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.channels[channelID]
	if !ok {
		w = &channelWindow{byID: make(map[model.ID]*model.ExecutionEntry)}
		s.channels[channelID] = w
	}
	return w
}

// AddEntries validates and commits a batch of entries for one channel,
// atomically: either every entry in the batch is committed or none are.
// enforceDerivation=false is reserved for operator-override batches: it
// skips the per-entry derivation check entirely, so IsOperatorOverride is
// not checked either. Contiguity and overlap are still enforced. Production
// callers always pass true.
func (s *Store) AddEntries(ctx context.Context, channelID model.ID, entries []model.ExecutionEntry, enforceDerivation bool) error {
	_ = ctx
	if len(entries) == 0 {
		return nil
	}

	w := s.windowFor(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()

	sorted := append([]model.ExecutionEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartUTCMs < sorted[j].StartUTCMs })

	if enforceDerivation {
		for _, e := range sorted {
			if !e.Derived() {
				return retrovueerr.New(retrovueerr.CodeInvDerivedFromTransLog, "Store.AddEntries",
					"entry has neither a transmission_log_ref nor is_operator_override set").
					WithOffending([]string{string(e.ID)}, "")
			}
		}
	}

	for i := 1; i < len(sorted); i++ {
		if sorted[i].StartUTCMs != sorted[i-1].EndUTCMs {
			return retrovueerr.New(retrovueerr.CodeInvNoGaps, "Store.AddEntries",
				"batch is not internally contiguous").
				WithOffending([]string{string(sorted[i-1].ID), string(sorted[i].ID)}, "")
		}
	}

	if len(w.entries) > 0 {
		tail := w.entries[len(w.entries)-1]
		if sorted[0].StartUTCMs < tail.EndUTCMs {
			return retrovueerr.New(retrovueerr.CodeInvSingleAuthority, "Store.AddEntries",
				"new batch overlaps the existing tail entry").
				WithOffending([]string{string(tail.ID), string(sorted[0].ID)}, "")
		}
		if sorted[0].StartUTCMs != tail.EndUTCMs {
			return retrovueerr.New(retrovueerr.CodeInvNoGaps, "Store.AddEntries",
				"new batch does not abut the existing tail entry").
				WithOffending([]string{string(tail.ID), string(sorted[0].ID)}, "")
		}
	}

	committed := make([]*model.ExecutionEntry, len(sorted))
	for i := range sorted {
		cp := sorted[i]
		committed[i] = &cp
	}
	w.entries = append(w.entries, committed...)
	for _, e := range committed {
		w.byID[e.ID] = e
	}
	return nil
}

// EntryAt returns the single entry covering utcMs, or false if none does.
func (s *Store) EntryAt(ctx context.Context, channelID model.ID, utcMs int64) (model.ExecutionEntry, bool) {
	_ = ctx
	w := s.windowFor(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()

	i := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].EndUTCMs > utcMs })
	if i == len(w.entries) || w.entries[i].StartUTCMs > utcMs {
		return model.ExecutionEntry{}, false
	}
	return *w.entries[i], true
}

// TailEndUTCMs returns the end timestamp of the last committed entry, for
// horizon-depth measurement. Returns (0, false) if the channel has no
// committed entries yet.
func (s *Store) TailEndUTCMs(ctx context.Context, channelID model.ID) (int64, bool) {
	_ = ctx
	w := s.windowFor(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0, false
	}
	return w.entries[len(w.entries)-1].EndUTCMs, true
}

// Lock transitions an entry to locked; once locked, its fields are
// immutable and further calls to Lock are idempotent no-ops.
func (s *Store) Lock(ctx context.Context, channelID model.ID, entryID model.ID) error {
	_ = ctx
	w := s.windowFor(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[entryID]
	if !ok {
		return retrovueerr.New(retrovueerr.CodeDerivationViolation, "Store.Lock", "unknown execution entry")
	}
	e.Locked = true
	return nil
}

// ProjectBroadcastDay intersects committed entries with the broadcast-day
// window [dayStart, dayStart+24h) anchored at the channel's configured
// programming_day_start_local. This is a read-only projection: it returns
// copies and never mutates or splits a stored entry, even when an entry
// straddles the window boundary (the straddling entry is returned whole,
// once, for each window it intersects).
func (s *Store) ProjectBroadcastDay(ctx context.Context, channelID model.ID, broadcastDate time.Time, dayStartHour, dayStartMinute int) []model.ExecutionEntry {
	_ = ctx
	winStart, winEnd := bday.Window(broadcastDate, dayStartHour, dayStartMinute)
	startMs, endMs := winStart.UnixMilli(), winEnd.UnixMilli()

	w := s.windowFor(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []model.ExecutionEntry
	for _, e := range w.entries {
		if e.EndUTCMs <= startMs {
			continue
		}
		if e.StartUTCMs >= endMs {
			break
		}
		out = append(out, *e)
	}
	return out
}

// Snapshot returns a copy of every committed entry for a channel, in time
// order. Intended for diagnostics and tests.
func (s *Store) Snapshot(channelID model.ID) []model.ExecutionEntry {
	w := s.windowFor(channelID)
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.ExecutionEntry, len(w.entries))
	for i, e := range w.entries {
		out[i] = *e
	}
	return out
}
