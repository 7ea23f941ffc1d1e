// Package clock implements MasterClock, the control plane's single
// authoritative source of "now". Every other component takes a clock as an
// injected dependency rather than calling time.Now directly.
package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/retrovue/core/internal/retrovueerr"
)

// Role identifies who is attempting to set the session epoch.
type Role int

const (
	RoleLive Role = iota
	RolePreview
)

// Clock is the interface every component depends on. Production code uses
// *MasterClock; tests use *Fake.
type Clock interface {
	NowUTCMs() int64
	Monotonic() time.Duration
	WaitUntilUTCMs(deadline int64, cancel <-chan struct{}) bool
	TrySetEpochOnce(epochUTCMs int64, role Role) bool
	ResetEpochForNewSession()
	IsEpochLocked() bool
	EpochUTCMs() (int64, bool)
	IsFake() bool
}

// MasterClock is the production clock: wall time plus a monotonic
// reference point, with a single-shot, compare-exchange session epoch.
type MasterClock struct {
	monoStart time.Time

	epochLocked int32 // atomic bool
	epochMs     int64 // atomic
}

var _ Clock = (*MasterClock)(nil)

// New constructs a MasterClock anchored to the current wall-clock instant.
func New() *MasterClock {
	return &MasterClock{monoStart: time.Now()}
}

// NowUTCMs returns the current wall-clock time in UTC milliseconds.
func (c *MasterClock) NowUTCMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Monotonic returns elapsed time since the clock was constructed.
func (c *MasterClock) Monotonic() time.Duration {
	return time.Since(c.monoStart)
}

// WaitUntilUTCMs blocks until the wall clock reaches deadline or cancel
// fires, returning true if the deadline was reached and false if cancelled.
func (c *MasterClock) WaitUntilUTCMs(deadline int64, cancel <-chan struct{}) bool {
	for {
		now := c.NowUTCMs()
		if now >= deadline {
			return true
		}
		wait := time.Duration(deadline-now) * time.Millisecond
		if wait > time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-cancel:
			timer.Stop()
			return false
		}
	}
}

// TrySetEpochOnce is a single-shot compare-exchange: it succeeds only on
// the first call with role=RoleLive per session, that is, until
// ResetEpochForNewSession unlocks the epoch again.
func (c *MasterClock) TrySetEpochOnce(epochUTCMs int64, role Role) bool {
	if role != RoleLive {
		return false
	}
	if !atomic.CompareAndSwapInt32(&c.epochLocked, 0, 1) {
		return false
	}
	atomic.StoreInt64(&c.epochMs, epochUTCMs)
	return true
}

// ResetEpochForNewSession is the only mutation path other than the
// single-shot set; it is the session boundary reset.
func (c *MasterClock) ResetEpochForNewSession() {
	atomic.StoreInt32(&c.epochLocked, 0)
	atomic.StoreInt64(&c.epochMs, 0)
}

// IsEpochLocked reports whether the session epoch has been set.
func (c *MasterClock) IsEpochLocked() bool {
	return atomic.LoadInt32(&c.epochLocked) == 1
}

// EpochUTCMs returns the locked epoch, if any.
func (c *MasterClock) EpochUTCMs() (int64, bool) {
	if !c.IsEpochLocked() {
		return 0, false
	}
	return atomic.LoadInt64(&c.epochMs), true
}

// IsFake always reports false for the production clock.
func (c *MasterClock) IsFake() bool { return false }

// AuthorityViolation wraps any attempt to mutate clock state outside the
// single-shot epoch set or ResetEpochForNewSession.
func AuthorityViolation(op string) error {
	return retrovueerr.New(retrovueerr.CodeClockAuthority, op, "clock mutation outside the single-shot epoch set or session reset")
}

// Fake is the deterministic test variant: advance_us() moves time forward
// explicitly and WaitUntilUTCMs blocks on a condition variable rather than
// sleeping.
type Fake struct {
	mu      sync.Mutex
	cond    *sync.Cond
	nowMs   int64
	monoUs  int64
	epochLk bool
	epochMs int64
}

var _ Clock = (*Fake)(nil)

// NewFake constructs a deterministic clock starting at startUTCMs.
func NewFake(startUTCMs int64) *Fake {
	f := &Fake{nowMs: startUTCMs}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// AdvanceUs moves the fake clock forward by microseconds and wakes any
// waiters.
func (f *Fake) AdvanceUs(us int64) {
	f.mu.Lock()
	f.monoUs += us
	f.nowMs += us / 1000
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Advance is a millisecond-granularity convenience wrapper over AdvanceUs.
func (f *Fake) Advance(d time.Duration) {
	f.AdvanceUs(d.Microseconds())
}

func (f *Fake) NowUTCMs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nowMs
}

func (f *Fake) Monotonic() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.monoUs) * time.Microsecond
}

// WaitUntilUTCMs blocks on the fake's condition variable until the fake
// clock reaches deadline or cancel fires.
func (f *Fake) WaitUntilUTCMs(deadline int64, cancel <-chan struct{}) bool {
	stop := make(chan struct{})
	defer close(stop)
	if cancel != nil {
		go func() {
			select {
			case <-cancel:
				f.cond.Broadcast()
			case <-stop:
			}
		}()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for f.nowMs < deadline {
		select {
		case <-cancel:
			return false
		default:
		}
		f.cond.Wait()
	}
	return true
}

func (f *Fake) TrySetEpochOnce(epochUTCMs int64, role Role) bool {
	if role != RoleLive {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epochLk {
		return false
	}
	f.epochLk = true
	f.epochMs = epochUTCMs
	return true
}

func (f *Fake) ResetEpochForNewSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epochLk = false
	f.epochMs = 0
}

func (f *Fake) IsEpochLocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epochLk
}

func (f *Fake) EpochUTCMs() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.epochLk {
		return 0, false
	}
	return f.epochMs, true
}

// IsFake always reports true for the deterministic test clock.
func (f *Fake) IsFake() bool { return true }
