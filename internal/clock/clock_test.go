package clock

import (
	"sync"
	"testing"
	"time"
)

func TestMasterClockEpochSingleShot(t *testing.T) {
	c := New()
	if c.IsEpochLocked() {
		t.Fatal("epoch should start unlocked")
	}
	if !c.TrySetEpochOnce(1000, RoleLive) {
		t.Fatal("first LIVE set should succeed")
	}
	if c.TrySetEpochOnce(2000, RoleLive) {
		t.Fatal("second LIVE set should fail")
	}
	epoch, ok := c.EpochUTCMs()
	if !ok || epoch != 1000 {
		t.Fatalf("expected locked epoch 1000, got %d ok=%v", epoch, ok)
	}
}

func TestMasterClockPreviewCannotSetEpoch(t *testing.T) {
	c := New()
	if c.TrySetEpochOnce(1000, RolePreview) {
		t.Fatal("PREVIEW role must never set epoch")
	}
	if c.IsEpochLocked() {
		t.Fatal("epoch must remain unlocked after a PREVIEW attempt")
	}
}

func TestMasterClockResetAllowsNewEpoch(t *testing.T) {
	c := New()
	c.TrySetEpochOnce(1000, RoleLive)
	c.ResetEpochForNewSession()
	if c.IsEpochLocked() {
		t.Fatal("reset should unlock the epoch")
	}
	if !c.TrySetEpochOnce(2000, RoleLive) {
		t.Fatal("a new session should accept a fresh epoch set")
	}
}

func TestFakeAdvanceReleasesWaiters(t *testing.T) {
	f := NewFake(0)
	var wg sync.WaitGroup
	wg.Add(1)
	reached := false
	go func() {
		defer wg.Done()
		reached = f.WaitUntilUTCMs(5000, nil)
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter block on the cond
	f.Advance(5 * time.Second)
	wg.Wait()

	if !reached {
		t.Fatal("expected WaitUntilUTCMs to report deadline reached")
	}
	if f.NowUTCMs() != 5000 {
		t.Fatalf("expected fake now=5000, got %d", f.NowUTCMs())
	}
}

func TestFakeWaitCancels(t *testing.T) {
	f := NewFake(0)
	cancel := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		done <- f.WaitUntilUTCMs(5000, cancel)
	}()

	time.Sleep(20 * time.Millisecond)
	close(cancel)

	select {
	case reached := <-done:
		if reached {
			t.Fatal("expected cancellation, not deadline reached")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitUntilUTCMs did not return after cancel")
	}
}

func TestFakeIsFake(t *testing.T) {
	if New().IsFake() {
		t.Fatal("MasterClock must report IsFake()=false")
	}
	if !NewFake(0).IsFake() {
		t.Fatal("Fake must report IsFake()=true")
	}
}
