package channelmgr

import (
	"context"
	"testing"
	"time"

	"github.com/retrovue/core/internal/clock"
	"github.com/retrovue/core/internal/model"
	"github.com/retrovue/core/internal/retrovueerr"
)

type fakeEngine struct {
	startOK    bool
	previewOK  bool
	switchOK   bool
	stopCalled int
}

func (f *fakeEngine) StartChannel(ctx context.Context, channelID model.ID, planHandle string, port int) (bool, error) {
	return f.startOK, nil
}

func (f *fakeEngine) LoadPreview(ctx context.Context, channelID model.ID, assetRef model.ID, startOffsetMs, hardStopTimeMs int64) (bool, error) {
	return f.previewOK, nil
}

func (f *fakeEngine) SwitchToLive(ctx context.Context, channelID model.ID) (bool, bool, error) {
	return f.switchOK, true, nil
}

func (f *fakeEngine) StopChannel(ctx context.Context, channelID model.ID) (bool, error) {
	f.stopCalled++
	return true, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeEngine, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC).UnixMilli())
	eng := &fakeEngine{startOK: true, previewOK: true, switchOK: true}
	cfg := Config{
		StartupLatency:        2 * time.Second,
		MinPrefeedLeadTime:    1 * time.Second,
		TeardownGraceTimeout:  10 * time.Second,
		MaxStartupConvergence: 30 * time.Second,
		RPCTimeout:            2 * time.Second,
	}
	mgr := New("chan-1", fc, eng, cfg, nil)
	return mgr, eng, fc
}

func runToLive(t *testing.T, mgr *Manager, fc *clock.Fake) {
	t.Helper()
	ctx := context.Background()
	if err := mgr.Start(ctx, "plan-1", 9000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	boundary := Boundary{AssetRef: "asset-1", StartUTCMs: fc.NowUTCMs() + int64(5*time.Second/time.Millisecond)}
	if err := mgr.ChooseBoundary(ctx, boundary); err != nil {
		t.Fatalf("ChooseBoundary: %v", err)
	}
	if err := mgr.IssuePreload(ctx); err != nil {
		t.Fatalf("IssuePreload: %v", err)
	}
	if err := mgr.AckPreviewReady(ctx); err != nil {
		t.Fatalf("AckPreviewReady: %v", err)
	}
	if err := mgr.IssueSwitch(ctx); err != nil {
		t.Fatalf("IssueSwitch: %v", err)
	}
}

func TestLifecycle_ReachesLive(t *testing.T) {
	mgr, _, fc := newTestManager(t)
	runToLive(t, mgr, fc)
	if err := mgr.ConfirmLive(context.Background()); err != nil {
		t.Fatalf("ConfirmLive: %v", err)
	}
	if !mgr.IsLive() {
		t.Fatalf("expected IsLive, got state %s", mgr.State())
	}
}

func TestChooseBoundary_SkipsInfeasibleDuringConvergence(t *testing.T) {
	mgr, _, fc := newTestManager(t)
	ctx := context.Background()
	if err := mgr.Start(ctx, "plan-1", 9000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// boundary is immediate: infeasible given startup_latency+prefeed lead.
	if err := mgr.ChooseBoundary(ctx, Boundary{AssetRef: "asset-1", StartUTCMs: fc.NowUTCMs()}); err != nil {
		t.Fatalf("expected a skip (nil error) during convergence, got %v", err)
	}
	if mgr.State() != model.StateNone {
		t.Fatalf("expected state to remain NONE after a skipped boundary, got %s", mgr.State())
	}
}

func TestChooseBoundary_FatalAfterConvergenceWindowCloses(t *testing.T) {
	mgr, _, fc := newTestManager(t)
	ctx := context.Background()
	if err := mgr.Start(ctx, "plan-1", 9000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fc.Advance(31 * time.Second)
	err := mgr.ChooseBoundary(ctx, Boundary{AssetRef: "asset-1", StartUTCMs: fc.NowUTCMs()})
	if err == nil {
		t.Fatal("expected a fatal error once the convergence window has closed")
	}
	if mgr.State() != model.StateFailedTerminal {
		t.Fatalf("expected FAILED_TERMINAL, got %s", mgr.State())
	}
}

// Scenario D: teardown during SWITCH_ISSUED is arbitrated pending, then
// executes immediately once the state becomes stable (LIVE).
func TestScenarioD_TeardownDuringSwitchIsPendingThenExecutesOnLive(t *testing.T) {
	mgr, eng, fc := newTestManager(t)
	runToLive(t, mgr, fc)
	if mgr.State() != model.StateSwitchIssued {
		t.Fatalf("expected SWITCH_ISSUED, got %s", mgr.State())
	}

	if err := mgr.ViewerCountChanged(context.Background(), 0); err != nil {
		t.Fatalf("ViewerCountChanged: %v", err)
	}
	if !mgr.TeardownPending() {
		t.Fatal("expected teardown_pending=true while transient")
	}
	if eng.stopCalled != 0 {
		t.Fatalf("expected no StopChannel call yet, got %d", eng.stopCalled)
	}

	if err := mgr.ConfirmLive(context.Background()); err != nil {
		t.Fatalf("ConfirmLive: %v", err)
	}
	if !mgr.IsLive() {
		t.Fatal("expected the channel to reach LIVE before teardown executes")
	}
	if eng.stopCalled != 1 {
		t.Fatalf("expected teardown to execute immediately once stable, stopCalled=%d", eng.stopCalled)
	}
	if mgr.TeardownPending() {
		t.Fatal("expected teardown_pending to clear once executed")
	}
}

// Scenario F: an illegal transition is rejected and forces FAILED_TERMINAL.
func TestScenarioF_IllegalTransitionForcesFailedTerminal(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	if mgr.State() != model.StateNone {
		t.Fatalf("expected initial state NONE, got %s", mgr.State())
	}

	err := mgr.ConfirmLive(context.Background())
	if err == nil {
		t.Fatal("expected boundary_transition_violation")
	}
	code, ok := retrovueerr.CodeOf(err)
	if !ok || code != retrovueerr.CodeBoundaryTransition {
		t.Fatalf("expected CodeBoundaryTransition, got %v (ok=%v)", code, ok)
	}
	if mgr.State() != model.StateFailedTerminal {
		t.Fatalf("expected FAILED_TERMINAL, got %s", mgr.State())
	}
}

func TestStart_IsIdempotent(t *testing.T) {
	mgr, eng, _ := newTestManager(t)
	ctx := context.Background()
	if err := mgr.Start(ctx, "plan-1", 9000); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := mgr.Start(ctx, "plan-1", 9000); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	_ = eng
}
