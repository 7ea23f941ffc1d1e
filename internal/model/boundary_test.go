package model

import "testing"

func TestBoundaryState_StableAndTransient(t *testing.T) {
	stable := []BoundaryState{StateNone, StateLive, StateFailedTerminal}
	transient := []BoundaryState{StatePlanned, StatePreloadIssued, StateSwitchScheduled, StateSwitchIssued}

	for _, s := range stable {
		if !s.Stable() {
			t.Errorf("%s: expected Stable() true", s)
		}
		if s.Transient() {
			t.Errorf("%s: expected Transient() false", s)
		}
	}
	for _, s := range transient {
		if s.Stable() {
			t.Errorf("%s: expected Stable() false", s)
		}
		if !s.Transient() {
			t.Errorf("%s: expected Transient() true", s)
		}
	}
}

func TestCanTransition_LegalPath(t *testing.T) {
	path := []BoundaryState{
		StateNone, StatePlanned, StatePreloadIssued, StateSwitchScheduled, StateSwitchIssued, StateLive,
	}
	for i := 1; i < len(path); i++ {
		if !CanTransition(path[i-1], path[i]) {
			t.Errorf("expected %s -> %s to be legal", path[i-1], path[i])
		}
	}
	// LIVE loops back to PLANNED for the next boundary.
	if !CanTransition(StateLive, StatePlanned) {
		t.Error("expected LIVE -> PLANNED to be legal")
	}
}

func TestCanTransition_IllegalSkipsAndReversals(t *testing.T) {
	cases := []struct{ from, to BoundaryState }{
		{StateNone, StateLive},
		{StateNone, StatePreloadIssued},
		{StatePlanned, StateSwitchScheduled},
		{StatePlanned, StateNone},
		{StateLive, StateSwitchIssued},
		{StateSwitchIssued, StatePlanned},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be illegal", c.from, c.to)
		}
	}
}

func TestCanTransition_UniversalFailedTerminal(t *testing.T) {
	for s := StateNone; s <= StateLive; s++ {
		if !CanTransition(s, StateFailedTerminal) {
			t.Errorf("expected %s -> FAILED_TERMINAL to be legal", s)
		}
	}
	if CanTransition(StateFailedTerminal, StateFailedTerminal) {
		t.Error("expected FAILED_TERMINAL -> FAILED_TERMINAL to be illegal: terminal is absorbing, not re-enterable")
	}
}
