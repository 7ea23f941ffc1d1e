package model

// BoundaryState is the per-channel boundary state machine's tagged enum.
type BoundaryState int

const (
	StateNone BoundaryState = iota
	StatePlanned
	StatePreloadIssued
	StateSwitchScheduled
	StateSwitchIssued
	StateLive
	StateFailedTerminal
)

func (s BoundaryState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StatePlanned:
		return "PLANNED"
	case StatePreloadIssued:
		return "PRELOAD_ISSUED"
	case StateSwitchScheduled:
		return "SWITCH_SCHEDULED"
	case StateSwitchIssued:
		return "SWITCH_ISSUED"
	case StateLive:
		return "LIVE"
	case StateFailedTerminal:
		return "FAILED_TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// Stable reports whether the state is one of the three stable states.
func (s BoundaryState) Stable() bool {
	return s == StateNone || s == StateLive || s == StateFailedTerminal
}

// Transient reports whether the state is mid-transition.
func (s BoundaryState) Transient() bool {
	return !s.Stable() && s != StateFailedTerminal
}

// legalTransitions enumerates the only allowed (from, to) boundary
// transitions, excluding the universal "* -> FAILED_TERMINAL" fatal path
// which CanTransition checks separately.
var legalTransitions = map[BoundaryState]map[BoundaryState]bool{
	StateNone:            {StatePlanned: true},
	StatePlanned:         {StatePreloadIssued: true},
	StatePreloadIssued:   {StateSwitchScheduled: true},
	StateSwitchScheduled: {StateSwitchIssued: true},
	StateSwitchIssued:    {StateLive: true},
	StateLive:            {StatePlanned: true},
}

// CanTransition reports whether moving from "from" to "to" is legal.
// FAILED_TERMINAL is reachable from any state (the universal fatal path).
func CanTransition(from, to BoundaryState) bool {
	if to == StateFailedTerminal {
		return from != StateFailedTerminal
	}
	return legalTransitions[from][to]
}
