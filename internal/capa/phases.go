package capa

// Phase is one of the four fixed CAPA lifecycle phases.
type Phase string

const (
	PhaseCorrection                Phase = "correction"
	PhaseRootCauseAnalysis         Phase = "root_cause_analysis"
	PhaseCorrectiveAction          Phase = "corrective_action"
	PhaseEffectivenessVerification Phase = "effectiveness_verification"
)

var phaseOrder = map[Phase]int{
	PhaseCorrection:                1,
	PhaseRootCauseAnalysis:         2,
	PhaseCorrectiveAction:          3,
	PhaseEffectivenessVerification: 4,
}

// Phases lists all phases in canonical order.
var Phases = []Phase{
	PhaseCorrection,
	PhaseRootCauseAnalysis,
	PhaseCorrectiveAction,
	PhaseEffectivenessVerification,
}

// Valid reports whether p is one of the four phases.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Ordinal returns the 1-based position of the phase in the canonical order,
// or 0 for an unknown phase.
func (p Phase) Ordinal() int {
	return phaseOrder[p]
}

func (p Phase) String() string {
	return string(p)
}

// TransitionPolicy is the configurable allowed-transition table. Whether
// phases may be skipped is a product decision, so it ships in config
// rather than being hard-coded.
type TransitionPolicy struct {
	// StrictSequence restricts moves to the single next phase.
	StrictSequence bool `yaml:"strict_sequence"`
	// AllowBackward permits moving to an earlier phase (rework).
	AllowBackward bool `yaml:"allow_backward"`
}

// CanTransition reports whether moving from -> to is permitted. Staying in
// place is never a transition.
func (p TransitionPolicy) CanTransition(from, to Phase) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	delta := to.Ordinal() - from.Ordinal()
	if delta < 0 {
		return p.AllowBackward
	}
	if p.StrictSequence {
		return delta == 1
	}
	return true
}
