package engine

import "time"

// PhaseOrder is the phase a running game moves to from each phase. Results
// is terminal and has no successor.
var PhaseOrder = map[Phase]Phase{
	PhaseWaiting: PhaseAction,
	PhaseAction:  PhaseVoting,
	PhaseVoting:  PhaseAction,
}

// PhaseDuration is the advisory length of a phase. Only action and voting
// are timed.
func (r Rules) PhaseDuration(p Phase) time.Duration {
	switch p {
	case PhaseAction:
		return r.ActionDuration
	case PhaseVoting:
		return r.VotingDuration
	default:
		return 0
	}
}

func (e *Engine) enterPhase(s *Session, p Phase, at time.Time) Event {
	s.Phase = p
	s.PhaseEndTime = at.Add(e.rules.PhaseDuration(p))
	if p == PhaseAction {
		s.Actions = PhaseActions{}
	}
	return Event{Type: EvtPhaseChanged, Phase: p, Round: s.Round, At: at}
}
