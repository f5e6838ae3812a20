package engine

import "time"

func (e *Engine) advance(s *Session, cmd Command) ([]Event, error) {
	if s.Status != StatusStarted {
		return nil, ErrNotStarted
	}
	if err := canAdvance(s, cmd); err != nil {
		return nil, err
	}

	var events []Event
	switch s.Phase {
	case PhaseAction:
		events = resolveNight(s, cmd.At)
	case PhaseVoting:
		events = resolveVotes(s, cmd.At)
	default:
		return nil, ErrNotStarted
	}

	if winner := decideWinner(s, events); winner != WinnerNone {
		return append(events, endGame(s, winner, cmd.At)...), nil
	}

	next := PhaseOrder[s.Phase]
	if next == PhaseAction {
		s.Round++
		s.Votes = pruneVotes(s.Votes, s.Round)
	}
	return append(events, e.enterPhase(s, next, cmd.At)), nil
}

// canAdvance lets internal callers advance at any time. The host may end a
// phase early by naming the version it saw; otherwise a phase only advances
// once its end time has passed, so repeated calls resolve it once.
func canAdvance(s *Session, cmd Command) error {
	if cmd.Actor.System {
		return nil
	}
	p, ok := s.Player(cmd.Actor.UserID)
	if !ok {
		return ErrNotPlayer
	}
	if p.IsHost && cmd.ExpectVersion == s.Version {
		return nil
	}
	if s.PhaseEndTime.IsZero() || cmd.At.Before(s.PhaseEndTime) {
		return ErrPhaseNotExpired
	}
	return nil
}

// decideWinner runs after every resolution. Eliminating the mafia ends the
// game for the citizens outright; otherwise the head count decides.
func decideWinner(s *Session, events []Event) Winner {
	for _, ev := range events {
		if ev.Type == EvtPlayerEliminated && ev.Role == RoleMafia {
			return WinnerCitizens
		}
	}
	return EvaluateWinner(s.Players)
}

// EvaluateWinner applies the head-count rule to active players. Mafia wins
// on parity, not only on majority.
func EvaluateWinner(players []Player) Winner {
	mafia, citizens := ActiveCounts(players)
	switch {
	case mafia == 0:
		return WinnerCitizens
	case mafia >= citizens:
		return WinnerMafia
	default:
		return WinnerNone
	}
}

func endGame(s *Session, winner Winner, at time.Time) []Event {
	s.Status = StatusEnded
	s.Phase = PhaseResults
	s.Winner = winner
	s.Actions = PhaseActions{}
	s.PhaseEndTime = time.Time{}
	t := at
	s.EndedAt = &t
	return []Event{
		{Type: EvtPhaseChanged, Phase: PhaseResults, Round: s.Round, At: at},
		{Type: EvtGameEnded, Winner: winner, Round: s.Round, At: at},
	}
}
