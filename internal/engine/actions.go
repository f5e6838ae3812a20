package engine

import "time"

func submitAction(s *Session, cmd Command) ([]Event, error) {
	if s.Status != StatusStarted {
		return nil, ErrNotStarted
	}
	if s.Phase != PhaseAction {
		return nil, ErrNotActionPhase
	}
	actor, err := s.activePlayer(cmd.Actor.UserID)
	if err != nil {
		return nil, err
	}

	switch cmd.Action {
	case ActionKill:
		err = submitKill(s, actor, cmd.TargetID)
	case ActionHeal:
		err = submitHeal(s, actor, cmd.TargetID)
	case ActionReveal:
		err = submitReveal(s, actor, cmd.TargetID)
	default:
		return nil, ErrUnsupportedAction
	}
	if err != nil {
		return nil, err
	}

	// Resubmission is allowed until the phase advances; last write wins.
	ev := Event{
		Type:    EvtActionSubmitted,
		ActorID: actor.UserID,
		Action:  cmd.Action,
		Round:   s.Round,
		At:      cmd.At,
	}
	switch cmd.Action {
	case ActionKill:
		ev.TargetID = s.Actions.MafiaKill.TargetID
	case ActionHeal:
		ev.TargetID = s.Actions.DoctorHeal.TargetID
	case ActionReveal:
		ev.TargetID = s.Actions.DetectiveReveal.TargetID
		ev.Role = s.Actions.DetectiveReveal.RevealedRole
	}
	return []Event{ev}, nil
}

func submitKill(s *Session, actor Player, targetID string) error {
	if actor.Role != RoleMafia {
		return ErrWrongRole
	}
	if targetID == "" {
		return ErrTargetRequired
	}
	if targetID == actor.UserID {
		return ErrSelfTarget
	}
	target, ok := s.Player(targetID)
	if !ok {
		return ErrTargetNotFound
	}
	if !target.IsActive {
		return ErrTargetEliminated
	}

	s.Actions.MafiaKill = &Kill{ActorID: actor.UserID, TargetID: targetID}
	return nil
}

func submitHeal(s *Session, actor Player, targetID string) error {
	if actor.Role != RoleDoctor {
		return ErrWrongRole
	}
	if targetID == "" {
		targetID = actor.UserID
	}
	if _, ok := s.Player(targetID); !ok {
		return ErrTargetNotFound
	}

	s.Actions.DoctorHeal = &Heal{ActorID: actor.UserID, TargetID: targetID}
	return nil
}

// submitReveal may target eliminated players; their role is still on
// record.
func submitReveal(s *Session, actor Player, targetID string) error {
	if actor.Role != RoleDetective {
		return ErrWrongRole
	}
	if targetID == "" {
		return ErrTargetRequired
	}
	target, ok := s.Player(targetID)
	if !ok {
		return ErrTargetNotFound
	}

	s.Actions.DetectiveReveal = &Reveal{
		ActorID:      actor.UserID,
		TargetID:     targetID,
		RevealedRole: target.Role,
		Round:        s.Round,
	}
	return nil
}

// resolveNight applies the kill unless the heal landed on the same target,
// records the round's reveal, and wipes the slate.
func resolveNight(s *Session, at time.Time) []Event {
	var events []Event

	kill, heal := s.Actions.MafiaKill, s.Actions.DoctorHeal
	switch {
	case kill == nil:
	case heal != nil && heal.TargetID == kill.TargetID:
		events = append(events, Event{
			Type:     EvtKillPrevented,
			TargetID: kill.TargetID,
			Round:    s.Round,
			At:       at,
		})
	default:
		if ev, ok := s.eliminate(kill.TargetID, CauseNight, at); ok {
			events = append(events, ev)
		}
	}

	if r := s.Actions.DetectiveReveal; r != nil {
		s.Reveals = append(s.Reveals, *r)
	}
	s.Actions = PhaseActions{}
	return events
}

func (s *Session) activePlayer(userID string) (Player, error) {
	p, ok := s.Player(userID)
	if !ok {
		return Player{}, ErrNotPlayer
	}
	if !p.IsActive {
		return Player{}, ErrEliminated
	}
	return p, nil
}

func (s *Session) eliminate(userID string, cause Cause, at time.Time) (Event, bool) {
	i := s.playerIndex(userID)
	if i < 0 || !s.Players[i].IsActive {
		return Event{}, false
	}
	s.Players[i].IsActive = false
	t := at
	s.Players[i].EliminatedAt = &t
	return Event{
		Type:     EvtPlayerEliminated,
		TargetID: userID,
		Role:     s.Players[i].Role,
		Cause:    cause,
		Round:    s.Round,
		At:       at,
	}, true
}
