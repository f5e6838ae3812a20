package engine

// AssignRoles deals roles for n players: one mafia, one doctor, one
// detective, the rest citizens. The three special seats are drawn without
// replacement from a permutation produced by rng.
func AssignRoles(n int, rng Shuffler) ([]Role, error) {
	if n < MinPlayers {
		return nil, ErrInsufficientPlayers
	}

	seats := make([]int, n)
	for i := range seats {
		seats[i] = i
	}
	rng.Shuffle(n, func(i, j int) { seats[i], seats[j] = seats[j], seats[i] })

	roles := make([]Role, n)
	for i := range roles {
		roles[i] = RoleCitizen
	}
	roles[seats[0]] = RoleMafia
	roles[seats[1]] = RoleDoctor
	roles[seats[2]] = RoleDetective
	return roles, nil
}

func (e *Engine) start(s *Session, cmd Command) ([]Event, error) {
	if s.Status != StatusCreated {
		return nil, ErrAlreadyStarted
	}
	if !s.IsHost(cmd.Actor.UserID) {
		return nil, ErrNotHost
	}

	e.mu.Lock()
	roles, err := AssignRoles(len(s.Players), e.rng)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for i := range s.Players {
		s.Players[i].Role = roles[i]
		s.Players[i].IsActive = true
		s.Players[i].EliminatedAt = nil
	}
	s.Status = StatusStarted
	s.Round = 1
	s.Votes = []Vote{}
	s.Reveals = []Reveal{}

	events := []Event{{Type: EvtGameStarted, ActorID: cmd.Actor.UserID, Round: s.Round, At: cmd.At}}
	events = append(events, e.enterPhase(s, PhaseAction, cmd.At))
	return events, nil
}
