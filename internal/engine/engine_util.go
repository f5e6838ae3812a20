package engine

import (
	"strings"
	"time"
	"unicode/utf8"
)

const maxNameLength = 64

// NewSession builds a session in the lobby state with host as its only
// player.
func (e *Engine) NewSession(key, name string, totalSlots int, host Actor, at time.Time) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return Session{}, ErrInvalidName
	}
	if totalSlots < MinPlayers || totalSlots > e.rules.MaxSlots {
		return Session{}, ErrInvalidSlots
	}
	if host.UserID == "" || host.System {
		return Session{}, ErrUnauthenticated
	}

	return Session{
		Key:        key,
		Name:       name,
		TotalSlots: totalSlots,
		Status:     StatusCreated,
		Phase:      PhaseWaiting,
		Round:      1,
		Players: []Player{{
			UserID:   host.UserID,
			Name:     host.Name,
			IsHost:   true,
			Role:     RoleCitizen,
			IsActive: true,
			JoinedAt: at,
		}},
		Votes:     []Vote{},
		Reveals:   []Reveal{},
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}, nil
}

// Clone returns a deep copy so a failed command never leaks into the
// caller's state.
func (s Session) Clone() Session {
	c := s
	c.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		if p.EliminatedAt != nil {
			t := *p.EliminatedAt
			p.EliminatedAt = &t
		}
		c.Players[i] = p
	}
	if s.Actions.MafiaKill != nil {
		k := *s.Actions.MafiaKill
		c.Actions.MafiaKill = &k
	}
	if s.Actions.DoctorHeal != nil {
		h := *s.Actions.DoctorHeal
		c.Actions.DoctorHeal = &h
	}
	if s.Actions.DetectiveReveal != nil {
		r := *s.Actions.DetectiveReveal
		c.Actions.DetectiveReveal = &r
	}
	c.Votes = append([]Vote{}, s.Votes...)
	c.Reveals = append([]Reveal{}, s.Reveals...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return c
}

func (s Session) playerIndex(userID string) int {
	if userID == "" {
		return -1
	}
	for i, p := range s.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// Player looks up a player by user id.
func (s Session) Player(userID string) (Player, bool) {
	i := s.playerIndex(userID)
	if i < 0 {
		return Player{}, false
	}
	return s.Players[i], true
}

func (s Session) IsHost(userID string) bool {
	p, ok := s.Player(userID)
	return ok && p.IsHost
}

// LiveVotes returns the votes of the current round.
func (s Session) LiveVotes() []Vote {
	live := []Vote{}
	for _, v := range s.Votes {
		if v.Round == s.Round {
			live = append(live, v)
		}
	}
	return live
}

// ActiveCounts returns the number of active mafia and active non-mafia
// players.
func ActiveCounts(players []Player) (mafia, citizens int) {
	for _, p := range players {
		if !p.IsActive {
			continue
		}
		if p.Role == RoleMafia {
			mafia++
		} else {
			citizens++
		}
	}
	return mafia, citizens
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
