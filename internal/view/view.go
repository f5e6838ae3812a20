// Package view turns engine state into the display shapes of pkg/types.
package view

import (
	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/pkg/types"
)

func ref(s engine.Session, userID string) types.PlayerRef {
	p, ok := s.Player(userID)
	if !ok {
		return types.PlayerRef{UserID: userID}
	}
	return types.PlayerRef{UserID: p.UserID, Name: p.Name}
}

func optionalRef(s engine.Session, userID string) *types.PlayerRef {
	if userID == "" {
		return nil
	}
	r := ref(s, userID)
	return &r
}

// Session builds the full snapshot of s.
func Session(s engine.Session) types.Session {
	out := types.Session{
		Key:        s.Key,
		Name:       s.Name,
		TotalSlots: s.TotalSlots,
		Status:     string(s.Status),
		Phase:      string(s.Phase),
		Round:      s.Round,
		Winner:     string(s.Winner),
		Version:    s.Version,
		Players:    make([]types.Player, 0, len(s.Players)),
		Votes:      make([]types.Vote, 0, len(s.Votes)),
		Reveals:    make([]types.Reveal, 0, len(s.Reveals)),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		EndedAt:    s.EndedAt,
	}
	if !s.PhaseEndTime.IsZero() {
		t := s.PhaseEndTime
		out.PhaseEndTime = &t
	}

	for _, p := range s.Players {
		out.Players = append(out.Players, types.Player{
			UserID:       p.UserID,
			Name:         p.Name,
			IsHost:       p.IsHost,
			Role:         string(p.Role),
			IsActive:     p.IsActive,
			EliminatedAt: p.EliminatedAt,
		})
	}

	if k := s.Actions.MafiaKill; k != nil {
		out.Actions.MafiaKill = &types.Action{Actor: ref(s, k.ActorID), Target: ref(s, k.TargetID)}
	}
	if h := s.Actions.DoctorHeal; h != nil {
		out.Actions.DoctorHeal = &types.Action{Actor: ref(s, h.ActorID), Target: ref(s, h.TargetID)}
	}
	if r := s.Actions.DetectiveReveal; r != nil {
		rv := reveal(s, *r)
		out.Actions.DetectiveReveal = &rv
	}

	for _, v := range s.LiveVotes() {
		out.Votes = append(out.Votes, Vote(s, v))
	}
	for _, r := range s.Reveals {
		out.Reveals = append(out.Reveals, reveal(s, r))
	}
	return out
}

func reveal(s engine.Session, r engine.Reveal) types.Reveal {
	return types.Reveal{
		Actor:        ref(s, r.ActorID),
		Target:       ref(s, r.TargetID),
		RevealedRole: string(r.RevealedRole),
		Round:        r.Round,
	}
}

func Vote(s engine.Session, v engine.Vote) types.Vote {
	return types.Vote{
		Voter:     ref(s, v.VoterID),
		Target:    optionalRef(s, v.TargetID),
		Round:     v.Round,
		CreatedAt: v.CreatedAt,
	}
}

// EventName maps an engine event to the fan-out event it is published as.
func EventName(t engine.EventType) string {
	switch t {
	case engine.EvtPhaseChanged:
		return types.EventPhaseTransition
	case engine.EvtActionSubmitted:
		return types.EventPlayerAction
	case engine.EvtVoteCast:
		return types.EventVoteUpdated
	default:
		return types.EventGameEvent
	}
}

// Event builds the payload for ev against the post-commit session.
func Event(s engine.Session, ev engine.Event) types.GameEvent {
	out := types.GameEvent{
		Kind:   string(ev.Type),
		Actor:  optionalRef(s, ev.ActorID),
		Phase:  string(ev.Phase),
		Round:  ev.Round,
		Winner: string(ev.Winner),
		Cause:  string(ev.Cause),
		Action: string(ev.Action),
		At:     ev.At,
	}
	// Night actions announce who acted, not on whom.
	if ev.Type != engine.EvtActionSubmitted {
		out.Target = optionalRef(s, ev.TargetID)
		out.Role = string(ev.Role)
	}
	return out
}

// Message converts a chat message. Text is dropped when redact is set.
func Message(m engine.ChatMessage, redact bool) types.ChatMessage {
	out := types.ChatMessage{
		ID:        m.ID,
		Channel:   string(m.Channel),
		Author:    types.PlayerRef{UserID: m.AuthorID, Name: m.AuthorName},
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
	if redact {
		out.Text = ""
	}
	return out
}

func Messages(msgs []engine.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message(m, false))
	}
	return out
}

// VoteHistory resolves names for a vote log.
func VoteHistory(s engine.Session, votes []engine.Vote) []types.Vote {
	out := make([]types.Vote, 0, len(votes))
	for _, v := range votes {
		out = append(out, Vote(s, v))
	}
	return out
}
