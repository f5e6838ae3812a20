package engine

import (
	"slices"
	"time"
)

func castVote(s *Session, cmd Command) ([]Event, error) {
	if s.Status != StatusStarted {
		return nil, ErrNotStarted
	}
	if s.Phase != PhaseVoting {
		return nil, ErrNotVotingPhase
	}
	voter, err := s.activePlayer(cmd.Actor.UserID)
	if err != nil {
		return nil, err
	}
	if cmd.TargetID != "" {
		if cmd.TargetID == voter.UserID {
			return nil, ErrSelfTarget
		}
		target, ok := s.Player(cmd.TargetID)
		if !ok {
			return nil, ErrTargetNotFound
		}
		if !target.IsActive {
			return nil, ErrTargetEliminated
		}
	}

	// A skip still displaces the voter's earlier ballot this round.
	s.Votes = slices.DeleteFunc(s.Votes, func(v Vote) bool {
		return v.Round == s.Round && v.VoterID == voter.UserID
	})
	vote := Vote{
		VoterID:   voter.UserID,
		TargetID:  cmd.TargetID,
		Round:     s.Round,
		CreatedAt: cmd.At,
	}
	s.Votes = append(s.Votes, vote)

	return []Event{{
		Type:     EvtVoteCast,
		ActorID:  voter.UserID,
		TargetID: cmd.TargetID,
		Round:    s.Round,
		Vote:     &vote,
		At:       cmd.At,
	}}, nil
}

// Tally is the count of non-skip votes for one round.
type Tally struct {
	Counts map[string]int
	Max    int
	Leader string
	Tie    bool
}

// TallyVotes counts the round's non-skip votes. Leader is set only when a
// single target holds the maximum.
func TallyVotes(votes []Vote, round int) Tally {
	t := Tally{Counts: map[string]int{}}
	for _, v := range votes {
		if v.Round != round || v.IsSkip() {
			continue
		}
		t.Counts[v.TargetID]++
	}

	var leaders []string
	for target, n := range t.Counts {
		switch {
		case n > t.Max:
			t.Max = n
			leaders = []string{target}
		case n == t.Max:
			leaders = append(leaders, target)
		}
	}

	t.Tie = len(leaders) > 1
	if len(leaders) == 1 {
		t.Leader = leaders[0]
	}
	return t
}

func resolveVotes(s *Session, at time.Time) []Event {
	t := TallyVotes(s.Votes, s.Round)
	switch {
	case t.Max == 0:
		return []Event{{Type: EvtNoElimination, Cause: CauseNone, Round: s.Round, At: at}}
	case t.Tie:
		return []Event{{Type: EvtNoElimination, Cause: CauseTie, Round: s.Round, At: at}}
	}

	if ev, ok := s.eliminate(t.Leader, CauseVote, at); ok {
		return []Event{ev}
	}
	return []Event{{Type: EvtNoElimination, Cause: CauseNone, Round: s.Round, At: at}}
}

// pruneVotes keeps only votes of round or later.
func pruneVotes(votes []Vote, round int) []Vote {
	return slices.DeleteFunc(votes, func(v Vote) bool { return v.Round < round })
}
