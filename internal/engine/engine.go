package engine

import (
	"sync"
	"time"

	"github.com/DoyleJ11/mafia-backend/internal/failure"
)

var (
	ErrUnauthenticated     = failure.New(failure.CodeUnauthenticated, "identity required")
	ErrAlreadyTerminal     = failure.New(failure.CodeAlreadyTerminal, "game has already ended")
	ErrAlreadyStarted      = failure.New(failure.CodeAlreadyStarted, "game has already started")
	ErrInsufficientPlayers = failure.New(failure.CodeInsufficientPlayers, "at least 6 players are needed to start")
	ErrNotStarted          = failure.New(failure.CodeInvalidState, "game has not started")
	ErrNotActionPhase      = failure.New(failure.CodeInvalidState, "role actions are only allowed during the action phase")
	ErrNotVotingPhase      = failure.New(failure.CodeInvalidState, "votes are only allowed during the voting phase")
	ErrSessionFull         = failure.New(failure.CodeInvalidState, "game is full")
	ErrNotHost             = failure.New(failure.CodeForbidden, "only the host can do that")
	ErrNotPlayer           = failure.New(failure.CodeForbidden, "you are not a player in this game")
	ErrEliminated          = failure.New(failure.CodeForbidden, "eliminated players cannot act")
	ErrWrongRole           = failure.New(failure.CodeForbidden, "your role cannot perform that action")
	ErrPhaseNotExpired     = failure.New(failure.CodeInvalidState, "the phase has not ended yet")
	ErrChannelForbidden    = failure.New(failure.CodeForbidden, "you cannot use this chat channel")
	ErrTargetNotFound      = failure.New(failure.CodeNotFound, "target player not found")
	ErrTargetRequired      = failure.New(failure.CodeValidation, "a target is required")
	ErrSelfTarget          = failure.New(failure.CodeValidation, "you cannot target yourself")
	ErrTargetEliminated    = failure.New(failure.CodeValidation, "target has been eliminated")
	ErrUnsupportedCommand  = failure.New(failure.CodeValidation, "unsupported command")
	ErrUnsupportedAction   = failure.New(failure.CodeValidation, "action type must be kill, heal or reveal")
	ErrInvalidName         = failure.New(failure.CodeValidation, "game name must be 1-64 characters")
	ErrInvalidSlots        = failure.New(failure.CodeValidation, "total slots out of range")
	ErrUnknownChannel      = failure.New(failure.CodeValidation, "channel must be all or mafia")
	ErrInvalidMessage      = failure.New(failure.CodeValidation, "message must be 1-500 characters")
)

// MinPlayers is the quorum needed to start a game.
const MinPlayers = 6

type Status string

const (
	StatusCreated Status = "created"
	StatusStarted Status = "started"
	StatusEnded   Status = "ended"
)

type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseAction  Phase = "action"
	PhaseVoting  Phase = "voting"
	PhaseResults Phase = "results"
)

type Role string

const (
	RoleMafia     Role = "mafia"
	RoleDoctor    Role = "doctor"
	RoleDetective Role = "detective"
	RoleCitizen   Role = "citizen"
)

type Winner string

const (
	WinnerNone     Winner = ""
	WinnerMafia    Winner = "mafia"
	WinnerCitizens Winner = "citizens"
)

type ActionType string

const (
	ActionKill   ActionType = "kill"
	ActionHeal   ActionType = "heal"
	ActionReveal ActionType = "reveal"
)

type Player struct {
	UserID       string     `json:"userId"`
	Name         string     `json:"name"`
	IsHost       bool       `json:"isHost"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"isActive"`
	EliminatedAt *time.Time `json:"eliminatedAt,omitempty"`
	JoinedAt     time.Time  `json:"joinedAt"`
}

type Kill struct {
	ActorID  string `json:"actorId"`
	TargetID string `json:"targetId"`
}

type Heal struct {
	ActorID  string `json:"actorId"`
	TargetID string `json:"targetId"`
}

// Reveal keeps the role the target had when the detective looked.
type Reveal struct {
	ActorID      string `json:"actorId"`
	TargetID     string `json:"targetId"`
	RevealedRole Role   `json:"revealedRole"`
	Round        int    `json:"round"`
}

// PhaseActions is the per-round slate of hidden role actions.
type PhaseActions struct {
	MafiaKill       *Kill   `json:"mafiaKill,omitempty"`
	DoctorHeal      *Heal   `json:"doctorHeal,omitempty"`
	DetectiveReveal *Reveal `json:"detectiveReveal,omitempty"`
}

// Vote is a day-phase ballot. An empty TargetID is a skip.
type Vote struct {
	VoterID   string    `json:"voterId"`
	TargetID  string    `json:"targetId,omitempty"`
	Round     int       `json:"round"`
	CreatedAt time.Time `json:"createdAt"`
}

func (v Vote) IsSkip() bool { return v.TargetID == "" }

// Session is the root aggregate of one match.
type Session struct {
	Key          string       `json:"key"`
	Name         string       `json:"name"`
	TotalSlots   int          `json:"totalSlots"`
	Status       Status       `json:"status"`
	Phase        Phase        `json:"phase"`
	Round        int          `json:"round"`
	Players      []Player     `json:"players"`
	PhaseEndTime time.Time    `json:"phaseEndTime"`
	Actions      PhaseActions `json:"currentPhaseActions"`
	Votes        []Vote       `json:"votes"`
	Reveals      []Reveal     `json:"reveals"`
	Winner       Winner       `json:"winner"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	EndedAt      *time.Time   `json:"endedAt,omitempty"`
}

// Actor is the identity behind a command. System actors are internal
// callers such as the phase timer.
type Actor struct {
	UserID string
	Name   string
	System bool
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdStart        CommandType = "Start"
	CmdSubmitAction CommandType = "SubmitAction"
	CmdCastVote     CommandType = "CastVote"
	CmdAdvancePhase CommandType = "AdvancePhase"
)

/*
	CmdJoin         -> EvtPlayerJoined
	CmdStart        -> EvtGameStarted -> EvtPhaseChanged(action)
	CmdSubmitAction -> EvtActionSubmitted
	CmdCastVote     -> EvtVoteCast
	CmdAdvancePhase -> action: EvtPlayerEliminated|EvtKillPrevented -> EvtPhaseChanged(voting) or EvtPhaseChanged(results) -> EvtGameEnded
	                   voting: EvtPlayerEliminated|EvtNoElimination -> EvtPhaseChanged(action) or EvtPhaseChanged(results) -> EvtGameEnded
*/

type Command struct {
	Type     CommandType
	Actor    Actor
	Action   ActionType
	TargetID string
	// ExpectVersion guards CmdAdvancePhase: when non-zero and different
	// from the session version the command is a no-op. A matching version
	// also lets the host advance before the phase end time.
	ExpectVersion int
	At            time.Time
}

type EventType string

const (
	EvtPlayerJoined     EventType = "PlayerJoined"
	EvtGameStarted      EventType = "GameStarted"
	EvtActionSubmitted  EventType = "ActionSubmitted"
	EvtVoteCast         EventType = "VoteCast"
	EvtPlayerEliminated EventType = "PlayerEliminated"
	EvtKillPrevented    EventType = "KillPrevented"
	EvtNoElimination    EventType = "NoElimination"
	EvtPhaseChanged     EventType = "PhaseChanged"
	EvtGameEnded        EventType = "GameEnded"
)

type Cause string

const (
	CauseNight Cause = "night"
	CauseVote  Cause = "vote"
	CauseTie   Cause = "tie"
	CauseNone  Cause = "no_votes"
)

type Event struct {
	Type     EventType
	ActorID  string
	TargetID string
	Action   ActionType
	Role     Role
	Phase    Phase
	Round    int
	Winner   Winner
	Cause    Cause
	Vote     *Vote
	At       time.Time
}

// Shuffler is the random source used for role assignment. *rand.Rand from
// math/rand/v2 satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Rules holds the tunable parts of a game.
type Rules struct {
	ActionDuration time.Duration
	VotingDuration time.Duration
	MaxSlots       int
}

func DefaultRules() Rules {
	return Rules{
		ActionDuration: 90 * time.Second,
		VotingDuration: 120 * time.Second,
		MaxSlots:       20,
	}
}

// Engine applies commands to sessions. It holds no session state, callers
// are responsible for serializing commands per session.
type Engine struct {
	rules Rules

	mu  sync.Mutex
	rng Shuffler
}

func New(rules Rules, rng Shuffler) *Engine {
	return &Engine{rules: rules, rng: rng}
}

func (e *Engine) Rules() Rules { return e.rules }

// Apply validates cmd against s and returns the resulting events and state.
// On error, or when the command changes nothing, s is returned untouched.
func (e *Engine) Apply(s Session, cmd Command) ([]Event, Session, error) {
	if s.Status == StatusEnded {
		return nil, s, ErrAlreadyTerminal
	}
	if cmd.Type == CmdAdvancePhase && cmd.ExpectVersion != 0 && cmd.ExpectVersion != s.Version {
		// Someone else already advanced from the state this caller saw.
		return nil, s, nil
	}
	if cmd.Actor.UserID == "" && !cmd.Actor.System {
		return nil, s, ErrUnauthenticated
	}

	next := s.Clone()
	var (
		events []Event
		err    error
	)

	switch cmd.Type {
	case CmdJoin:
		events, err = join(&next, cmd)
	case CmdStart:
		events, err = e.start(&next, cmd)
	case CmdSubmitAction:
		events, err = submitAction(&next, cmd)
	case CmdCastVote:
		events, err = castVote(&next, cmd)
	case CmdAdvancePhase:
		events, err = e.advance(&next, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}

	if err != nil {
		return nil, s, err
	}
	if len(events) == 0 {
		return nil, s, nil
	}
	next.UpdatedAt = cmd.At
	return events, next, nil
}

func join(s *Session, cmd Command) ([]Event, error) {
	if s.Status != StatusCreated {
		return nil, ErrAlreadyStarted
	}
	if cmd.Actor.System {
		return nil, ErrUnsupportedCommand
	}
	if s.playerIndex(cmd.Actor.UserID) >= 0 {
		return nil, nil
	}
	if len(s.Players) >= s.TotalSlots {
		return nil, ErrSessionFull
	}

	s.Players = append(s.Players, Player{
		UserID:   cmd.Actor.UserID,
		Name:     cmd.Actor.Name,
		Role:     RoleCitizen,
		IsActive: true,
		JoinedAt: cmd.At,
	})
	return []Event{{Type: EvtPlayerJoined, ActorID: cmd.Actor.UserID, At: cmd.At}}, nil
}
