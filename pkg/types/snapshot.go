package types

import "time"

// Session is the display snapshot of a game: ids are paired with names so
// clients never need a second lookup.
type Session struct {
	Key          string       `json:"key"`
	Name         string       `json:"name"`
	TotalSlots   int          `json:"totalSlots"`
	Status       string       `json:"status"`
	Phase        string       `json:"phase"`
	Round        int          `json:"roundNumber"`
	Winner       string       `json:"winner,omitempty"`
	PhaseEndTime *time.Time   `json:"phaseEndTime,omitempty"`
	Version      int          `json:"version"`
	Players      []Player     `json:"players"`
	Actions      PhaseActions `json:"currentPhaseActions"`
	Votes        []Vote       `json:"votes"`
	Reveals      []Reveal     `json:"reveals"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	EndedAt      *time.Time   `json:"endedAt,omitempty"`
}

type Player struct {
	UserID       string     `json:"userId"`
	Name         string     `json:"name"`
	IsHost       bool       `json:"isHost"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"isActive"`
	EliminatedAt *time.Time `json:"eliminatedAt,omitempty"`
}

type PlayerRef struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type Action struct {
	Actor  PlayerRef `json:"actor"`
	Target PlayerRef `json:"target"`
}

type Reveal struct {
	Actor        PlayerRef `json:"actor"`
	Target       PlayerRef `json:"target"`
	RevealedRole string    `json:"revealedRole"`
	Round        int       `json:"round"`
}

type PhaseActions struct {
	MafiaKill       *Action `json:"mafiaKill,omitempty"`
	DoctorHeal      *Action `json:"doctorHeal,omitempty"`
	DetectiveReveal *Reveal `json:"detectiveReveal,omitempty"`
}

// Vote has a nil Target when the voter skipped.
type Vote struct {
	Voter     PlayerRef  `json:"voter"`
	Target    *PlayerRef `json:"target"`
	Round     int        `json:"round"`
	CreatedAt time.Time  `json:"createdAt"`
}

// GameEvent is the lightweight payload published next to each snapshot.
type GameEvent struct {
	Kind   string     `json:"kind"`
	Actor  *PlayerRef `json:"actor,omitempty"`
	Target *PlayerRef `json:"target,omitempty"`
	Action string     `json:"action,omitempty"`
	Role   string     `json:"role,omitempty"`
	Phase  string     `json:"phase,omitempty"`
	Round  int        `json:"round,omitempty"`
	Winner string     `json:"winner,omitempty"`
	Cause  string     `json:"cause,omitempty"`
	At     time.Time  `json:"at"`
}

// ChatMessage leaves Text empty in fan-out notifications for restricted
// channels.
type ChatMessage struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Author    PlayerRef `json:"author"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token,omitempty"`
}
