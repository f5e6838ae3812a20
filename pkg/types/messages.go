package types

// Fan-out event names published to every subscriber of a session.
const (
	EventGameStateUpdate = "game-state-update"
	EventGameEvent       = "game-event"
	EventPhaseTransition = "phase-transition"
	EventPlayerAction    = "player-action"
	EventVoteUpdated     = "vote-updated"
	EventChatMessage     = "chat-message"
)

// Replies sent only to the socket that issued a command.
const (
	ReplyResult = "result"
	ReplyError  = "error"
)

// Client -> Server (websocket)
const (
	ClientSubmitAction = "submit_action"
	ClientCastVote     = "cast_vote"
	ClientAdvancePhase = "advance_phase"
	ClientPostChat     = "post_chat"
)

type ClientMessage struct {
	Type            string `json:"type"`
	RequestID       string `json:"requestId,omitempty"`
	ActionType      string `json:"actionType,omitempty"`
	TargetID        string `json:"targetId,omitempty"`
	Channel         string `json:"channel,omitempty"`
	Text            string `json:"text,omitempty"`
	ExpectedVersion int    `json:"expectedVersion,omitempty"`
}

// ServerMessage is the envelope for everything written to a socket.
type ServerMessage struct {
	Type      string `json:"type"`
	Session   string `json:"session,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Result is the reply shape of every public operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data"`
}

func OK(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func Fail(code, message string) Result {
	return Result{Success: false, Code: code, Message: message}
}

// HTTP request bodies.

type IdentityRequest struct {
	Name string `json:"name"`
}

type CreateSessionRequest struct {
	Name       string `json:"name"`
	TotalSlots int    `json:"totalSlots"`
}

type SubmitActionRequest struct {
	ActionType string `json:"actionType"`
	TargetID   string `json:"targetId,omitempty"`
}

type CastVoteRequest struct {
	TargetID string `json:"targetId,omitempty"`
}

type AdvancePhaseRequest struct {
	ExpectedVersion int `json:"expectedVersion,omitempty"`
}

type PostChatRequest struct {
	Text string `json:"text"`
}
