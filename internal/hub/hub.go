// Package hub owns the registry of live lobbies. It never touches storage:
// callers load a session first and hand it over with EnsureLobby.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	State engine.Session
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Key   string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the running lobby for State.Key, starting one from
// State when there is none.
type EnsureLobby struct {
	State engine.Session
	Reply chan *lobby.Lobby
}

// RemoveLobby stops and forgets a lobby, e.g. once its game has ended.
type RemoveLobby struct {
	Key string
}

type ShutdownHub struct {
	Done chan struct{}
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	deps    lobby.Deps
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, deps lobby.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		deps:    deps,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				msg.Reply <- h.ensure(msg.State, false)

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Key] // may be nil

			case EnsureLobby:
				msg.Reply <- h.ensure(msg.State, true)

			case RemoveLobby:
				if lb := h.lobbies[msg.Key]; lb != nil {
					lb.Inbox() <- lobby.Shutdown{}
					delete(h.lobbies, msg.Key)
					h.logger.Debug("lobby removed", zap.String("session", msg.Key))
				}

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}

func (h *Hub) ensure(state engine.Session, loaded bool) *lobby.Lobby {
	if lb := h.lobbies[state.Key]; lb != nil {
		return lb
	}
	lb := lobby.NewLobby(h.ctx, h.deps, state)
	h.lobbies[state.Key] = lb
	if loaded {
		// A session restored from storage may already be mid-phase.
		lb.Inbox() <- lobby.PrimeTimer{}
	}
	h.logger.Debug("lobby started", zap.String("session", state.Key), zap.Int("lobbies", len(h.lobbies)))
	return lb
}

func (h *Hub) shutdown() {
	for key, lb := range h.lobbies {
		lb.Inbox() <- lobby.Shutdown{}
		delete(h.lobbies, key)
	}
}
