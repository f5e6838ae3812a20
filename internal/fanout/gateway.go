// Package fanout delivers committed session updates to connected sockets.
package fanout

import (
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/pkg/types"
)

// Publisher is the capability the game core needs from the transport.
type Publisher interface {
	Publish(sessionKey, event string, payload any)
}

// Gateway keeps one subscriber set per session. Delivery is best effort:
// a subscriber whose outbox is full is dropped and its outbox closed.
type Gateway struct {
	mu     sync.Mutex
	rooms  map[string]map[string]chan types.ServerMessage
	logger *zap.Logger
}

func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		rooms:  make(map[string]map[string]chan types.ServerMessage),
		logger: logger,
	}
}

// Subscribe registers outbox under clientID. The gateway owns the outbox
// from here on and closes it on Unsubscribe, drop or CloseAll.
func (g *Gateway) Subscribe(sessionKey, clientID string, outbox chan types.ServerMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[sessionKey]
	if !ok {
		room = make(map[string]chan types.ServerMessage)
		g.rooms[sessionKey] = room
	}
	if old, exists := room[clientID]; exists {
		close(old)
	}
	room[clientID] = outbox
}

func (g *Gateway) Unsubscribe(sessionKey, clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(sessionKey, clientID)
}

func (g *Gateway) removeLocked(sessionKey, clientID string) {
	room := g.rooms[sessionKey]
	ch, ok := room[clientID]
	if !ok {
		return
	}
	close(ch)
	delete(room, clientID)
	if len(room) == 0 {
		delete(g.rooms, sessionKey)
	}
}

func (g *Gateway) Publish(sessionKey, event string, payload any) {
	msg := types.ServerMessage{Type: event, Session: sessionKey, Data: payload}

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, ch := range g.rooms[sessionKey] {
		select {
		case ch <- msg:
		default:
			g.logger.Warn("dropping slow subscriber",
				zap.String("session", sessionKey),
				zap.String("client", id),
				zap.String("event", event))
			g.removeLocked(sessionKey, id)
		}
	}
}

// Subscribers reports how many sockets are attached to sessionKey.
func (g *Gateway) Subscribers(sessionKey string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms[sessionKey])
}

// CloseAll closes every outbox, ending all writer goroutines.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, room := range g.rooms {
		for _, ch := range room {
			close(ch)
		}
		delete(g.rooms, key)
	}
}
