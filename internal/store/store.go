// Package store defines the persistence contract for game sessions, the
// vote log and chat logs.
package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateKey    = errors.New("session key already exists")
	ErrVersionConflict = errors.New("session was modified concurrently")
)

// Commit lists what a save adds beside the new document.
type Commit struct {
	Votes []engine.Vote
	// Channels are chat channels opened by this save. Opening an existing
	// channel is a no-op.
	Channels []engine.Channel
}

// Store persists session documents. SaveSession is a compare-and-swap on
// the session version: it writes s only if the stored version is still
// prevVersion, and applies c in the same unit, so either all of it lands
// or none of it does.
type Store interface {
	CreateSession(ctx context.Context, s engine.Session) error
	GetSession(ctx context.Context, key string) (engine.Session, error)
	SaveSession(ctx context.Context, s engine.Session, prevVersion int, c Commit) error
	ListVotes(ctx context.Context, key string) ([]engine.Vote, error)

	AppendMessage(ctx context.Context, msg engine.ChatMessage) error
	ListMessages(ctx context.Context, key string, ch engine.Channel) ([]engine.ChatMessage, error)

	Close() error
}
