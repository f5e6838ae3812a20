// Package memory is an in-process Store used for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/store"
)

type channelKey struct {
	session string
	channel engine.Channel
}

// Store keeps deep copies so callers never share memory with it.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]engine.Session
	votes    map[string][]engine.Vote
	chat     map[channelKey][]engine.ChatMessage
}

func New() *Store {
	return &Store{
		sessions: make(map[string]engine.Session),
		votes:    make(map[string][]engine.Vote),
		chat:     make(map[channelKey][]engine.ChatMessage),
	}
}

func (s *Store) CreateSession(ctx context.Context, sess engine.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.Key]; exists {
		return store.ErrDuplicateKey
	}
	s.sessions[sess.Key] = sess.Clone()
	return nil
}

func (s *Store) GetSession(ctx context.Context, key string) (engine.Session, error) {
	if err := ctx.Err(); err != nil {
		return engine.Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return engine.Session{}, store.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) SaveSession(ctx context.Context, sess engine.Session, prevVersion int, c store.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sess.Key]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != prevVersion {
		return store.ErrVersionConflict
	}
	s.sessions[sess.Key] = sess.Clone()
	s.votes[sess.Key] = append(s.votes[sess.Key], c.Votes...)
	for _, ch := range c.Channels {
		k := channelKey{session: sess.Key, channel: ch}
		if _, ok := s.chat[k]; !ok {
			s.chat[k] = []engine.ChatMessage{}
		}
	}
	return nil
}

func (s *Store) ListVotes(ctx context.Context, key string) ([]engine.Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[key]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]engine.Vote{}, s.votes[key]...), nil
}

func (s *Store) AppendMessage(ctx context.Context, msg engine.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := channelKey{session: msg.SessionKey, channel: msg.Channel}
	log, ok := s.chat[k]
	if !ok {
		return store.ErrNotFound
	}
	s.chat[k] = append(log, msg)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, key string, ch engine.Channel) ([]engine.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.chat[channelKey{session: key, channel: ch}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]engine.ChatMessage{}, log...), nil
}

func (s *Store) Close() error { return nil }
