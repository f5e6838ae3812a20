// Package service exposes the public game operations. It resolves the lobby
// for a session, loading it from storage on first use, and funnels every
// mutation through that lobby.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mafia-backend/internal/auth"
	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/failure"
	"github.com/DoyleJ11/mafia-backend/internal/hub"
	"github.com/DoyleJ11/mafia-backend/internal/lobby"
	"github.com/DoyleJ11/mafia-backend/internal/store"
)

const (
	keyLength   = 6
	keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	keyAttempts = 8
)

var (
	ErrSessionNotFound = failure.New(failure.CodeNotFound, "game not found")
	ErrUnavailable     = failure.New(failure.CodeStorage, "game is temporarily unavailable")
)

// GenerateKey returns a random session key. The alphabet leaves out
// characters that are easy to misread (0/O, 1/I).
func GenerateKey() (string, error) {
	code := make([]byte, keyLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = keyAlphabet[num.Int64()]
	}
	return string(code), nil
}

type Options struct {
	Engine *engine.Engine
	Store  store.Store
	Hub    *hub.Hub
	Logger *zap.Logger
	Clock  func() time.Time
	KeyGen func() (string, error)
}

type Service struct {
	engine *engine.Engine
	store  store.Store
	hub    *hub.Hub
	logger *zap.Logger
	now    func() time.Time
	newKey func() (string, error)
}

func New(opts Options) *Service {
	s := &Service{
		engine: opts.Engine,
		store:  opts.Store,
		hub:    opts.Hub,
		logger: opts.Logger,
		now:    opts.Clock,
		newKey: opts.KeyGen,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newKey == nil {
		s.newKey = GenerateKey
	}
	return s
}

func actor(id auth.Identity) engine.Actor {
	return engine.Actor{UserID: id.ID, Name: id.Name}
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return failure.Wrap(failure.CodeNotFound, ErrSessionNotFound.Message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return failure.Wrap(failure.CodeStorage, ErrUnavailable.Message, err)
	}
}

// CreateSession creates a game hosted by id.
func (s *Service) CreateSession(ctx context.Context, id auth.Identity, name string, totalSlots int) (engine.Session, error) {
	now := s.now().UTC()
	for attempt := 0; attempt < keyAttempts; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return engine.Session{}, failure.Wrap(failure.CodeUnknown, "failed to generate game key", err)
		}

		sess, err := s.engine.NewSession(key, name, totalSlots, actor(id), now)
		if err != nil {
			return engine.Session{}, err
		}

		err = s.store.CreateSession(ctx, sess)
		if errors.Is(err, store.ErrDuplicateKey) {
			s.logger.Debug("session key collision, regenerating", zap.String("session", key))
			continue
		}
		if err != nil {
			return engine.Session{}, storeErr(err)
		}

		if _, err := s.askHub(ctx, func(reply chan *lobby.Lobby) hub.HubMsg {
			return hub.CreateLobby{State: sess, Reply: reply}
		}); err != nil {
			return engine.Session{}, err
		}
		s.logger.Info("session created",
			zap.String("session", key),
			zap.String("host", id.ID),
			zap.Int("slots", totalSlots))
		return sess, nil
	}
	return engine.Session{}, failure.New(failure.CodeUnknown, "could not allocate a unique game key")
}

// GetSession reads the committed snapshot. The store is written before a
// lobby publishes, so it is never behind what subscribers have seen.
func (s *Service) GetSession(ctx context.Context, key string) (engine.Session, error) {
	sess, err := s.store.GetSession(ctx, key)
	if err != nil {
		return engine.Session{}, storeErr(err)
	}
	return sess, nil
}

func (s *Service) Join(ctx context.Context, id auth.Identity, key string) (engine.Session, error) {
	return s.mutate(ctx, key, engine.Command{Type: engine.CmdJoin, Actor: actor(id)})
}

func (s *Service) Start(ctx context.Context, id auth.Identity, key string) (engine.Session, error) {
	return s.mutate(ctx, key, engine.Command{Type: engine.CmdStart, Actor: actor(id)})
}

func (s *Service) SubmitAction(ctx context.Context, id auth.Identity, key string, action engine.ActionType, targetID string) (engine.Session, error) {
	return s.mutate(ctx, key, engine.Command{
		Type:     engine.CmdSubmitAction,
		Actor:    actor(id),
		Action:   action,
		TargetID: targetID,
	})
}

// CastVote records a ballot. An empty targetID is a skip.
func (s *Service) CastVote(ctx context.Context, id auth.Identity, key, targetID string) (engine.Session, error) {
	return s.mutate(ctx, key, engine.Command{Type: engine.CmdCastVote, Actor: actor(id), TargetID: targetID})
}

// AdvancePhase moves the game on by one phase. The lobby serializes callers:
// with an expectedVersion only the first caller that saw that version
// advances, and without one the phase must have run out, which the first
// advance resets. Either way racing callers advance once.
func (s *Service) AdvancePhase(ctx context.Context, id auth.Identity, key string, expectedVersion int) (engine.Session, error) {
	if expectedVersion < 0 {
		return engine.Session{}, failure.New(failure.CodeValidation, "expectedVersion must not be negative")
	}
	return s.mutate(ctx, key, engine.Command{
		Type:          engine.CmdAdvancePhase,
		Actor:         actor(id),
		ExpectVersion: expectedVersion,
	})
}

func (s *Service) PostChat(ctx context.Context, id auth.Identity, key, channel, text string) (engine.ChatMessage, error) {
	ch, err := engine.ParseChannel(channel)
	if err != nil {
		return engine.ChatMessage{}, err
	}
	res, err := withLobby(ctx, s, key, func(reply chan lobby.ChatResult) lobby.Msg {
		return lobby.PostChat{ID: uuid.NewString(), Actor: actor(id), Channel: ch, Text: text, Reply: reply}
	})
	if err != nil {
		return engine.ChatMessage{}, err
	}
	return res.Message, res.Err
}

// ListChat returns a channel's messages oldest first.
func (s *Service) ListChat(ctx context.Context, id auth.Identity, key, channel string) ([]engine.ChatMessage, error) {
	ch, err := engine.ParseChannel(channel)
	if err != nil {
		return nil, err
	}
	if id.ID == "" {
		return nil, engine.ErrUnauthenticated
	}
	sess, err := s.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := sess.ChatAccess(id.ID, ch); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, key, ch)
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure.Wrap(failure.CodeNotFound, "chat channel not found", err)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return msgs, nil
}

// VoteHistory returns every vote ever cast in the session, superseded and
// pruned ones included.
func (s *Service) VoteHistory(ctx context.Context, id auth.Identity, key string) (engine.Session, []engine.Vote, error) {
	if id.ID == "" {
		return engine.Session{}, nil, engine.ErrUnauthenticated
	}
	sess, err := s.GetSession(ctx, key)
	if err != nil {
		return engine.Session{}, nil, err
	}
	if _, ok := sess.Player(id.ID); !ok {
		return engine.Session{}, nil, engine.ErrNotPlayer
	}
	votes, err := s.store.ListVotes(ctx, key)
	if err != nil {
		return engine.Session{}, nil, storeErr(err)
	}
	return sess, votes, nil
}

func (s *Service) mutate(ctx context.Context, key string, cmd engine.Command) (engine.Session, error) {
	res, err := withLobby(ctx, s, key, func(reply chan lobby.Result) lobby.Msg {
		return lobby.Mutate{Cmd: cmd, Reply: reply}
	})
	if err != nil {
		return engine.Session{}, err
	}
	if res.Err != nil {
		return engine.Session{}, res.Err
	}
	if res.State.Status == engine.StatusEnded && engine.ContainsEvent(res.Events, engine.EvtGameEnded) {
		s.logger.Info("game ended",
			zap.String("session", key),
			zap.String("winner", string(res.State.Winner)),
			zap.Int("round", res.State.Round))
		s.removeLobby(ctx, key)
	}
	return res.State, nil
}

func (s *Service) removeLobby(ctx context.Context, key string) {
	select {
	case s.hub.Inbox() <- hub.RemoveLobby{Key: key}:
	case <-s.hub.Done():
	case <-ctx.Done():
	}
}

var errLobbyStopped = errors.New("lobby stopped")

// withLobby sends one request to the session's lobby and waits for the
// reply. A lobby that stops underneath the request (e.g. removed after its
// game ended) is reloaded and asked once more.
func withLobby[T any](ctx context.Context, s *Service, key string, build func(chan T) lobby.Msg) (T, error) {
	var zero T
	for attempt := 0; attempt < 2; attempt++ {
		lb, err := s.lobbyFor(ctx, key)
		if err != nil {
			return zero, err
		}
		res, err := ask(ctx, lb, build)
		if errors.Is(err, errLobbyStopped) {
			continue
		}
		return res, err
	}
	return zero, ErrUnavailable
}

func ask[T any](ctx context.Context, lb *lobby.Lobby, build func(chan T) lobby.Msg) (T, error) {
	var zero T
	reply := make(chan T, 1)
	select {
	case lb.Inbox() <- build(reply):
	case <-lb.Done():
		return zero, errLobbyStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-lb.Done():
		return zero, errLobbyStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// lobbyFor returns the running lobby for key, loading the session from
// storage when none is running. Loading happens on the caller's goroutine
// so the hub never blocks on I/O.
func (s *Service) lobbyFor(ctx context.Context, key string) (*lobby.Lobby, error) {
	lb, err := s.askHub(ctx, func(reply chan *lobby.Lobby) hub.HubMsg {
		return hub.GetLobby{Key: key, Reply: reply}
	})
	if err != nil || lb != nil {
		return lb, err
	}

	sess, err := s.store.GetSession(ctx, key)
	if err != nil {
		return nil, storeErr(err)
	}
	return s.askHub(ctx, func(reply chan *lobby.Lobby) hub.HubMsg {
		return hub.EnsureLobby{State: sess, Reply: reply}
	})
}

func (s *Service) askHub(ctx context.Context, build func(chan *lobby.Lobby) hub.HubMsg) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case s.hub.Inbox() <- build(reply):
	case <-s.hub.Done():
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-s.hub.Done():
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
